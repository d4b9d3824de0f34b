// Package kafka implements the queue driver interfaces on top of Kafka using franz-go.
//
// A queue maps to a topic. Each channel owns a producer client and, once Consume is
// called, a consumer-group client with auto-commit disabled: acknowledging a delivery
// commits that record's offset. Delivery tags are a per-channel sequence.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"vn.io.arda/greeting/internal/queue"
)

const (
	headerContentType = "content-type"
	headerMessageID   = "message-id"
)

// Config holds the Kafka settings.
type Config struct {
	Brokers       []string
	ConsumerGroup string
	ClientID      string
	// Partitions for declared topics. One partition keeps a single total order per queue.
	Partitions int32
	// ReplicationFactor for declared topics; -1 uses the broker default.
	ReplicationFactor int16
}

// Broker dials a Kafka cluster.
type Broker struct {
	cfg Config
}

// New creates a Broker for cfg.
func New(cfg Config) *Broker {
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}
	if cfg.ReplicationFactor == 0 {
		cfg.ReplicationFactor = -1
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "greeting-worker"
	}
	return &Broker{cfg: cfg}
}

func (b *Broker) baseOpts() []kgo.Opt {
	opts := []kgo.Opt{kgo.SeedBrokers(b.cfg.Brokers...)}
	if b.cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(b.cfg.ClientID))
	}
	return opts
}

// Dial creates an admin client and pings the seed brokers.
func (b *Broker) Dial(ctx context.Context) (queue.Conn, error) {
	if len(b.cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker address is required")
	}

	admin, err := kgo.NewClient(b.baseOpts()...)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	if err := admin.Ping(ctx); err != nil {
		admin.Close()
		return nil, fmt.Errorf("kafka ping: %w", err)
	}

	return &conn{
		b:      b,
		admin:  admin,
		adm:    kadm.NewClient(admin),
		notify: make(chan error, 1),
	}, nil
}

// conn groups the clients created for one logical connection. Kafka clients
// reconnect on their own, so NotifyClose only closes on an orderly Close.
type conn struct {
	b     *Broker
	admin *kgo.Client
	adm   *kadm.Client

	mu       sync.Mutex
	closed   bool
	channels []*channel
	notify   chan error
}

func (c *conn) Channel(_ context.Context) (queue.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errors.New("kafka: connection is closed")
	}

	producer, err := kgo.NewClient(append(c.b.baseOpts(), kgo.AllowAutoTopicCreation())...)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	ch := &channel{
		conn:     c,
		producer: producer,
		inflight: make(map[uint64]*kgo.Record),
		stop:     make(chan struct{}),
	}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *conn) NotifyClose() <-chan error {
	return c.notify
}

func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	channels := c.channels
	c.channels = nil
	c.mu.Unlock()

	for _, ch := range channels {
		_ = ch.Close()
	}
	c.admin.Close()
	close(c.notify)
	return nil
}

type channel struct {
	conn     *conn
	producer *kgo.Client

	mu       sync.Mutex
	consumer *kgo.Client
	inflight map[uint64]*kgo.Record
	nextTag  uint64
	stop     chan struct{}
	closed   bool
}

// DeclareQueue creates the topic. An existing topic is not an error.
func (c *channel) DeclareQueue(ctx context.Context, name string) error {
	resp, err := c.conn.adm.CreateTopic(ctx, c.conn.b.cfg.Partitions, c.conn.b.cfg.ReplicationFactor, nil, name)
	if err != nil {
		return fmt.Errorf("kafka create topic %q: %w", name, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("kafka create topic %q: %w", name, resp.Err)
	}
	return nil
}

func (c *channel) Publish(ctx context.Context, queueName string, msg queue.Message) error {
	rec := &kgo.Record{
		Topic:     queueName,
		Key:       []byte(msg.ID),
		Value:     msg.Body,
		Timestamp: msg.Timestamp,
		Headers: []kgo.RecordHeader{
			{Key: headerContentType, Value: []byte(msg.ContentType)},
			{Key: headerMessageID, Value: []byte(msg.ID)},
		},
	}
	if err := c.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("kafka produce %q: %w", queueName, err)
	}
	return nil
}

// Consume joins the consumer group for the topic and streams its records. The
// returned channel closes when the consumer client is closed or ctx ends.
func (c *channel) Consume(ctx context.Context, queueName string) (<-chan queue.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errors.New("kafka: channel is closed")
	}
	if c.consumer != nil {
		return nil, fmt.Errorf("kafka: channel already consuming")
	}

	consumer, err := kgo.NewClient(append(c.conn.b.baseOpts(),
		kgo.ConsumerGroup(c.conn.b.cfg.ConsumerGroup),
		kgo.ConsumeTopics(queueName),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)...)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	c.consumer = consumer

	out := make(chan queue.Delivery)
	go c.poll(ctx, consumer, out)
	return out, nil
}

func (c *channel) poll(ctx context.Context, consumer *kgo.Client, out chan<- queue.Delivery) {
	defer close(out)

	for {
		fetches := consumer.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			log.Error().Err(err).Str("topic", topic).Int32("partition", partition).Msg("kafka fetch error")
		})

		iter := fetches.RecordIter()
		for !iter.Done() {
			rec := iter.Next()
			d := c.track(rec)
			select {
			case out <- d:
			case <-c.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *channel) track(rec *kgo.Record) queue.Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextTag++
	c.inflight[c.nextTag] = rec
	return toDelivery(rec, c.nextTag)
}

// Ack commits the offset of the record delivered under tag.
func (c *channel) Ack(ctx context.Context, tag uint64) error {
	c.mu.Lock()
	rec, ok := c.inflight[tag]
	delete(c.inflight, tag)
	consumer := c.consumer
	c.mu.Unlock()

	if !ok || consumer == nil {
		return fmt.Errorf("kafka: unknown delivery tag %d", tag)
	}
	if err := consumer.CommitRecords(ctx, rec); err != nil {
		return fmt.Errorf("kafka commit: %w", err)
	}
	return nil
}

func (c *channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.stop)
	consumer := c.consumer
	c.mu.Unlock()

	if consumer != nil {
		consumer.Close()
	}
	c.producer.Close()
	return nil
}

func toDelivery(rec *kgo.Record, tag uint64) queue.Delivery {
	d := queue.Delivery{
		Message: queue.Message{
			Body:      rec.Value,
			Timestamp: rec.Timestamp,
		},
		Tag: tag,
	}
	for _, h := range rec.Headers {
		switch h.Key {
		case headerContentType:
			d.ContentType = string(h.Value)
		case headerMessageID:
			d.ID = string(h.Value)
		}
	}
	if d.ID == "" {
		d.ID = string(rec.Key)
	}
	return d
}
