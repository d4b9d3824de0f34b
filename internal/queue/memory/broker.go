// Package memory is an in-process broker for development and tests.
//
// It keeps the semantics the queue layer relies on: durable queues that buffer
// messages until a consumer attaches, per-delivery tags, manual acknowledgment,
// requeue of unacknowledged messages when their channel closes, and a closed
// delivery channel when the broker cancels a consumer.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"vn.io.arda/greeting/internal/queue"
)

var errClosed = errors.New("memory: channel is closed")

// Broker is a single-process message broker. The zero value is not usable; call New.
type Broker struct {
	mu sync.Mutex

	queues  map[string]*mqueue
	conns   map[*conn]struct{}
	unacked map[uint64]inflight
	nextTag uint64

	dials       int
	dialFails   int
	dialErr     error
	channelErr  error
	publishErrs map[string]error
}

type mqueue struct {
	name      string
	cond      *sync.Cond
	ready     []queue.Delivery
	consumers map[*consumer]struct{}
	published int
	acked     int
}

type inflight struct {
	d queue.Delivery
	q *mqueue
	c *consumer
	// sending marks a delivery the pump has not yet handed over.
	sending bool
}

type consumer struct {
	q         *mqueue
	ch        *channel
	out       chan queue.Delivery
	stop      chan struct{}
	cancelled bool
}

// New creates an empty Broker.
func New() *Broker {
	return &Broker{
		queues:      make(map[string]*mqueue),
		conns:       make(map[*conn]struct{}),
		unacked:     make(map[uint64]inflight),
		publishErrs: make(map[string]error),
	}
}

// Dial opens a connection to the broker.
func (b *Broker) Dial(ctx context.Context) (queue.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.dials++
	if b.dialErr != nil && b.dialFails != 0 {
		if b.dialFails > 0 {
			b.dialFails--
		}
		return nil, b.dialErr
	}

	c := &conn{b: b, notify: make(chan error, 1)}
	b.conns[c] = struct{}{}
	return c, nil
}

func (b *Broker) declare(name string) *mqueue {
	q, ok := b.queues[name]
	if !ok {
		q = &mqueue{
			name:      name,
			cond:      sync.NewCond(&b.mu),
			consumers: make(map[*consumer]struct{}),
		}
		b.queues[name] = q
	}
	return q
}

// pump moves ready messages of the consumer's queue to its delivery channel.
func (b *Broker) pump(c *consumer) {
	defer close(c.out)

	for {
		b.mu.Lock()
		for len(c.q.ready) == 0 && !c.cancelled {
			c.q.cond.Wait()
		}
		if c.cancelled {
			b.mu.Unlock()
			return
		}

		d := c.q.ready[0]
		c.q.ready = c.q.ready[1:]
		b.nextTag++
		d.Tag = b.nextTag
		b.unacked[d.Tag] = inflight{d: d, q: c.q, c: c, sending: true}
		b.mu.Unlock()

		sent := false
		select {
		case c.out <- d:
			sent = true
		case <-c.stop:
		}

		b.mu.Lock()
		b.settle(c, d, sent)
		stop := c.cancelled
		b.mu.Unlock()
		if stop {
			return
		}
	}
}

// settle resolves the delivery the pump just tried to hand over. A delivery that
// reached the consumer stays unacknowledged until it is acked or its channel
// closes; one that never left is requeued. Callers hold b.mu.
func (b *Broker) settle(c *consumer, d queue.Delivery, sent bool) {
	inf, ok := b.unacked[d.Tag]
	if !ok {
		// already acked, or requeued by a channel close
		return
	}
	if sent {
		inf.sending = false
		b.unacked[d.Tag] = inf
		return
	}
	delete(b.unacked, d.Tag)
	b.requeue(c.q, []queue.Delivery{d})
}

// cancel stops a consumer. Messages it already received stay unacknowledged on
// its channel. Callers hold b.mu.
func (b *Broker) cancel(c *consumer) {
	if c.cancelled {
		return
	}
	c.cancelled = true
	close(c.stop)
	delete(c.q.consumers, c)
	c.q.cond.Broadcast()
}

// requeueChannel returns every unacknowledged message delivered on ch to the front
// of its queue, in original order. Callers hold b.mu.
func (b *Broker) requeueChannel(ch *channel) {
	var tags []uint64
	for tag, inf := range b.unacked {
		if inf.c.ch == ch {
			tags = append(tags, tag)
		}
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })

	byQueue := make(map[*mqueue][]queue.Delivery)
	var order []*mqueue
	for _, tag := range tags {
		inf := b.unacked[tag]
		delete(b.unacked, tag)
		if _, ok := byQueue[inf.q]; !ok {
			order = append(order, inf.q)
		}
		byQueue[inf.q] = append(byQueue[inf.q], inf.d)
	}
	for _, q := range order {
		b.requeue(q, byQueue[q])
	}
}

// requeue puts ds back at the front of q marked as redelivered. Callers hold b.mu.
func (b *Broker) requeue(q *mqueue, ds []queue.Delivery) {
	back := make([]queue.Delivery, 0, len(ds)+len(q.ready))
	for _, d := range ds {
		d.Tag = 0
		d.Redelivered = true
		back = append(back, d)
	}
	q.ready = append(back, q.ready...)
	q.cond.Broadcast()
}

func (b *Broker) closeConn(c *conn, cause error) {
	if c.closed {
		return
	}
	c.closed = true
	for _, ch := range c.channels {
		b.closeChannel(ch)
	}
	c.channels = nil
	delete(b.conns, c)

	if cause != nil {
		c.notify <- cause
	}
	close(c.notify)
}

func (b *Broker) closeChannel(ch *channel) {
	if ch.closed {
		return
	}
	ch.closed = true
	for _, c := range ch.consumers {
		b.cancel(c)
	}
	ch.consumers = nil
	b.requeueChannel(ch)
}

// FailDials makes the next n dials fail with err. A negative n fails every dial
// until FailDials(0, nil) is called.
func (b *Broker) FailDials(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialFails = n
	b.dialErr = err
}

// FailChannels makes opening channels fail with err. A nil err clears it.
func (b *Broker) FailChannels(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channelErr = err
}

// RejectPublishes makes publishes to the named queue fail with err. A nil err clears it.
func (b *Broker) RejectPublishes(name string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.publishErrs, name)
		return
	}
	b.publishErrs[name] = err
}

// Disconnect drops every open connection with cause, as a fatal I/O error would.
func (b *Broker) Disconnect(cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.conns {
		b.closeConn(c, cause)
	}
}

// CancelConsumers cancels every consumer of the named queue, as a broker-side
// cancellation would. Their delivery channels are closed.
func (b *Broker) CancelConsumers(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return
	}
	for c := range q.consumers {
		b.cancel(c)
	}
}

// Dials returns the number of Dial attempts.
func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// Published returns how many messages were accepted on the named queue.
func (b *Broker) Published(name string) int {
	return b.stat(name, func(q *mqueue) int { return q.published })
}

// Acked returns how many messages of the named queue were acknowledged.
func (b *Broker) Acked(name string) int {
	return b.stat(name, func(q *mqueue) int { return q.acked })
}

// Ready returns how many messages of the named queue wait for a consumer.
func (b *Broker) Ready(name string) int {
	return b.stat(name, func(q *mqueue) int { return len(q.ready) })
}

// Unacked returns how many delivered messages of the named queue await acknowledgment.
func (b *Broker) Unacked(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, inf := range b.unacked {
		if inf.q.name == name {
			n++
		}
	}
	return n
}

func (b *Broker) stat(name string, fn func(*mqueue) int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return 0
	}
	return fn(q)
}

type conn struct {
	b        *Broker
	closed   bool
	notify   chan error
	channels []*channel
}

func (c *conn) Channel(ctx context.Context) (queue.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.b.mu.Lock()
	defer c.b.mu.Unlock()

	if c.closed {
		return nil, errors.New("memory: connection is closed")
	}
	if c.b.channelErr != nil {
		return nil, c.b.channelErr
	}

	ch := &channel{b: c.b, conn: c}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *conn) NotifyClose() <-chan error {
	return c.notify
}

func (c *conn) Close() error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.b.closeConn(c, nil)
	return nil
}

type channel struct {
	b         *Broker
	conn      *conn
	closed    bool
	consumers []*consumer
}

func (ch *channel) DeclareQueue(_ context.Context, name string) error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()

	if ch.closed {
		return errClosed
	}
	ch.b.declare(name)
	return nil
}

func (ch *channel) Publish(_ context.Context, name string, msg queue.Message) error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()

	if ch.closed {
		return errClosed
	}
	if err := ch.b.publishErrs[name]; err != nil {
		return err
	}
	q, ok := ch.b.queues[name]
	if !ok {
		return fmt.Errorf("memory: queue %q not declared", name)
	}

	q.ready = append(q.ready, queue.Delivery{Message: msg})
	q.published++
	q.cond.Broadcast()
	return nil
}

func (ch *channel) Consume(ctx context.Context, name string) (<-chan queue.Delivery, error) {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()

	if ch.closed {
		return nil, errClosed
	}
	q, ok := ch.b.queues[name]
	if !ok {
		return nil, fmt.Errorf("memory: queue %q not declared", name)
	}

	c := &consumer{
		q:    q,
		ch:   ch,
		out:  make(chan queue.Delivery),
		stop: make(chan struct{}),
	}
	q.consumers[c] = struct{}{}
	ch.consumers = append(ch.consumers, c)

	go ch.b.pump(c)
	go func() {
		select {
		case <-ctx.Done():
			ch.b.mu.Lock()
			ch.b.cancel(c)
			ch.b.mu.Unlock()
		case <-c.stop:
		}
	}()

	return c.out, nil
}

func (ch *channel) Ack(_ context.Context, tag uint64) error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()

	if ch.closed {
		return errClosed
	}
	inf, ok := ch.b.unacked[tag]
	if !ok || inf.c.ch != ch {
		return fmt.Errorf("memory: unknown delivery tag %d", tag)
	}
	delete(ch.b.unacked, tag)
	inf.q.acked++
	return nil
}

func (ch *channel) Close() error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	ch.b.closeChannel(ch)
	return nil
}
