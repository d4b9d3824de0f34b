package queue_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vn.io.arda/greeting/internal/queue"
	"vn.io.arda/greeting/internal/queue/memory"
)

type profile struct {
	Age       int               `msgpack:"age"`
	Interests []string          `msgpack:"interests"`
	Links     map[string]string `msgpack:"links"`
}

type registration struct {
	Username string   `msgpack:"username"`
	Password string   `msgpack:"password"`
	Email    string   `msgpack:"email"`
	Profile  *profile `msgpack:"profile,omitempty"`
}

// connected returns a broker and a Manager already connected to it.
func connected(t *testing.T, opts ...queue.Option) (*memory.Broker, *queue.Manager) {
	t.Helper()
	b := memory.New()
	m := queue.NewManager(b, opts...)
	require.NoError(t, m.Connect(context.Background()))
	t.Cleanup(func() { _ = m.Close() })
	return b, m
}

// countingBroker counts the channels opened and the queues declared through its
// connections.
type countingBroker struct {
	queue.Broker
	opened   atomic.Int32
	declared atomic.Int32
}

func (b *countingBroker) Dial(ctx context.Context) (queue.Conn, error) {
	c, err := b.Broker.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return &countingConn{Conn: c, b: b}, nil
}

type countingConn struct {
	queue.Conn
	b *countingBroker
}

func (c *countingConn) Channel(ctx context.Context) (queue.Channel, error) {
	c.b.opened.Add(1)
	ch, err := c.Conn.Channel(ctx)
	if err != nil {
		return nil, err
	}
	return &countingChannel{Channel: ch, declared: &c.b.declared}, nil
}

type countingChannel struct {
	queue.Channel
	declared *atomic.Int32
}

func (c *countingChannel) DeclareQueue(ctx context.Context, name string) error {
	c.declared.Add(1)
	return c.Channel.DeclareQueue(ctx, name)
}

// countingCodec wraps Msgpack and counts Unmarshal calls.
type countingCodec struct {
	decoded atomic.Int32
}

func (c *countingCodec) ContentType() string { return "application/x-counted" }
func (c *countingCodec) Marshal(v any) ([]byte, error) { return queue.Msgpack.Marshal(v) }
func (c *countingCodec) Unmarshal(data []byte, v any) error {
	c.decoded.Add(1)
	return queue.Msgpack.Unmarshal(data, v)
}

// slowBroker delays channel creation. The delay honours the ctx handed to Channel.
type slowBroker struct {
	queue.Broker
	delay time.Duration
}

func (b *slowBroker) Dial(ctx context.Context) (queue.Conn, error) {
	c, err := b.Broker.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return &slowConn{Conn: c, delay: b.delay}, nil
}

type slowConn struct {
	queue.Conn
	delay time.Duration
}

func (c *slowConn) Channel(ctx context.Context) (queue.Channel, error) {
	select {
	case <-time.After(c.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c.Conn.Channel(ctx)
}
