package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Manager establishes and holds the single broker connection of a process and owns
// the Registry of channels derived from it.
type Manager struct {
	broker Broker

	retries         uint64
	initialInterval time.Duration
	maxInterval     time.Duration

	mu         sync.RWMutex
	conn       Conn
	connecting bool
	closed     bool
	done       chan error

	registry *Registry
}

// Option configures a Manager.
type Option func(*Manager)

// WithConnectRetries sets how many times Connect retries a failed dial before giving up.
// Zero (the default) means a single attempt.
func WithConnectRetries(n uint64) Option {
	return func(m *Manager) { m.retries = n }
}

// WithConnectBackoff sets the exponential backoff bounds between dial attempts.
func WithConnectBackoff(initial, max time.Duration) Option {
	return func(m *Manager) {
		if initial > 0 {
			m.initialInterval = initial
		}
		if max > 0 {
			m.maxInterval = max
		}
	}
}

// NewManager creates a Manager for the given broker. No connection is made until Connect.
func NewManager(broker Broker, opts ...Option) *Manager {
	m := &Manager{
		broker:          broker,
		initialInterval: 500 * time.Millisecond,
		maxInterval:     10 * time.Second,
		done:            make(chan error, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.registry = newRegistry(m.openChannel)
	return m
}

// Connect dials the broker. It returns ErrAlreadyConnected if a connection exists or
// is being established, and an ErrConnection-wrapped error if the broker cannot be
// reached after the configured retries.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return fmt.Errorf("%w: manager is closed", ErrConnection)
	case m.conn != nil || m.connecting:
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.connecting = true
	m.mu.Unlock()

	conn, err := m.dial(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.connecting = false

	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	if m.closed {
		_ = conn.Close()
		return fmt.Errorf("%w: manager is closed", ErrConnection)
	}

	m.conn = conn
	go m.watch(conn)

	log.Info().Msg("broker connected")
	return nil
}

func (m *Manager) dial(ctx context.Context) (Conn, error) {
	var conn Conn
	attempt := 0

	op := func() error {
		attempt++
		c, err := m.broker.Dial(ctx)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("broker dial failed")
			return err
		}
		conn = c
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.initialInterval
	b.MaxInterval = m.maxInterval
	b.MaxElapsedTime = 0

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, m.retries), ctx)); err != nil {
		return nil, err
	}
	return conn, nil
}

// watch waits for the connection to end. A lost connection is reported on Done and
// the cached channels are dropped.
func (m *Manager) watch(conn Conn) {
	var lost error
	for err := range conn.NotifyClose() {
		if err != nil && lost == nil {
			lost = fmt.Errorf("%w: %w", ErrConnection, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == conn {
		m.conn = nil
		m.registry.reset()
	}
	if lost != nil && !m.closed {
		log.Error().Err(lost).Msg("broker connection lost")
		select {
		case m.done <- lost:
		default:
		}
	}
}

// Done reports a lost connection. It is closed when the Manager is closed.
func (m *Manager) Done() <-chan error {
	return m.done
}

// Connected reports whether a broker connection is currently established.
func (m *Manager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn != nil
}

// Registry returns the channel registry bound to this Manager's connection.
func (m *Manager) Registry() *Registry {
	return m.registry
}

func (m *Manager) openChannel(ctx context.Context) (Channel, error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil {
		return nil, ErrNotConnected
	}
	return conn.Channel(ctx)
}

// Close closes every cached channel and then the connection. The Manager cannot be
// reconnected afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conn := m.conn
	m.conn = nil
	close(m.done)
	m.mu.Unlock()

	var errs []error
	for _, ch := range m.registry.reset() {
		if err := ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	log.Info().Msg("broker connection closed")
	return errors.Join(errs...)
}
