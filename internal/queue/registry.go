package queue

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Registry lazily creates, caches and hands out the Channel for a queue name.
// Concurrent first use of the same name creates exactly one Channel; different
// names are created independently.
type Registry struct {
	open func(ctx context.Context) (Channel, error)

	mu       sync.RWMutex
	channels map[string]Channel
	group    singleflight.Group
}

func newRegistry(open func(ctx context.Context) (Channel, error)) *Registry {
	return &Registry{
		open:     open,
		channels: make(map[string]Channel),
	}
}

// Channel returns the cached Channel for queueName, opening and declaring it on first
// use. It fails with ErrChannelCreation when no connection is established or the
// broker refuses the channel.
//
// Callers racing on the same name share one creation, which is detached from any
// single caller's cancellation. Each caller still stops waiting when its own ctx ends.
func (r *Registry) Channel(ctx context.Context, queueName string) (Channel, error) {
	if ch, ok := r.lookup(queueName); ok {
		return ch, nil
	}

	res := r.group.DoChan(queueName, func() (any, error) {
		return r.create(context.WithoutCancel(ctx), queueName)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrChannelCreation, ctx.Err())
	case out := <-res:
		if out.Err != nil {
			return nil, out.Err
		}
		return out.Val.(Channel), nil
	}
}

func (r *Registry) create(ctx context.Context, queueName string) (Channel, error) {
	if ch, ok := r.lookup(queueName); ok {
		return ch, nil
	}

	ch, err := r.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChannelCreation, err)
	}
	if err := ch.DeclareQueue(ctx, queueName); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%w: declare queue %q: %w", ErrChannelCreation, queueName, err)
	}

	r.mu.Lock()
	r.channels[queueName] = ch
	r.mu.Unlock()
	return ch, nil
}

func (r *Registry) lookup(queueName string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[queueName]
	return ch, ok
}

// Len returns the number of cached channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// reset empties the registry and returns the channels it held.
func (r *Registry) reset() []Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Channel, 0, len(r.channels))
	for name, ch := range r.channels {
		out = append(out, ch)
		delete(r.channels, name)
	}
	return out
}
