// Package events runs the worker's queue subscriptions.
package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"vn.io.arda/greeting/internal/events/registry"
	"vn.io.arda/greeting/internal/queue"
)

// Subscriber is satisfied by queue.Subscriber.
type Subscriber interface {
	Subscribe(ctx context.Context, queueName string, h queue.Handler) (*queue.Subscription, error)
}

// Consumer subscribes every queue in a registry.
type Consumer struct {
	subscriber Subscriber
	routes     *registry.Registry
}

// New creates a Consumer.
func New(subscriber Subscriber, routes *registry.Registry) *Consumer {
	return &Consumer{subscriber: subscriber, routes: routes}
}

// Start subscribes every registered queue and blocks until ctx is cancelled or
// every subscription has ended. A queue whose consumer the broker cancels stops on
// its own; the others keep running. Only a failed subscribe is an error.
func (c *Consumer) Start(ctx context.Context) error {
	queues := c.routes.Queues()
	if len(queues) == 0 {
		return errors.New("events: no handlers registered")
	}

	subs := make([]*queue.Subscription, 0, len(queues))
	for _, name := range queues {
		h, _ := c.routes.Handler(name)
		sub, err := c.subscriber.Subscribe(ctx, name, h)
		if err != nil {
			return fmt.Errorf("subscribe %q: %w", name, err)
		}
		subs = append(subs, sub)
	}
	log.Info().Strs("queues", queues).Msg("event consumer started")

	var g errgroup.Group
	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			select {
			case <-sub.Done():
				if ctx.Err() == nil {
					log.Warn().Str("queue", sub.Queue()).Msg("subscription ended by broker")
				}
			case <-ctx.Done():
			}
			return nil
		})
	}

	_ = g.Wait()
	log.Info().Msg("event consumer stopped")
	return nil
}
