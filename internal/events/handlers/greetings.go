// Package handlers holds the queue handlers run by the worker.
package handlers

import (
	"context"

	"vn.io.arda/greeting/internal/domain"
	"vn.io.arda/greeting/internal/queue"
)

// Greeter is the use-case invoked for each greetings event.
type Greeter interface {
	Greet(ctx context.Context, messageID string, reg domain.Registration) error
}

// Greetings decodes a registration and hands it to g.
func Greetings(g Greeter) queue.Handler {
	return queue.Typed(func(ctx context.Context, env queue.Envelope, reg domain.Registration) error {
		return g.Greet(ctx, env.MessageID, reg)
	})
}
