package application

import (
	"context"

	"vn.io.arda/greeting/internal/infrastructure/mail"
)

// EventPublisher puts a payload on a named queue.
// The default implementation is queue.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, queue string, payload any) error
}

// Mailer delivers a rendered email. Implementations live in infrastructure/mail.
type Mailer interface {
	Send(ctx context.Context, e mail.Email) error
}
