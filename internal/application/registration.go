package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"vn.io.arda/greeting/internal/domain"
)

// ErrNotQueued is returned when a valid registration could not be handed to the broker.
var ErrNotQueued = errors.New("registration could not be queued")

// RegistrationService accepts registrations and queues them for the worker.
type RegistrationService struct {
	publisher EventPublisher
	queue     string
}

// NewRegistrationService creates a RegistrationService publishing to queueName.
func NewRegistrationService(publisher EventPublisher, queueName string) *RegistrationService {
	if queueName == "" {
		queueName = domain.EventGreetings
	}
	return &RegistrationService{publisher: publisher, queue: queueName}
}

// Register validates reg and publishes it. Validation failures wrap
// domain.ErrInvalidRegistration; broker failures wrap ErrNotQueued.
func (s *RegistrationService) Register(ctx context.Context, reg domain.Registration) error {
	if err := reg.Validate(); err != nil {
		return err
	}

	if err := s.publisher.Publish(ctx, s.queue, reg); err != nil {
		return fmt.Errorf("%w: %w", ErrNotQueued, err)
	}

	log.Info().
		Str("queue", s.queue).
		Str("username", reg.Username).
		Msg("registration queued")
	return nil
}
