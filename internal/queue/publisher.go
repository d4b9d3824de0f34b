package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Publisher serializes payloads and hands them to the broker. It does not wait for
// consumers; once the broker accepts a message, durability is the broker's concern.
type Publisher struct {
	registry *Registry
	codec    Codec
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithPublisherCodec overrides the default msgpack codec.
func WithPublisherCodec(c Codec) PublisherOption {
	return func(p *Publisher) { p.codec = c }
}

// NewPublisher creates a Publisher that obtains channels from registry.
func NewPublisher(registry *Registry, opts ...PublisherOption) *Publisher {
	p := &Publisher{registry: registry, codec: Msgpack}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish encodes payload and submits it to queueName. Encoding failures return
// ErrSerialization and nothing reaches the broker. A missing channel returns
// ErrChannelCreation; a rejected submission returns ErrDelivery. Nothing is retried.
func (p *Publisher) Publish(ctx context.Context, queueName string, payload any) error {
	body, err := p.codec.Marshal(payload)
	if err != nil {
		if !errors.Is(err, ErrSerialization) {
			err = fmt.Errorf("%w: %w", ErrSerialization, err)
		}
		return err
	}

	ch, err := p.registry.Channel(ctx, queueName)
	if err != nil {
		return err
	}

	msg := Message{
		ID:          uuid.NewString(),
		ContentType: p.codec.ContentType(),
		Body:        body,
		Timestamp:   time.Now().UTC(),
	}

	if err := ch.Publish(ctx, queueName, msg); err != nil {
		log.Error().Err(err).Str("queue", queueName).Str("message_id", msg.ID).Msg("publish rejected")
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}

	log.Info().
		Str("queue", queueName).
		Str("message_id", msg.ID).
		Int("bytes", len(body)).
		Msg("message published")
	return nil
}
