package queue

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Subscriber dispatches messages of a queue to a Handler and acknowledges them.
//
// Every message is acknowledged once the handler returns, whether it succeeded,
// failed or panicked. Handler failures therefore never cause redelivery; they are
// logged and passed to the optional error hook.
type Subscriber struct {
	registry *Registry
	codec    Codec
	onError  func(Envelope, error)
}

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*Subscriber)

// WithSubscriberCodec overrides the codec exposed through Envelope.Decode.
func WithSubscriberCodec(c Codec) SubscriberOption {
	return func(s *Subscriber) { s.codec = c }
}

// WithErrorHandler registers a hook called with every handler failure.
func WithErrorHandler(fn func(Envelope, error)) SubscriberOption {
	return func(s *Subscriber) { s.onError = fn }
}

// NewSubscriber creates a Subscriber that obtains channels from registry.
func NewSubscriber(registry *Registry, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{registry: registry, codec: Msgpack}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscription is a running delivery loop for one queue.
type Subscription struct {
	queue string
	done  chan struct{}
}

// Queue returns the subscribed queue name.
func (s *Subscription) Queue() string { return s.queue }

// Done is closed when the delivery loop stops, either because the broker cancelled
// the consumer or because the subscription context ended.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Subscribe starts a background loop that hands each message of queueName to h, one
// at a time and in broker order. The queue is declared by the registry when its
// channel is first opened. ctx bounds the lifetime of the loop.
func (s *Subscriber) Subscribe(ctx context.Context, queueName string, h Handler) (*Subscription, error) {
	ch, err := s.registry.Channel(ctx, queueName)
	if err != nil {
		return nil, err
	}
	deliveries, err := ch.Consume(ctx, queueName)
	if err != nil {
		return nil, fmt.Errorf("%w: consume %q: %w", ErrChannelCreation, queueName, err)
	}

	sub := &Subscription{queue: queueName, done: make(chan struct{})}
	go s.run(ctx, ch, sub, deliveries, h)

	log.Info().Str("queue", queueName).Msg("subscribed")
	return sub, nil
}

func (s *Subscriber) run(ctx context.Context, ch Channel, sub *Subscription, deliveries <-chan Delivery, h Handler) {
	defer close(sub.done)

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("queue", sub.queue).Msg("subscription stopped")
			return
		case d, ok := <-deliveries:
			if !ok {
				log.Info().Str("queue", sub.queue).Msg("consumer cancelled by broker")
				return
			}
			s.dispatch(ctx, ch, sub.queue, d, h)
		}
	}
}

func (s *Subscriber) dispatch(ctx context.Context, ch Channel, queueName string, d Delivery, h Handler) {
	env := Envelope{
		Queue:       queueName,
		DeliveryTag: d.Tag,
		MessageID:   d.ID,
		Timestamp:   d.Timestamp,
		Redelivered: d.Redelivered,
		Body:        d.Body,
		codec:       s.codec,
	}

	log.Info().
		Str("queue", queueName).
		Str("message_id", d.ID).
		Uint64("delivery_tag", d.Tag).
		Bool("redelivered", d.Redelivered).
		Msg("message received")

	if err := invoke(ctx, h, env); err != nil {
		log.Error().Err(err).
			Str("queue", queueName).
			Str("message_id", d.ID).
			Uint64("delivery_tag", d.Tag).
			Msg("handler failed, acknowledging anyway")
		if s.onError != nil {
			s.onError(env, err)
		}
	}

	if err := ch.Ack(context.WithoutCancel(ctx), d.Tag); err != nil {
		log.Error().Err(err).
			Str("queue", queueName).
			Uint64("delivery_tag", d.Tag).
			Msg("ack failed")
	}
}

// invoke runs the handler and converts errors and panics into ErrHandler.
func invoke(ctx context.Context, h Handler, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrHandler, r)
		}
	}()

	if herr := h.Handle(ctx, env); herr != nil {
		return fmt.Errorf("%w: %w", ErrHandler, herr)
	}
	return nil
}
