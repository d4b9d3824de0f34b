package queue

import (
	"context"
	"time"
)

// Envelope is a received message as seen by a Handler.
type Envelope struct {
	Queue       string
	DeliveryTag uint64
	MessageID   string
	Timestamp   time.Time
	Redelivered bool
	Body        []byte

	codec Codec
}

// Decode unmarshals the payload into v with the subscriber's codec. The delivery's
// content type is not consulted; publishers and subscribers of a queue must agree
// on the codec.
func (e Envelope) Decode(v any) error {
	codec := e.codec
	if codec == nil {
		codec = Msgpack
	}
	return codec.Unmarshal(e.Body, v)
}

// Handler processes one delivered message. A returned error is logged; the message
// is acknowledged either way.
type Handler interface {
	Handle(ctx context.Context, env Envelope) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env Envelope) error

func (f HandlerFunc) Handle(ctx context.Context, env Envelope) error {
	return f(ctx, env)
}

// Typed decodes the payload into T before calling fn. A payload that does not decode
// into T is reported as a handler failure.
func Typed[T any](fn func(ctx context.Context, env Envelope, payload T) error) Handler {
	return HandlerFunc(func(ctx context.Context, env Envelope) error {
		var payload T
		if err := env.Decode(&payload); err != nil {
			return err
		}
		return fn(ctx, env, payload)
	})
}
