// Package queue is the publish/subscribe layer between the registration API and the
// greeting worker. A Manager owns the single broker connection and a Registry of
// per-queue channels; Publisher and Subscriber are built on top of that Registry.
//
// Broker drivers live in subpackages (rabbitmq, kafka, memory) and implement the
// Broker, Conn and Channel interfaces below.
package queue

import (
	"context"
	"time"
)

// Broker dials a connection to a message broker.
type Broker interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is a single logical link to the broker. All channels are derived from it.
type Conn interface {
	// Channel opens a new multiplexed channel over the connection.
	Channel(ctx context.Context) (Channel, error)

	// NotifyClose yields a non-nil error once if the connection is lost and is then
	// closed. An orderly Close closes it without sending a value.
	NotifyClose() <-chan error

	Close() error
}

// Channel is a communication path bound to one queue name.
type Channel interface {
	// DeclareQueue asserts that the queue exists. Declaring an existing queue is a no-op.
	DeclareQueue(ctx context.Context, name string) error

	Publish(ctx context.Context, queue string, msg Message) error

	// Consume starts delivering messages from the queue. The returned channel is
	// closed when the broker cancels the consumer or the channel is closed.
	Consume(ctx context.Context, queue string) (<-chan Delivery, error)

	// Ack acknowledges the delivery identified by tag.
	Ack(ctx context.Context, tag uint64) error

	Close() error
}

// Message is the unit handed to the broker.
type Message struct {
	ID          string
	ContentType string
	Body        []byte
	Timestamp   time.Time
}

// Delivery is a message received from the broker, tagged for acknowledgment.
type Delivery struct {
	Message
	Tag         uint64
	Redelivered bool
}
