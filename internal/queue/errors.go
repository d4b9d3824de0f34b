package queue

import "errors"

// Errors returned by the queue layer. They are wrapped with the underlying cause, so
// callers match them with errors.Is.
var (
	// ErrConnection means the broker connection could not be established or was lost.
	// It is fatal for the owning process.
	ErrConnection = errors.New("queue: connection error")

	// ErrChannelCreation means the broker refused a channel or no connection exists.
	ErrChannelCreation = errors.New("queue: channel creation error")

	// ErrSerialization means a payload could not be encoded or decoded.
	ErrSerialization = errors.New("queue: serialization error")

	// ErrDelivery means the broker rejected a publish.
	ErrDelivery = errors.New("queue: delivery error")

	// ErrHandler wraps failures of an event handler for a delivered message.
	ErrHandler = errors.New("queue: handler error")

	ErrAlreadyConnected = errors.New("queue: already connected")
	ErrNotConnected     = errors.New("queue: not connected")
)
