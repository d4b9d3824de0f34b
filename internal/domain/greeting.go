package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// GreetingStatus is the outcome of a welcome email.
type GreetingStatus string

const (
	GreetingPending GreetingStatus = "PENDING"
	GreetingSent    GreetingStatus = "SENT"
	GreetingFailed  GreetingStatus = "FAILED"
)

// Greeting is a delivery ledger entry: one row per greetings message handled by the
// worker. The ledger lets a redelivered message be recognised and skipped.
type Greeting struct {
	ID        uuid.UUID      `json:"id"`
	MessageID string         `json:"message_id"`
	Username  string         `json:"username"`
	Email     string         `json:"email"`
	Status    GreetingStatus `json:"status"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	ClaimedAt time.Time      `json:"claimed_at"`
	SentAt    *time.Time     `json:"sent_at,omitempty"`
}

// ClaimGreetingInput identifies the message being greeted.
type ClaimGreetingInput struct {
	MessageID string
	Username  string
	Email     string
	// ReclaimAfter lets a PENDING entry claimed longer ago than this be claimed
	// again, so a worker that died between claim and send does not lose the email.
	ReclaimAfter time.Duration
}

// GreetingRepository is the port for the delivery ledger.
// Implementations live in infrastructure/postgres.
type GreetingRepository interface {
	// Claim records a PENDING entry for the message. It returns nil, nil when the
	// message was already claimed, unless that claim is still PENDING and older
	// than input.ReclaimAfter.
	Claim(ctx context.Context, input ClaimGreetingInput) (*Greeting, error)

	// MarkSent flags the entry as delivered.
	MarkSent(ctx context.Context, id uuid.UUID) error

	// MarkFailed flags the entry as failed with a reason.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error

	// PurgeOlderThan deletes entries older than the given number of days.
	PurgeOlderThan(ctx context.Context, days int) (int64, error)
}
