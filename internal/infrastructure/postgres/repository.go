package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vn.io.arda/greeting/internal/domain"
)

// Repository is the PostgreSQL implementation of domain.GreetingRepository.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new postgres Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Claim inserts a PENDING ledger row for the message, or takes over an existing
// row left PENDING for longer than input.ReclaimAfter.
func (r *Repository) Claim(ctx context.Context, input domain.ClaimGreetingInput) (*domain.Greeting, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO greetings (message_id, username, email, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id) DO UPDATE SET claimed_at = NOW()
			WHERE greetings.status = $4
			AND greetings.claimed_at < NOW() - make_interval(secs => $5)
		RETURNING id, message_id, username, email, status, error, created_at, claimed_at, sent_at
	`, input.MessageID, input.Username, input.Email, string(domain.GreetingPending), input.ReclaimAfter.Seconds())

	g, err := scanGreeting(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Message already claimed by an earlier delivery that is done or still recent
			return nil, nil
		}
		return nil, fmt.Errorf("claim greeting: %w", err)
	}
	return g, nil
}

// MarkSent records a successful delivery.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE greetings SET status = $1, error = '', sent_at = $2 WHERE id = $3
	`, string(domain.GreetingSent), time.Now(), id)
	if err != nil {
		return fmt.Errorf("mark greeting sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("greeting %s not found", id)
	}
	return nil
}

// MarkFailed records a failed delivery and its reason.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE greetings SET status = $1, error = $2 WHERE id = $3
	`, string(domain.GreetingFailed), reason, id)
	if err != nil {
		return fmt.Errorf("mark greeting failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("greeting %s not found", id)
	}
	return nil
}

// PurgeOlderThan deletes ledger rows older than the given number of days.
func (r *Repository) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM greetings WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge greetings: %w", err)
	}
	return tag.RowsAffected(), nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanGreeting(row scannable) (*domain.Greeting, error) {
	var g domain.Greeting
	var status string
	err := row.Scan(&g.ID, &g.MessageID, &g.Username, &g.Email, &status, &g.Error, &g.CreatedAt, &g.ClaimedAt, &g.SentAt)
	if err != nil {
		return nil, err
	}
	g.Status = domain.GreetingStatus(status)
	return &g, nil
}

var _ domain.GreetingRepository = (*Repository)(nil)
