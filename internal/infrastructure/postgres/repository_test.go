package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vn.io.arda/greeting/internal/domain"
	"vn.io.arda/greeting/internal/infrastructure/postgres"
)

// newRepo connects to GREETING_TEST_DATABASE_DSN and applies the schema. Tests are
// skipped when it is unset.
func newRepo(t *testing.T) (*postgres.Repository, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("GREETING_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("GREETING_TEST_DATABASE_DSN not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	schema, err := os.ReadFile("../../../migrations/001_greetings.sql")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(schema))
	require.NoError(t, err)

	return postgres.New(pool), pool
}

func claimInput(id string) domain.ClaimGreetingInput {
	return domain.ClaimGreetingInput{
		MessageID:    id,
		Username:     "alice",
		Email:        "a@x.io",
		ReclaimAfter: time.Minute,
	}
}

func TestClaim_DuplicateReturnsNil(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()
	id := uuid.NewString()

	g, err := repo.Claim(ctx, claimInput(id))
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, domain.GreetingPending, g.Status)

	again, err := repo.Claim(ctx, claimInput(id))
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestClaim_ReclaimsStalePending(t *testing.T) {
	repo, pool := newRepo(t)
	ctx := context.Background()
	id := uuid.NewString()

	first, err := repo.Claim(ctx, claimInput(id))
	require.NoError(t, err)
	require.NotNil(t, first)

	_, err = pool.Exec(ctx, `UPDATE greetings SET claimed_at = NOW() - INTERVAL '1 hour' WHERE message_id = $1`, id)
	require.NoError(t, err)

	again, err := repo.Claim(ctx, claimInput(id))
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, first.ID, again.ID)
}

func TestClaim_SentIsNeverReclaimed(t *testing.T) {
	repo, pool := newRepo(t)
	ctx := context.Background()
	id := uuid.NewString()

	g, err := repo.Claim(ctx, claimInput(id))
	require.NoError(t, err)
	require.NoError(t, repo.MarkSent(ctx, g.ID))

	_, err = pool.Exec(ctx, `UPDATE greetings SET claimed_at = NOW() - INTERVAL '1 hour' WHERE message_id = $1`, id)
	require.NoError(t, err)

	again, err := repo.Claim(ctx, claimInput(id))
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestMarkFailedAndPurge(t *testing.T) {
	repo, pool := newRepo(t)
	ctx := context.Background()
	id := uuid.NewString()

	g, err := repo.Claim(ctx, claimInput(id))
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, g.ID, "smtp down"))

	var status, reason string
	require.NoError(t, pool.QueryRow(ctx, `SELECT status, error FROM greetings WHERE id = $1`, g.ID).Scan(&status, &reason))
	assert.Equal(t, string(domain.GreetingFailed), status)
	assert.Equal(t, "smtp down", reason)

	_, err = pool.Exec(ctx, `UPDATE greetings SET created_at = NOW() - INTERVAL '40 days' WHERE id = $1`, g.ID)
	require.NoError(t, err)
	deleted, err := repo.PurgeOlderThan(ctx, 30)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, deleted, int64(1))

	assert.Error(t, repo.MarkSent(ctx, g.ID))
}
