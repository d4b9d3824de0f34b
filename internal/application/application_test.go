package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vn.io.arda/greeting/internal/application"
	"vn.io.arda/greeting/internal/domain"
	"vn.io.arda/greeting/internal/infrastructure/mail"
)

type fakePublisher struct {
	err      error
	queue    string
	payloads []any
}

func (p *fakePublisher) Publish(_ context.Context, queue string, payload any) error {
	if p.err != nil {
		return p.err
	}
	p.queue = queue
	p.payloads = append(p.payloads, payload)
	return nil
}

type fakeMailer struct {
	err  error
	sent []mail.Email
}

func (m *fakeMailer) Send(_ context.Context, e mail.Email) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, e)
	return nil
}

type fakeLedger struct {
	mu       sync.Mutex
	claimErr error
	byMsg    map[string]*domain.Greeting
	purged   int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{byMsg: make(map[string]*domain.Greeting)}
}

func (l *fakeLedger) Claim(_ context.Context, in domain.ClaimGreetingInput) (*domain.Greeting, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.claimErr != nil {
		return nil, l.claimErr
	}
	if g, ok := l.byMsg[in.MessageID]; ok {
		if g.Status != domain.GreetingPending || time.Since(g.ClaimedAt) < in.ReclaimAfter {
			return nil, nil
		}
		g.ClaimedAt = time.Now()
		return g, nil
	}
	g := &domain.Greeting{
		ID:        uuid.New(),
		MessageID: in.MessageID,
		Username:  in.Username,
		Email:     in.Email,
		Status:    domain.GreetingPending,
		ClaimedAt: time.Now(),
	}
	l.byMsg[in.MessageID] = g
	return g, nil
}

func (l *fakeLedger) find(id uuid.UUID) *domain.Greeting {
	for _, g := range l.byMsg {
		if g.ID == id {
			return g
		}
	}
	return nil
}

func (l *fakeLedger) MarkSent(_ context.Context, id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.find(id).Status = domain.GreetingSent
	return nil
}

func (l *fakeLedger) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	g := l.find(id)
	g.Status = domain.GreetingFailed
	g.Error = reason
	return nil
}

func (l *fakeLedger) PurgeOlderThan(_ context.Context, days int) (int64, error) {
	l.purged = days
	return 3, nil
}

var alice = domain.Registration{Username: "alice", Password: "pw", Email: "a@x.io"}

func TestRegister_PublishesToQueue(t *testing.T) {
	pub := &fakePublisher{}
	svc := application.NewRegistrationService(pub, "greetings")

	require.NoError(t, svc.Register(context.Background(), alice))
	assert.Equal(t, "greetings", pub.queue)
	require.Len(t, pub.payloads, 1)
	assert.Equal(t, alice, pub.payloads[0])
}

func TestRegister_RejectsMissingFields(t *testing.T) {
	pub := &fakePublisher{}
	svc := application.NewRegistrationService(pub, "")

	err := svc.Register(context.Background(), domain.Registration{Username: "bob"})
	assert.ErrorIs(t, err, domain.ErrInvalidRegistration)
	assert.Empty(t, pub.payloads)
}

func TestRegister_PublishFailure(t *testing.T) {
	boom := errors.New("channel closed")
	svc := application.NewRegistrationService(&fakePublisher{err: boom}, "greetings")

	err := svc.Register(context.Background(), alice)
	assert.ErrorIs(t, err, application.ErrNotQueued)
	assert.ErrorIs(t, err, boom)
}

func TestGreet_SendsWelcomeEmail(t *testing.T) {
	m := &fakeMailer{}
	svc := application.NewGreetingService(m, nil)

	require.NoError(t, svc.Greet(context.Background(), "m-1", alice))
	require.Len(t, m.sent, 1)
	assert.Equal(t, "a@x.io", m.sent[0].To)
	assert.Equal(t, "Спасибо за регистрацию!", m.sent[0].Subject)
	assert.Contains(t, m.sent[0].HTML, "alice")
}

func TestGreet_MissingEmail(t *testing.T) {
	m := &fakeMailer{}
	svc := application.NewGreetingService(m, nil)

	err := svc.Greet(context.Background(), "m-1", domain.Registration{Username: "alice"})
	assert.ErrorIs(t, err, application.ErrMissingEmail)
	assert.Empty(t, m.sent)
}

func TestGreet_SendFailureIsNotReturned(t *testing.T) {
	ledger := newFakeLedger()
	svc := application.NewGreetingService(&fakeMailer{err: errors.New("smtp down")}, ledger)

	require.NoError(t, svc.Greet(context.Background(), "m-1", alice))
	g := ledger.byMsg["m-1"]
	require.NotNil(t, g)
	assert.Equal(t, domain.GreetingFailed, g.Status)
	assert.Equal(t, "smtp down", g.Error)
}

func TestGreet_SkipsDuplicateMessage(t *testing.T) {
	ledger := newFakeLedger()
	m := &fakeMailer{}
	svc := application.NewGreetingService(m, ledger)

	require.NoError(t, svc.Greet(context.Background(), "m-1", alice))
	require.NoError(t, svc.Greet(context.Background(), "m-1", alice))

	assert.Len(t, m.sent, 1)
	assert.Equal(t, domain.GreetingSent, ledger.byMsg["m-1"].Status)
}

func TestGreet_ReclaimsStalePendingEntry(t *testing.T) {
	ledger := newFakeLedger()
	// a worker claimed the message an hour ago and died before sending
	ledger.byMsg["m-1"] = &domain.Greeting{
		ID:        uuid.New(),
		MessageID: "m-1",
		Status:    domain.GreetingPending,
		ClaimedAt: time.Now().Add(-time.Hour),
	}
	m := &fakeMailer{}
	svc := application.NewGreetingService(m, ledger, application.WithReclaimAfter(time.Minute))

	require.NoError(t, svc.Greet(context.Background(), "m-1", alice))
	assert.Len(t, m.sent, 1)
	assert.Equal(t, domain.GreetingSent, ledger.byMsg["m-1"].Status)
}

func TestGreet_SkipsRecentPendingEntry(t *testing.T) {
	ledger := newFakeLedger()
	ledger.byMsg["m-1"] = &domain.Greeting{
		ID:        uuid.New(),
		MessageID: "m-1",
		Status:    domain.GreetingPending,
		ClaimedAt: time.Now(),
	}
	m := &fakeMailer{}
	svc := application.NewGreetingService(m, ledger)

	require.NoError(t, svc.Greet(context.Background(), "m-1", alice))
	assert.Empty(t, m.sent)
}

func TestGreet_LedgerFailureStillSends(t *testing.T) {
	ledger := newFakeLedger()
	ledger.claimErr = errors.New("db down")
	m := &fakeMailer{}
	svc := application.NewGreetingService(m, ledger)

	require.NoError(t, svc.Greet(context.Background(), "m-1", alice))
	assert.Len(t, m.sent, 1)
}

func TestPurgeTTL(t *testing.T) {
	ledger := newFakeLedger()
	svc := application.NewGreetingService(&fakeMailer{}, ledger)
	svc.PurgeTTL(context.Background(), 30)
	assert.Equal(t, 30, ledger.purged)

	// no ledger configured
	application.NewGreetingService(&fakeMailer{}, nil).PurgeTTL(context.Background(), 30)
}
