package application

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"vn.io.arda/greeting/internal/domain"
	"vn.io.arda/greeting/internal/infrastructure/mail"
	"vn.io.arda/greeting/internal/messages"
)

// ErrMissingEmail is returned for a greetings event without an email address.
var ErrMissingEmail = errors.New("registration has no email address")

const welcomeTag = "welcome"

// DefaultReclaimAfter is how long a PENDING ledger entry blocks redeliveries of its
// message before another delivery may claim it.
const DefaultReclaimAfter = 10 * time.Minute

// GreetingService sends the welcome email for queued registrations.
type GreetingService struct {
	mailer       Mailer
	repo         domain.GreetingRepository // nil when the ledger is disabled
	reclaimAfter time.Duration
}

// GreetingOption configures a GreetingService.
type GreetingOption func(*GreetingService)

// WithReclaimAfter overrides DefaultReclaimAfter. Non-positive values are ignored.
func WithReclaimAfter(d time.Duration) GreetingOption {
	return func(s *GreetingService) {
		if d > 0 {
			s.reclaimAfter = d
		}
	}
}

// NewGreetingService creates a GreetingService. repo may be nil.
func NewGreetingService(mailer Mailer, repo domain.GreetingRepository, opts ...GreetingOption) *GreetingService {
	s := &GreetingService{mailer: mailer, repo: repo, reclaimAfter: DefaultReclaimAfter}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Greet emails the registered user. A message already present in the ledger is
// skipped. Send failures are logged and recorded, not returned: the message is
// acknowledged either way.
func (s *GreetingService) Greet(ctx context.Context, messageID string, reg domain.Registration) error {
	if reg.Email == "" {
		return ErrMissingEmail
	}

	entry, skip := s.claim(ctx, messageID, reg)
	if skip {
		log.Info().Str("message_id", messageID).Msg("greeting already handled, skipping")
		return nil
	}

	subject, text, html := messages.Welcome(reg.Username)
	err := s.mailer.Send(ctx, mail.Email{
		To:      reg.Email,
		Subject: subject,
		Text:    text,
		HTML:    html,
		Tag:     welcomeTag,
	})
	if err != nil {
		log.Error().Err(err).
			Str("message_id", messageID).
			Str("email", reg.Email).
			Msg("welcome email failed")
		s.record(ctx, entry, err)
		return nil
	}

	log.Info().
		Str("message_id", messageID).
		Str("username", reg.Username).
		Str("email", reg.Email).
		Msg("welcome email sent")
	s.record(ctx, entry, nil)
	return nil
}

// claim reserves the message in the ledger. skip is true for a duplicate. A
// ledger failure is logged and the email is sent anyway.
func (s *GreetingService) claim(ctx context.Context, messageID string, reg domain.Registration) (entry *domain.Greeting, skip bool) {
	if s.repo == nil || messageID == "" {
		return nil, false
	}

	entry, err := s.repo.Claim(ctx, domain.ClaimGreetingInput{
		MessageID:    messageID,
		Username:     reg.Username,
		Email:        reg.Email,
		ReclaimAfter: s.reclaimAfter,
	})
	if err != nil {
		log.Warn().Err(err).Str("message_id", messageID).Msg("greeting ledger unavailable")
		return nil, false
	}
	return entry, entry == nil
}

func (s *GreetingService) record(ctx context.Context, entry *domain.Greeting, sendErr error) {
	if entry == nil {
		return
	}

	var err error
	if sendErr != nil {
		err = s.repo.MarkFailed(ctx, entry.ID, sendErr.Error())
	} else {
		err = s.repo.MarkSent(ctx, entry.ID)
	}
	if err != nil {
		log.Error().Err(err).Str("message_id", entry.MessageID).Msg("greeting ledger update failed")
	}
}

// PurgeTTL deletes old ledger entries. Called by a background scheduler.
func (s *GreetingService) PurgeTTL(ctx context.Context, days int) {
	if s.repo == nil {
		return
	}
	count, err := s.repo.PurgeOlderThan(ctx, days)
	if err != nil {
		log.Error().Err(err).Msg("greeting TTL purge failed")
		return
	}
	log.Info().Int64("deleted", count).Int("older_than_days", days).Msg("greeting TTL purge completed")
}
