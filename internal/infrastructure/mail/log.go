package mail

import (
	"context"

	"github.com/rs/zerolog/log"
)

// LogSender writes emails to the log instead of sending them. Used in development.
type LogSender struct{}

func NewLogSender() *LogSender { return &LogSender{} }

func (LogSender) Send(_ context.Context, e Email) error {
	if err := e.Validate(); err != nil {
		return err
	}
	log.Info().
		Str("to", e.To).
		Str("subject", e.Subject).
		Str("tag", e.Tag).
		Str("text", e.Text).
		Msg("email (not sent, log provider)")
	return nil
}
