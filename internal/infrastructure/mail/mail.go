// Package mail sends the welcome email through SMTP, Postmark, or the log in
// development.
package mail

import (
	"context"
	"errors"
	"fmt"

	"vn.io.arda/greeting/internal/config"
)

// Errors define mail failures; they are joined with the transport error for context.
var (
	ErrFailedToSend  = errors.New("failed to send email")
	ErrInvalidConfig = errors.New("invalid email configuration")
	ErrInvalidParams = errors.New("invalid email parameters")
)

// Email is one outgoing message.
type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
	Tag     string
}

// Validate checks the fields every transport needs.
func (e Email) Validate() error {
	if e.To == "" {
		return fmt.Errorf("%w: recipient is required", ErrInvalidParams)
	}
	if e.Subject == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidParams)
	}
	if e.Text == "" && e.HTML == "" {
		return fmt.Errorf("%w: body is required", ErrInvalidParams)
	}
	return nil
}

// Sender delivers an Email.
type Sender interface {
	Send(ctx context.Context, e Email) error
}

// New builds the Sender selected by cfg.Provider.
func New(cfg config.MailConfig) (Sender, error) {
	switch cfg.Provider {
	case "smtp", "":
		return NewSMTP(cfg)
	case "postmark":
		return NewPostmark(cfg)
	case "log":
		return NewLogSender(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
