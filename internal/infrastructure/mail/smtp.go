package mail

import (
	"context"
	"errors"
	"fmt"
	"time"

	gomail "github.com/wneessen/go-mail"

	"vn.io.arda/greeting/internal/config"
)

// SMTPSender sends mail over SMTP. It supports implicit TLS, STARTTLS and plain
// connections.
type SMTPSender struct {
	client   *gomail.Client
	from     string
	fromName string
}

// NewSMTP creates an SMTP sender. No connection is made until the first Send.
func NewSMTP(cfg config.MailConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%w: port must be between 1 and 65535", ErrInvalidConfig)
	}
	if cfg.Sender() == "" {
		return nil, fmt.Errorf("%w: sender address is required", ErrInvalidConfig)
	}

	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTimeout(30 * time.Second),
	}
	if cfg.User != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.User),
			gomail.WithPassword(cfg.Password),
		)
	}

	switch cfg.TLSMode {
	case "tls", "":
		opts = append(opts, gomail.WithSSL())
	case "starttls":
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	case "plain":
		opts = append(opts, gomail.WithTLSPolicy(gomail.NoTLS))
	default:
		return nil, fmt.Errorf("%w: tls_mode must be tls, starttls or plain", ErrInvalidConfig)
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	return &SMTPSender{client: client, from: cfg.Sender(), fromName: cfg.FromName}, nil
}

// Send delivers e over a fresh SMTP session.
func (s *SMTPSender) Send(ctx context.Context, e Email) error {
	if err := e.Validate(); err != nil {
		return err
	}

	m := gomail.NewMsg()
	if err := m.FromFormat(s.fromName, s.from); err != nil {
		return errors.Join(ErrInvalidParams, err)
	}
	if err := m.To(e.To); err != nil {
		return errors.Join(ErrInvalidParams, err)
	}
	m.Subject(e.Subject)
	if e.Text != "" {
		m.SetBodyString(gomail.TypeTextPlain, e.Text)
		if e.HTML != "" {
			m.AddAlternativeString(gomail.TypeTextHTML, e.HTML)
		}
	} else {
		m.SetBodyString(gomail.TypeTextHTML, e.HTML)
	}

	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		return errors.Join(ErrFailedToSend, err)
	}
	return nil
}
