// Package mail delivers cascade emails.
package mail

import (
	"context"
	"fmt"

	"github.com/meikuraledutech/flow"
	"github.com/rs/zerolog"
	gomail "github.com/wneessen/go-mail"
)

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTP sends mail through an SMTP relay, one connection per message.
type SMTP struct {
	client *gomail.Client
	from   string
}

// NewSMTP creates an SMTP mailer. Authentication is used when a username is set.
func NewSMTP(cfg Config) (*SMTP, error) {
	opts := []gomail.Option{gomail.WithTLSPortPolicy(gomail.TLSOpportunistic)}
	if cfg.Port != 0 {
		opts = append(opts, gomail.WithPort(cfg.Port))
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("flow: smtp client: %w", err)
	}
	return &SMTP{client: client, from: cfg.From}, nil
}

// Send delivers e as a plain text message.
func (s *SMTP) Send(ctx context.Context, e flow.Email) error {
	msg, err := message(s.from, e)
	if err != nil {
		return err
	}
	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("flow: send mail: %w", err)
	}
	return nil
}

func message(from string, e flow.Email) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("flow: mail from %q: %w", from, err)
	}
	if err := msg.To(e.To); err != nil {
		return nil, fmt.Errorf("flow: mail to %q: %w", e.To, err)
	}
	msg.Subject(e.Subject)
	msg.SetBodyString(gomail.TypeTextPlain, e.Body)
	return msg, nil
}

// Log writes emails to a logger instead of sending them.
type Log struct {
	logger zerolog.Logger
}

// NewLog creates a logging mailer.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger}
}

// Send logs e.
func (l *Log) Send(_ context.Context, e flow.Email) error {
	l.logger.Info().Str("to", e.To).Str("subject", e.Subject).Msg("email not sent, no smtp host configured")
	return nil
}
