// Package smtp delivers notification mails through an SMTP relay.
package smtp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wneessen/go-mail"
)

// DefaultPort is the submission port used with STARTTLS.
const DefaultPort = 587

// Config holds relay settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Sender   string
	Timeout  time.Duration
}

// Mailer implements stages.Mailer.
type Mailer struct {
	cfg  Config
	dial func(ctx context.Context, msg *mail.Msg) error
}

// New validates cfg and builds a mailer.
func New(cfg Config) (*Mailer, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp: host is required")
	}
	if cfg.Sender == "" {
		return nil, errors.New("smtp: sender address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	m := &Mailer{cfg: cfg}
	m.dial = m.dialAndSend
	return m, nil
}

// Send implements stages.Mailer.
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	msg, err := buildMessage(m.cfg.Sender, to, subject, body)
	if err != nil {
		return err
	}
	if err := m.dial(ctx, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}

	log.Info().Str("to", to).Str("host", m.cfg.Host).Msg("Mail sent")
	return nil
}

func (m *Mailer) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTimeout(m.cfg.Timeout),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}

func buildMessage(from, to, subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", from, err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}
