package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"
)

var ErrDisabled = errors.New("email delivery is disabled")

type Service interface {
	Send(ctx context.Context, to, subject, body string) error
}

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// Dialer is the part of gomail.Dialer we use.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type smtpService struct {
	dialer Dialer
	from   string
	logger zerolog.Logger
}

// NewSMTPService returns a gomail backed sender. With no host configured it
// returns a sender that reports ErrDisabled.
func NewSMTPService(cfg Config, logger zerolog.Logger) Service {
	logger = logger.With().Str("component", "email").Logger()
	if cfg.Host == "" {
		return disabled{}
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &smtpService{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		from:   cfg.From,
		logger: logger,
	}
}

// NewService is used by tests to inject a Dialer.
func NewService(dialer Dialer, from string, logger zerolog.Logger) Service {
	return &smtpService{dialer: dialer, from: from, logger: logger}
}

func (s *smtpService) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	s.logger.Debug().Str("subject", subject).Msg("email sent")
	return nil
}

type disabled struct{}

func (disabled) Send(ctx context.Context, to, subject, body string) error { return ErrDisabled }
