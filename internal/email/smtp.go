package email

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/gomail.v2"
)

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type SMTPService struct {
	dialer dialer
	config Config
}

func NewSMTPService(config Config) (*SMTPService, error) {
	if config.SMTPHost == "" {
		return nil, fmt.Errorf("%w: SMTP host is required", ErrInvalidConfig)
	}
	if config.SMTPPort <= 0 {
		config.SMTPPort = 587
	}
	if err := validateSender(config); err != nil {
		return nil, err
	}
	return &SMTPService{
		dialer: gomail.NewDialer(config.SMTPHost, config.SMTPPort, config.SMTPUser, config.SMTPPassword),
		config: config,
	}, nil
}

// Send opens a connection per message. gomail has no context support, the
// context is only checked before dialing.
func (s *SMTPService) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.dialer.DialAndSend(s.build(msg)); err != nil {
		return errors.Join(ErrFailedToSendEmail, err)
	}
	return nil
}

func (s *SMTPService) build(msg Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.config.SenderEmail, s.config.SenderName)
	m.SetHeader("To", msg.To)
	if s.config.SupportEmail != "" {
		m.SetHeader("Reply-To", s.config.SupportEmail)
	}
	m.SetHeader("Subject", msg.Subject)
	switch {
	case msg.HTMLBody != "" && msg.TextBody != "":
		m.SetBody("text/plain", msg.TextBody)
		m.AddAlternative("text/html", msg.HTMLBody)
	case msg.HTMLBody != "":
		m.SetBody("text/html", msg.HTMLBody)
	default:
		m.SetBody("text/plain", msg.TextBody)
	}
	return m
}
