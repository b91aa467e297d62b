package email

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/samstikhin/ulearn-notifier/pkg/logger"
)

var (
	ErrFailedToSendEmail = errors.New("failed to send email")
	ErrInvalidConfig     = errors.New("invalid email config")
	ErrInvalidMessage    = errors.New("invalid email message")
)

type Provider string

const (
	ProviderSMTP     Provider = "smtp"
	ProviderPostmark Provider = "postmark"
	// ProviderLog only logs messages. Used in development.
	ProviderLog Provider = "log"
)

type Config struct {
	Provider     Provider
	SenderEmail  string
	SenderName   string
	SupportEmail string

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string

	PostmarkServerToken  string
	PostmarkAccountToken string
}

type Message struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
	Tag      string
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("%w: recipient is required", ErrInvalidMessage)
	}
	if _, err := mail.ParseAddress(m.To); err != nil {
		return fmt.Errorf("%w: bad recipient %q", ErrInvalidMessage, m.To)
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidMessage)
	}
	if m.HTMLBody == "" && m.TextBody == "" {
		return fmt.Errorf("%w: body is required", ErrInvalidMessage)
	}
	return nil
}

type Service interface {
	Send(ctx context.Context, msg Message) error
}

// NewService builds the Service selected by config.Provider.
func NewService(config Config, log *logger.Logger) (Service, error) {
	switch config.Provider {
	case ProviderSMTP:
		return NewSMTPService(config)
	case ProviderPostmark:
		return NewPostmarkService(config)
	case ProviderLog, "":
		return NewLogService(log), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, config.Provider)
	}
}

func validateSender(config Config) error {
	if config.SenderEmail == "" {
		return fmt.Errorf("%w: sender email is required", ErrInvalidConfig)
	}
	if _, err := mail.ParseAddress(config.SenderEmail); err != nil {
		return fmt.Errorf("%w: sender email must be a valid email address", ErrInvalidConfig)
	}
	return nil
}

type LogService struct {
	logger *logger.Logger
}

func NewLogService(log *logger.Logger) *LogService {
	return &LogService{logger: log}
}

func (s *LogService) Send(_ context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.logger.Info("Email not sent, log provider",
		"to", msg.To,
		"subject", msg.Subject,
		"tag", msg.Tag)
	return nil
}
