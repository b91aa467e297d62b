package transport

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/samstikhin/ulearn-notifier/internal/email"
	"github.com/samstikhin/ulearn-notifier/internal/model"
)

// MailSender turns deliveries into emails; a batch becomes one digest email.
type MailSender struct {
	service   email.Service
	formatter Formatter
	limiter   *rate.Limiter
}

var _ Sender = (*MailSender)(nil)

// NewMailSender limits sending to ratePerSecond emails; zero means no limit.
func NewMailSender(service email.Service, formatter Formatter, ratePerSecond float64) *MailSender {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
	}
	return &MailSender{
		service:   service,
		formatter: formatter,
		limiter:   limiter,
	}
}

func (s *MailSender) SendOne(ctx context.Context, d *model.Delivery) error {
	if err := checkDelivery(d); err != nil {
		return err
	}
	content, err := s.formatter.Format(d.Notification)
	if err != nil {
		return err
	}
	return s.send(ctx, d.Transport.Address, content, string(d.Notification.Kind))
}

func (s *MailSender) SendBatch(ctx context.Context, ds []*model.Delivery) error {
	transport, err := batchTransport(ds)
	if err != nil {
		return err
	}
	content, err := s.formatter.FormatBatch(notificationsOf(ds))
	if err != nil {
		return err
	}
	return s.send(ctx, transport.Address, content, string(ds[0].Notification.Kind))
}

func (s *MailSender) send(ctx context.Context, to string, content Content, tag string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return s.service.Send(ctx, email.Message{
		To:       to,
		Subject:  content.Subject,
		HTMLBody: content.HTML,
		TextBody: content.Text,
		Tag:      tag,
	})
}
