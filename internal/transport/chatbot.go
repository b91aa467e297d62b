package transport

import (
	"context"

	"github.com/google/uuid"

	"github.com/samstikhin/ulearn-notifier/internal/model"
	"github.com/samstikhin/ulearn-notifier/pkg/messaging"
)

const chatBotMessageType = "notification"

// ChatBotMessage is consumed by the bot process, which owns the chat API.
type ChatBotMessage struct {
	ChatID          string      `json:"chat_id"`
	Text            string      `json:"text"`
	HTML            string      `json:"html"`
	NotificationIDs []uuid.UUID `json:"notification_ids"`
}

// ChatBotSender publishes deliveries to the bot channel; a batch becomes one
// digest message.
type ChatBotSender struct {
	broker    messaging.Broker
	channel   string
	formatter Formatter
}

var _ Sender = (*ChatBotSender)(nil)

func NewChatBotSender(broker messaging.Broker, channel string, formatter Formatter) *ChatBotSender {
	return &ChatBotSender{
		broker:    broker,
		channel:   channel,
		formatter: formatter,
	}
}

func (s *ChatBotSender) SendOne(ctx context.Context, d *model.Delivery) error {
	if err := checkDelivery(d); err != nil {
		return err
	}
	content, err := s.formatter.Format(d.Notification)
	if err != nil {
		return err
	}
	return s.publish(ctx, d.Transport.Address, content, []uuid.UUID{d.NotificationID})
}

func (s *ChatBotSender) SendBatch(ctx context.Context, ds []*model.Delivery) error {
	transport, err := batchTransport(ds)
	if err != nil {
		return err
	}
	content, err := s.formatter.FormatBatch(notificationsOf(ds))
	if err != nil {
		return err
	}
	ids := make([]uuid.UUID, 0, len(ds))
	for _, d := range ds {
		ids = append(ids, d.NotificationID)
	}
	return s.publish(ctx, transport.Address, content, ids)
}

func (s *ChatBotSender) publish(ctx context.Context, chatID string, content Content, ids []uuid.UUID) error {
	return s.broker.Publish(ctx, s.channel, messaging.Message{
		Type: chatBotMessageType,
		Payload: ChatBotMessage{
			ChatID:          chatID,
			Text:            content.Text,
			HTML:            content.HTML,
			NotificationIDs: ids,
		},
	})
}
