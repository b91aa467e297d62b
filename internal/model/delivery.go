package model

import (
	"time"

	"github.com/google/uuid"
)

type DeliveryStatus string

const (
	DeliveryStatusPending DeliveryStatus = "pending"
	DeliveryStatusSent    DeliveryStatus = "sent"
	// DeliveryStatusFailed is retry-eligible, the loop picks it up again.
	DeliveryStatusFailed DeliveryStatus = "failed"
	// DeliveryStatusAbandoned is the terminal failure state, reached only when a
	// failure limit is configured.
	DeliveryStatusAbandoned DeliveryStatus = "abandoned"
	// DeliveryStatusSuppressed retires an unsent delivery whose notification was
	// covered by a more specific one planned later for the same target.
	DeliveryStatusSuppressed DeliveryStatus = "suppressed"
)

var deliveryTransitions = map[DeliveryStatus][]DeliveryStatus{
	DeliveryStatusPending: {DeliveryStatusSent, DeliveryStatusFailed, DeliveryStatusAbandoned, DeliveryStatusSuppressed},
	DeliveryStatusFailed:  {DeliveryStatusSent, DeliveryStatusFailed, DeliveryStatusAbandoned, DeliveryStatusSuppressed},
}

// CanTransition reports whether a delivery in status s may move to next.
func (s DeliveryStatus) CanTransition(next DeliveryStatus) bool {
	for _, allowed := range deliveryTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s DeliveryStatus) IsTerminal() bool {
	switch s {
	case DeliveryStatusSent, DeliveryStatusAbandoned, DeliveryStatusSuppressed:
		return true
	}
	return false
}

// Sendable reports whether the loop may still send a delivery in status s.
func (s DeliveryStatus) Sendable() bool {
	return s == DeliveryStatusPending || s == DeliveryStatusFailed
}

// Delivery is the obligation to send one notification through one transport.
type Delivery struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	NotificationID uuid.UUID      `db:"notification_id" json:"notification_id"`
	TransportID    uuid.UUID      `db:"transport_id" json:"transport_id"`
	Status         DeliveryStatus `db:"status" json:"status"`
	NextTryTime    time.Time      `db:"next_try_time" json:"next_try_time"`
	SentAt         *time.Time     `db:"sent_at" json:"sent_at,omitempty"`
	FailsCount     int            `db:"fails_count" json:"fails_count"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`

	Notification *Notification `db:"-" json:"notification,omitempty"`
	Transport    *Transport    `db:"-" json:"transport,omitempty"`
}

// NewDelivery builds a pending delivery of n through t, due at sendAt.
func NewDelivery(n *Notification, t *Transport, sendAt time.Time) *Delivery {
	return &Delivery{
		ID:             uuid.New(),
		NotificationID: n.ID,
		TransportID:    t.ID,
		Status:         DeliveryStatusPending,
		NextTryTime:    sendAt,
		CreatedAt:      time.Now(),
		Notification:   n,
		Transport:      t,
	}
}

// DeliveryIDs collects ids in order.
func DeliveryIDs(deliveries []*Delivery) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(deliveries))
	for _, d := range deliveries {
		ids = append(ids, d.ID)
	}
	return ids
}
