package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/samstikhin/ulearn-notifier/internal/model"
)

// PlanMark is the planning decision for one notification.
type PlanMark struct {
	NotificationID uuid.UUID
	Suppressed     bool
	Deliveries     []*model.Delivery
	// Supersedes lists kinds the notification blocks. Planned notifications of
	// those kinds for the same recipient and target get flagged suppressed
	// unless one of their deliveries was already sent, and their pending or
	// failed deliveries move to suppressed.
	Supersedes []model.Kind
}

type PlanOutcome struct {
	// Planned is false when the notification had been planned already.
	Planned bool
	// Retired counts deliveries moved to suppressed.
	Retired int
}

// All repository interfaces in one file
type (
	// NotificationRepository stores notification records. Records are never deleted.
	NotificationRepository interface {
		Create(ctx context.Context, notification *model.Notification) error
		GetNotification(ctx context.Context, id uuid.UUID) (*model.Notification, error)
		// GetPendingNotifications returns not yet planned notifications created
		// at or before createdBefore, oldest first.
		GetPendingNotifications(ctx context.Context, createdBefore time.Time, limit int) ([]*model.Notification, error)
		// ExistingKinds returns the kinds of already planned notifications for
		// the recipient and target, suppressed ones included.
		ExistingKinds(ctx context.Context, recipientUserID, targetKey string) ([]model.Kind, error)
		ExistsForTarget(ctx context.Context, kind model.Kind, targetKey string) (bool, error)
		// MarkPlanned stores deliveries, flags the notification as planned and
		// retires what it supersedes, all in one transaction. A notification
		// that is already planned is left untouched.
		MarkPlanned(ctx context.Context, mark PlanMark) (PlanOutcome, error)
	}

	TransportRepository interface {
		// Upsert keeps a single row per (user, type).
		Upsert(ctx context.Context, transport *model.Transport) error
		GetTransport(ctx context.Context, id uuid.UUID) (*model.Transport, error)
		FindByUser(ctx context.Context, userID string, transportType model.TransportType, includeDisabled bool) (*model.Transport, error)
		ListByUser(ctx context.Context, userID string) ([]*model.Transport, error)
		GetEnabledTransports(ctx context.Context, userID string) ([]*model.Transport, error)
		SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	}

	// DeliveryRepository owns delivery rows. Every state change is a single
	// atomic statement.
	DeliveryRepository interface {
		// GetDeliveriesForSendingNow claims due, sendable deliveries by pushing
		// their next try time forward by lease, so concurrent loops never pick
		// the same rows. Notification and Transport are populated.
		GetDeliveriesForSendingNow(ctx context.Context, limit int, lease time.Duration) ([]*model.Delivery, error)
		MarkDeliveryAsSent(ctx context.Context, id uuid.UUID) error
		MarkDeliveriesAsSent(ctx context.Context, ids []uuid.UUID) error
		// MarkDeliveryAsFailed makes the delivery eligible again on the next
		// pass, or abandons it once the failure limit is reached. The returned
		// count is the number of deliveries this call abandoned.
		MarkDeliveryAsFailed(ctx context.Context, id uuid.UUID) (int, error)
		MarkDeliveriesAsFailed(ctx context.Context, ids []uuid.UUID) (int, error)
		ListByNotification(ctx context.Context, notificationID uuid.UUID) ([]*model.Delivery, error)
		// DeleteFinishedBefore removes terminal deliveries created
		// before the cutoff and returns how many were removed.
		DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)
	}

	CourseRepository interface {
		// FindCourse returns nil, nil when the course does not exist.
		FindCourse(ctx context.Context, id string) (*model.Course, error)
	}
)
