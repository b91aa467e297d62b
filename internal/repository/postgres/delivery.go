package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/samstikhin/ulearn-notifier/internal/model"
	"github.com/samstikhin/ulearn-notifier/internal/repository"
)

type deliveryRepository struct {
	BaseRepository
	maxFailures int
}

// NewDeliveryRepository returns the delivery store. A positive maxFailures
// abandons deliveries that failed that many times.
func NewDeliveryRepository(base BaseRepository, maxFailures int) repository.DeliveryRepository {
	return &deliveryRepository{BaseRepository: base, maxFailures: maxFailures}
}

// claimedRow is one delivery joined with its notification and transport.
type claimedRow struct {
	ID             uuid.UUID            `db:"id"`
	NotificationID uuid.UUID            `db:"notification_id"`
	TransportID    uuid.UUID            `db:"transport_id"`
	Status         model.DeliveryStatus `db:"status"`
	NextTryTime    time.Time            `db:"next_try_time"`
	SentAt         *time.Time           `db:"sent_at"`
	FailsCount     int                  `db:"fails_count"`
	CreatedAt      time.Time            `db:"created_at"`

	NCreatedAt         time.Time  `db:"n_created_at"`
	NCourseID          string     `db:"n_course_id"`
	NInitiatedByUserID string     `db:"n_initiated_by_user_id"`
	NRecipientUserID   string     `db:"n_recipient_user_id"`
	NKind              model.Kind `db:"n_kind"`
	NPayload           []byte     `db:"n_payload"`
	NTargetKey         string     `db:"n_target_key"`
	NPlannedAt         *time.Time `db:"n_planned_at"`
	NSuppressed        bool       `db:"n_suppressed"`

	TUserID    string              `db:"t_user_id"`
	TType      model.TransportType `db:"t_type"`
	TAddress   string              `db:"t_address"`
	TIsEnabled bool                `db:"t_is_enabled"`
	TCreatedAt time.Time           `db:"t_created_at"`
}

func (r claimedRow) toDelivery() *model.Delivery {
	return &model.Delivery{
		ID:             r.ID,
		NotificationID: r.NotificationID,
		TransportID:    r.TransportID,
		Status:         r.Status,
		NextTryTime:    r.NextTryTime,
		SentAt:         r.SentAt,
		FailsCount:     r.FailsCount,
		CreatedAt:      r.CreatedAt,
		Notification: &model.Notification{
			ID:                r.NotificationID,
			CreatedAt:         r.NCreatedAt,
			CourseID:          r.NCourseID,
			InitiatedByUserID: r.NInitiatedByUserID,
			RecipientUserID:   r.NRecipientUserID,
			Kind:              r.NKind,
			Payload:           json.RawMessage(r.NPayload),
			TargetKey:         r.NTargetKey,
			PlannedAt:         r.NPlannedAt,
			Suppressed:        r.NSuppressed,
		},
		Transport: &model.Transport{
			ID:        r.TransportID,
			UserID:    r.TUserID,
			Type:      r.TType,
			Address:   r.TAddress,
			IsEnabled: r.TIsEnabled,
			CreatedAt: r.TCreatedAt,
		},
	}
}

// GetDeliveriesForSendingNow leases due rows by moving next_try_time forward.
// Rows locked by another loop are skipped, and a crashed loop's lease simply
// expires.
func (r *deliveryRepository) GetDeliveriesForSendingNow(ctx context.Context, limit int, lease time.Duration) ([]*model.Delivery, error) {
	query := `
		WITH due AS (
			SELECT id
			FROM deliveries
			WHERE status IN ('pending', 'failed')
			AND next_try_time <= NOW()
			ORDER BY next_try_time
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE deliveries d
		SET next_try_time = NOW() + ($2 * INTERVAL '1 second')
		FROM due, notifications n, transports t
		WHERE d.id = due.id
		AND n.id = d.notification_id
		AND t.id = d.transport_id
		RETURNING
			d.id, d.notification_id, d.transport_id, d.status, d.next_try_time,
			d.sent_at, d.fails_count, d.created_at,
			n.created_at AS n_created_at, n.course_id AS n_course_id,
			n.initiated_by_user_id AS n_initiated_by_user_id,
			n.recipient_user_id AS n_recipient_user_id, n.kind AS n_kind,
			n.payload AS n_payload, n.target_key AS n_target_key,
			n.planned_at AS n_planned_at, n.suppressed AS n_suppressed,
			t.user_id AS t_user_id, t.type AS t_type, t.address AS t_address,
			t.is_enabled AS t_is_enabled, t.created_at AS t_created_at
	`

	var rows []claimedRow
	if err := r.db.SelectContext(ctx, &rows, query, limitArg(limit), lease.Seconds()); err != nil {
		return nil, fmt.Errorf("failed to get deliveries for sending: %w", err)
	}

	deliveries := make([]*model.Delivery, 0, len(rows))
	for _, row := range rows {
		deliveries = append(deliveries, row.toDelivery())
	}
	return deliveries, nil
}

func (r *deliveryRepository) MarkDeliveryAsSent(ctx context.Context, id uuid.UUID) error {
	return r.MarkDeliveriesAsSent(ctx, []uuid.UUID{id})
}

func (r *deliveryRepository) MarkDeliveriesAsSent(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE deliveries
		SET status = 'sent', sent_at = NOW()
		WHERE id = ANY($1::uuid[])
		AND status IN ('pending', 'failed')
	`
	if _, err := r.db.ExecContext(ctx, query, pq.Array(uuidStrings(ids))); err != nil {
		return fmt.Errorf("failed to mark deliveries as sent: %w", err)
	}
	return nil
}

func (r *deliveryRepository) MarkDeliveryAsFailed(ctx context.Context, id uuid.UUID) (int, error) {
	return r.MarkDeliveriesAsFailed(ctx, []uuid.UUID{id})
}

// MarkDeliveriesAsFailed returns how many of the updated rows crossed the
// failure limit.
func (r *deliveryRepository) MarkDeliveriesAsFailed(ctx context.Context, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := `
		UPDATE deliveries
		SET fails_count = fails_count + 1,
			next_try_time = NOW(),
			status = CASE
				WHEN $2::int > 0 AND fails_count + 1 >= $2::int THEN 'abandoned'
				ELSE 'failed'
			END
		WHERE id = ANY($1::uuid[])
		AND status IN ('pending', 'failed')
		RETURNING status
	`
	var statuses []model.DeliveryStatus
	if err := r.db.SelectContext(ctx, &statuses, query, pq.Array(uuidStrings(ids)), r.maxFailures); err != nil {
		return 0, fmt.Errorf("failed to mark deliveries as failed: %w", err)
	}

	abandoned := 0
	for _, st := range statuses {
		if st == model.DeliveryStatusAbandoned {
			abandoned++
		}
	}
	return abandoned, nil
}

func (r *deliveryRepository) ListByNotification(ctx context.Context, notificationID uuid.UUID) ([]*model.Delivery, error) {
	query := `
		SELECT id, notification_id, transport_id, status, next_try_time, sent_at, fails_count, created_at
		FROM deliveries
		WHERE notification_id = $1
		ORDER BY created_at
	`

	var deliveries []*model.Delivery
	if err := r.db.SelectContext(ctx, &deliveries, query, notificationID); err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	return deliveries, nil
}

func (r *deliveryRepository) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM deliveries
		WHERE status IN ('sent', 'abandoned', 'suppressed')
		AND created_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete finished deliveries: %w", err)
	}
	return res.RowsAffected()
}
