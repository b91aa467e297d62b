package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/samstikhin/ulearn-notifier/internal/model"
	"github.com/samstikhin/ulearn-notifier/internal/repository"
	apperrors "github.com/samstikhin/ulearn-notifier/pkg/errors"
)

const notificationColumns = `id, created_at, course_id, initiated_by_user_id, recipient_user_id,
	kind, payload, target_key, planned_at, suppressed`

type notificationRepository struct {
	BaseRepository
}

func NewNotificationRepository(base BaseRepository) repository.NotificationRepository {
	return &notificationRepository{base}
}

func (r *notificationRepository) Create(ctx context.Context, notification *model.Notification) error {
	if notification == nil {
		return fmt.Errorf("notification cannot be nil")
	}
	if notification.ID == uuid.Nil {
		notification.ID = uuid.New()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO notifications (
			id, created_at, course_id, initiated_by_user_id, recipient_user_id,
			kind, payload, target_key
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`
	_, err := r.db.ExecContext(ctx, query,
		notification.ID,
		notification.CreatedAt,
		notification.CourseID,
		notification.InitiatedByUserID,
		notification.RecipientUserID,
		notification.Kind,
		[]byte(notification.Payload),
		notification.TargetKey,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) GetNotification(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	var n model.Notification
	if err := r.db.GetContext(ctx, &n, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("notification", err)
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return &n, nil
}

func (r *notificationRepository) GetPendingNotifications(ctx context.Context, createdBefore time.Time, limit int) ([]*model.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE planned_at IS NULL
		AND created_at <= $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	var notifications []*model.Notification
	if err := r.db.SelectContext(ctx, &notifications, query, createdBefore, limitArg(limit)); err != nil {
		return nil, fmt.Errorf("failed to get pending notifications: %w", err)
	}
	return notifications, nil
}

func (r *notificationRepository) ExistingKinds(ctx context.Context, recipientUserID, targetKey string) ([]model.Kind, error) {
	query := `
		SELECT DISTINCT kind
		FROM notifications
		WHERE recipient_user_id = $1
		AND target_key = $2
		AND planned_at IS NOT NULL
	`

	var kinds []model.Kind
	if err := r.db.SelectContext(ctx, &kinds, query, recipientUserID, targetKey); err != nil {
		return nil, fmt.Errorf("failed to get existing kinds: %w", err)
	}
	return kinds, nil
}

func (r *notificationRepository) ExistsForTarget(ctx context.Context, kind model.Kind, targetKey string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM notifications WHERE kind = $1 AND target_key = $2)`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, kind, targetKey); err != nil {
		return false, fmt.Errorf("failed to check notification existence: %w", err)
	}
	return exists, nil
}

func (r *notificationRepository) MarkPlanned(ctx context.Context, mark repository.PlanMark) (repository.PlanOutcome, error) {
	var outcome repository.PlanOutcome
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE notifications
			SET planned_at = NOW(), suppressed = $2
			WHERE id = $1 AND planned_at IS NULL
		`, mark.NotificationID, mark.Suppressed)
		if err != nil {
			return fmt.Errorf("failed to mark notification as planned: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}

		for _, d := range mark.Deliveries {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO deliveries (
					id, notification_id, transport_id, status, next_try_time, fails_count, created_at
				) VALUES (
					$1, $2, $3, $4, $5, 0, $6
				)
				ON CONFLICT (notification_id, transport_id) DO NOTHING
			`, d.ID, d.NotificationID, d.TransportID, d.Status, d.NextTryTime, d.CreatedAt); err != nil {
				return fmt.Errorf("failed to create delivery: %w", err)
			}
		}
		outcome.Planned = true

		if mark.Suppressed || len(mark.Supersedes) == 0 {
			return nil
		}
		retired, err := supersede(ctx, tx, mark.NotificationID, mark.Supersedes)
		if err != nil {
			return err
		}
		outcome.Retired = retired
		return nil
	})
	if err != nil {
		return repository.PlanOutcome{}, err
	}
	return outcome, nil
}

// supersededQuery selects earlier planned notifications of the given kinds
// that share recipient and target with notification $1.
const supersededQuery = `
	SELECT o.id
	FROM notifications o
	JOIN notifications n
		ON n.recipient_user_id = o.recipient_user_id
		AND n.target_key = o.target_key
	WHERE n.id = $1
	AND o.id <> n.id
	AND o.kind = ANY($2::text[])
	AND o.planned_at IS NOT NULL
`

func supersede(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, kinds []model.Kind) (int, error) {
	kindArg := pq.Array(kindStrings(kinds))

	res, err := tx.ExecContext(ctx, `
		UPDATE deliveries
		SET status = 'suppressed'
		WHERE notification_id IN (`+supersededQuery+`)
		AND status IN ('pending', 'failed')
	`, id, kindArg)
	if err != nil {
		return 0, fmt.Errorf("failed to retire superseded deliveries: %w", err)
	}
	retired, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE notifications s
		SET suppressed = TRUE
		WHERE s.id IN (`+supersededQuery+`)
		AND NOT s.suppressed
		AND NOT EXISTS (
			SELECT 1 FROM deliveries d
			WHERE d.notification_id = s.id
			AND d.status = 'sent'
		)
	`, id, kindArg); err != nil {
		return 0, fmt.Errorf("failed to suppress superseded notifications: %w", err)
	}
	return int(retired), nil
}

func kindStrings(kinds []model.Kind) []string {
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, string(k))
	}
	return out
}
