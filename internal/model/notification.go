package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Notification records one domain event for one recipient. Rows are never
// deleted; only the planning columns change after creation.
type Notification struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	CourseID          string          `db:"course_id" json:"course_id"`
	InitiatedByUserID string          `db:"initiated_by_user_id" json:"initiated_by_user_id"`
	RecipientUserID   string          `db:"recipient_user_id" json:"recipient_user_id"`
	Kind              Kind            `db:"kind" json:"kind"`
	Payload           json.RawMessage `db:"payload" json:"payload"`
	TargetKey         string          `db:"target_key" json:"target_key"`
	PlannedAt         *time.Time      `db:"planned_at" json:"planned_at,omitempty"`
	Suppressed        bool            `db:"suppressed" json:"suppressed"`

	// Course is attached by the dispatcher before a single item send.
	Course *Course `db:"-" json:"-"`
}

func (n *Notification) IsPlanned() bool {
	return n.PlannedAt != nil
}

// DecodePayload decodes the kind specific payload.
func (n *Notification) DecodePayload() (Payload, error) {
	return DecodePayload(n.Kind, n.Payload)
}

// GroupKey identifies the suppression group of a notification.
type GroupKey struct {
	RecipientUserID string
	TargetKey       string
}

func (n *Notification) GroupKey() GroupKey {
	return GroupKey{RecipientUserID: n.RecipientUserID, TargetKey: n.TargetKey}
}

type Course struct {
	ID    string `db:"id" json:"id"`
	Title string `db:"title" json:"title"`
}
