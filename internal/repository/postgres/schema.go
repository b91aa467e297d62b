package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Schema creates the notifier tables. The courses table belongs to the
// platform and is only created when missing so local databases work.
const Schema = `
CREATE TABLE IF NOT EXISTS courses (
	id    TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS notifications (
	id                   UUID PRIMARY KEY,
	created_at           TIMESTAMPTZ NOT NULL,
	course_id            TEXT NOT NULL,
	initiated_by_user_id TEXT NOT NULL,
	recipient_user_id    TEXT NOT NULL,
	kind                 TEXT NOT NULL,
	payload              JSONB NOT NULL,
	target_key           TEXT NOT NULL,
	planned_at           TIMESTAMPTZ,
	suppressed           BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS notifications_unplanned_idx
	ON notifications (created_at) WHERE planned_at IS NULL;
CREATE INDEX IF NOT EXISTS notifications_group_idx
	ON notifications (recipient_user_id, target_key);
CREATE INDEX IF NOT EXISTS notifications_kind_target_idx
	ON notifications (kind, target_key);

CREATE TABLE IF NOT EXISTS transports (
	id         UUID PRIMARY KEY,
	user_id    TEXT NOT NULL,
	type       TEXT NOT NULL,
	address    TEXT NOT NULL DEFAULT '',
	is_enabled BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (user_id, type)
);

CREATE TABLE IF NOT EXISTS deliveries (
	id              UUID PRIMARY KEY,
	notification_id UUID NOT NULL REFERENCES notifications (id),
	transport_id    UUID NOT NULL REFERENCES transports (id),
	status          TEXT NOT NULL,
	next_try_time   TIMESTAMPTZ NOT NULL,
	sent_at         TIMESTAMPTZ,
	fails_count     INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL,
	UNIQUE (notification_id, transport_id)
);

CREATE INDEX IF NOT EXISTS deliveries_due_idx
	ON deliveries (next_try_time) WHERE status IN ('pending', 'failed');
`

func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
