package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/samstikhin/ulearn-notifier/internal/model"
	"github.com/samstikhin/ulearn-notifier/internal/repository"
	apperrors "github.com/samstikhin/ulearn-notifier/pkg/errors"
)

const transportColumns = `id, user_id, type, address, is_enabled, created_at`

type transportRepository struct {
	BaseRepository
}

func NewTransportRepository(base BaseRepository) repository.TransportRepository {
	return &transportRepository{base}
}

func (r *transportRepository) Upsert(ctx context.Context, transport *model.Transport) error {
	if transport.ID == uuid.Nil {
		transport.ID = uuid.New()
	}
	if transport.CreatedAt.IsZero() {
		transport.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO transports (` + transportColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, type) DO UPDATE
		SET address = EXCLUDED.address, is_enabled = EXCLUDED.is_enabled
		RETURNING ` + transportColumns

	err := r.db.GetContext(ctx, transport, query,
		transport.ID,
		transport.UserID,
		transport.Type,
		transport.Address,
		transport.IsEnabled,
		transport.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert transport: %w", err)
	}
	return nil
}

func (r *transportRepository) GetTransport(ctx context.Context, id uuid.UUID) (*model.Transport, error) {
	var t model.Transport
	err := r.db.GetContext(ctx, &t, `SELECT `+transportColumns+` FROM transports WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("transport", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transport: %w", err)
	}
	return &t, nil
}

func (r *transportRepository) FindByUser(ctx context.Context, userID string, transportType model.TransportType, includeDisabled bool) (*model.Transport, error) {
	query := `
		SELECT ` + transportColumns + `
		FROM transports
		WHERE user_id = $1 AND type = $2 AND (is_enabled OR $3)
	`

	var t model.Transport
	err := r.db.GetContext(ctx, &t, query, userID, transportType, includeDisabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transport: %w", err)
	}
	return &t, nil
}

func (r *transportRepository) ListByUser(ctx context.Context, userID string) ([]*model.Transport, error) {
	return r.list(ctx, userID, false)
}

func (r *transportRepository) GetEnabledTransports(ctx context.Context, userID string) ([]*model.Transport, error) {
	return r.list(ctx, userID, true)
}

func (r *transportRepository) list(ctx context.Context, userID string, enabledOnly bool) ([]*model.Transport, error) {
	query := `
		SELECT ` + transportColumns + `
		FROM transports
		WHERE user_id = $1 AND (is_enabled OR NOT $2)
		ORDER BY type
	`

	var transports []*model.Transport
	if err := r.db.SelectContext(ctx, &transports, query, userID, enabledOnly); err != nil {
		return nil, fmt.Errorf("failed to list transports: %w", err)
	}
	return transports, nil
}

func (r *transportRepository) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE transports SET is_enabled = $2 WHERE id = $1`, id, enabled)
	if err != nil {
		return fmt.Errorf("failed to update transport: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.NotFound("transport", nil)
	}
	return nil
}
