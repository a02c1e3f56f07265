package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vietddude/ghsync/internal/core/domain"
)

// ProgressRepo implements storage.ProgressRepository using PostgreSQL.
type ProgressRepo struct {
	db *DB
}

// NewProgressRepo creates a new PostgreSQL progress repository.
func NewProgressRepo(db *DB) *ProgressRepo {
	return &ProgressRepo{db: db}
}

const progressColumns = `unit_id, category, cursor, high_water_mark, checkpoint, last_run_at, updated_at,
	incremental_cursor, incremental_started_at`

// Get retrieves progress for a unit category.
func (r *ProgressRepo) Get(ctx context.Context, unitID string, category domain.Category) (*domain.Progress, error) {
	var p domain.Progress
	err := r.db.GetContext(ctx, &p,
		`SELECT `+progressColumns+` FROM sync_progress WHERE unit_id = $1 AND category = $2`,
		unitID, category)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}
	return &p, nil
}

// List retrieves all progress rows.
func (r *ProgressRepo) List(ctx context.Context) ([]*domain.Progress, error) {
	var rows []*domain.Progress
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+progressColumns+` FROM sync_progress ORDER BY unit_id, category`)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	return rows, nil
}

// Delete removes progress for a unit category.
func (r *ProgressRepo) Delete(ctx context.Context, unitID string, category domain.Category) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sync_progress WHERE unit_id = $1 AND category = $2`, unitID, category)
	if err != nil {
		return fmt.Errorf("failed to delete progress: %w", err)
	}
	return nil
}
