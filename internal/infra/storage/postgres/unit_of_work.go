package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/ghsync/internal/core/domain"
	"github.com/vietddude/ghsync/internal/infra/storage"
)

// UnitOfWork bundles all persistence operations of one page commit into a
// single database transaction, ensuring atomicity (all succeed or all fail).
type UnitOfWork struct {
	tx *sqlx.Tx
}

var _ storage.Tx = (*UnitOfWork)(nil)

// NewUnitOfWork creates a new unit of work with an active transaction.
func (db *DB) NewUnitOfWork(ctx context.Context) (*UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UnitOfWork{tx: tx}, nil
}

// WithinTx runs fn in a fresh unit of work and commits when fn returns nil.
func (db *DB) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	uow, err := db.NewUnitOfWork(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = uow.Rollback() }()

	if err := fn(ctx, uow); err != nil {
		return err
	}
	return uow.Commit()
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return storage.ErrTxDone
	}
	err := u.tx.Commit()
	u.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Already committed or rolled back
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

// GetProgress reads and locks the progress row for the rest of the transaction.
func (u *UnitOfWork) GetProgress(ctx context.Context, unitID string, category domain.Category) (*domain.Progress, error) {
	if u.tx == nil {
		return nil, storage.ErrTxDone
	}

	var p domain.Progress
	err := u.tx.GetContext(ctx, &p, `
		SELECT `+progressColumns+`
		FROM sync_progress
		WHERE unit_id = $1 AND category = $2
		FOR UPDATE
	`, unitID, category)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}
	return &p, nil
}

// UpsertActivities saves activities; replaying a page leaves the same rows behind.
func (u *UnitOfWork) UpsertActivities(ctx context.Context, activities []*domain.Activity) error {
	if u.tx == nil {
		return storage.ErrTxDone
	}
	if len(activities) == 0 {
		return nil
	}

	stmt, err := u.tx.PrepareNamedContext(ctx, `
		INSERT INTO activities (id, unit_id, category, number, title, state, author, created_at, updated_at)
		VALUES (:id, :unit_id, :category, :number, :title, :state, :author, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			title      = EXCLUDED.title,
			state      = EXCLUDED.state,
			author     = EXCLUDED.author,
			updated_at = EXCLUDED.updated_at
		WHERE activities.updated_at <= EXCLUDED.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare activity upsert: %w", err)
	}
	defer stmt.Close()

	for _, a := range activities {
		if _, err := stmt.ExecContext(ctx, a); err != nil {
			return fmt.Errorf("failed to upsert activity %s: %w", a.ID, err)
		}
	}
	return nil
}

// SaveProgress upserts the progress row within the transaction.
func (u *UnitOfWork) SaveProgress(ctx context.Context, p *domain.Progress) error {
	if u.tx == nil {
		return storage.ErrTxDone
	}

	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO sync_progress (unit_id, category, cursor, high_water_mark, checkpoint, last_run_at, updated_at,
			incremental_cursor, incremental_started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (unit_id, category) DO UPDATE SET
			cursor                 = EXCLUDED.cursor,
			high_water_mark        = EXCLUDED.high_water_mark,
			checkpoint             = EXCLUDED.checkpoint,
			last_run_at            = EXCLUDED.last_run_at,
			updated_at             = EXCLUDED.updated_at,
			incremental_cursor     = EXCLUDED.incremental_cursor,
			incremental_started_at = EXCLUDED.incremental_started_at
	`, p.UnitID, p.Category, p.Cursor, p.HighWaterMark, p.Checkpoint, p.LastRunAt, time.Now(),
		p.IncrementalCursor, p.IncrementalStartedAt)
	if err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	return nil
}
