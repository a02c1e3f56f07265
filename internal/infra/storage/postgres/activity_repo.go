package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vietddude/ghsync/internal/core/domain"
)

// ActivityRepo implements storage.ActivityRepository using PostgreSQL.
type ActivityRepo struct {
	db *DB
}

// NewActivityRepo creates a new PostgreSQL activity repository.
func NewActivityRepo(db *DB) *ActivityRepo {
	return &ActivityRepo{db: db}
}

// Get retrieves an activity by ID.
func (r *ActivityRepo) Get(ctx context.Context, id string) (*domain.Activity, error) {
	var a domain.Activity
	err := r.db.GetContext(ctx, &a, `
		SELECT id, unit_id, category, number, title, state, author, created_at, updated_at
		FROM activities WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}
	return &a, nil
}

// Count counts activities of a unit category.
func (r *ActivityRepo) Count(ctx context.Context, unitID string, category domain.Category) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM activities WHERE unit_id = $1 AND category = $2`, unitID, category)
	if err != nil {
		return 0, fmt.Errorf("failed to count activities: %w", err)
	}
	return n, nil
}
