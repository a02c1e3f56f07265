package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/vietddude/ghsync/internal/core/domain"
	"github.com/vietddude/ghsync/internal/infra/storage"
)

// UnitRepo implements storage.UnitRepository using PostgreSQL.
type UnitRepo struct {
	db *DB
}

// NewUnitRepo creates a new PostgreSQL unit repository.
func NewUnitRepo(db *DB) *UnitRepo {
	return &UnitRepo{db: db}
}

// Save creates or updates a sync unit.
func (r *UnitRepo) Save(ctx context.Context, unit *domain.SyncUnit) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO sync_units (id, tenant_id, owner, name, active, created_at)
		VALUES (:id, :tenant_id, :owner, :name, :active, :created_at)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			owner     = EXCLUDED.owner,
			name      = EXCLUDED.name,
			active    = EXCLUDED.active
	`, unit)
	if err != nil {
		return fmt.Errorf("failed to save unit: %w", err)
	}
	return nil
}

// Get retrieves a sync unit by ID.
func (r *UnitRepo) Get(ctx context.Context, id string) (*domain.SyncUnit, error) {
	var u domain.SyncUnit
	err := r.db.GetContext(ctx, &u,
		`SELECT id, tenant_id, owner, name, active, created_at FROM sync_units WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrUnitNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get unit: %w", err)
	}
	return &u, nil
}

// ListByTenants retrieves active units owned by any of the given tenants.
func (r *UnitRepo) ListByTenants(ctx context.Context, tenantIDs []string) ([]*domain.SyncUnit, error) {
	var units []*domain.SyncUnit
	err := r.db.SelectContext(ctx, &units, `
		SELECT id, tenant_id, owner, name, active, created_at
		FROM sync_units
		WHERE active AND tenant_id = ANY($1)
		ORDER BY id
	`, pq.Array(tenantIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	return units, nil
}

// SetActive enables or disables a unit.
func (r *UnitRepo) SetActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE sync_units SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update unit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrUnitNotFound
	}
	return nil
}
