package storage

import (
	"context"
	"errors"

	"github.com/vietddude/ghsync/internal/core/domain"
)

var (
	// ErrUnitNotFound is returned when a sync unit doesn't exist
	ErrUnitNotFound = errors.New("sync unit not found")

	// ErrTxDone is returned when a unit of work is used after commit or rollback
	ErrTxDone = errors.New("transaction already completed")
)

// UnitRepository handles sync unit storage operations
type UnitRepository interface {
	// Save creates or updates a sync unit
	Save(ctx context.Context, unit *domain.SyncUnit) error

	// Get retrieves a sync unit by ID
	Get(ctx context.Context, id string) (*domain.SyncUnit, error)

	// ListByTenants retrieves active units owned by any of the given tenants
	ListByTenants(ctx context.Context, tenantIDs []string) ([]*domain.SyncUnit, error)

	// SetActive enables or disables a unit
	SetActive(ctx context.Context, id string, active bool) error
}

// ProgressRepository handles checkpoint reads outside a transaction
type ProgressRepository interface {
	// Get retrieves progress for a unit category. Returns nil, nil when absent.
	Get(ctx context.Context, unitID string, category domain.Category) (*domain.Progress, error)

	// List retrieves progress rows for all units
	List(ctx context.Context) ([]*domain.Progress, error)

	// Delete removes progress for a unit category
	Delete(ctx context.Context, unitID string, category domain.Category) error
}

// ActivityRepository handles reads of ingested activities
type ActivityRepository interface {
	// Get retrieves an activity by ID. Returns nil, nil when absent.
	Get(ctx context.Context, id string) (*domain.Activity, error)

	// Count counts activities of a unit category
	Count(ctx context.Context, unitID string, category domain.Category) (int, error)
}

// Tx is the transaction-scoped view used to commit one page.
type Tx interface {
	// GetProgress reads progress inside the transaction, locking the row where supported
	GetProgress(ctx context.Context, unitID string, category domain.Category) (*domain.Progress, error)

	// UpsertActivities writes activities idempotently by ID
	UpsertActivities(ctx context.Context, activities []*domain.Activity) error

	// SaveProgress upserts the progress row
	SaveProgress(ctx context.Context, p *domain.Progress) error
}

// Transactor runs fn inside one transaction. fn's writes land together or not at all.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Store bundles everything the engine persists.
type Store interface {
	Transactor
	Units() UnitRepository
	Progress() ProgressRepository
	Activities() ActivityRepository
	Close() error
}
