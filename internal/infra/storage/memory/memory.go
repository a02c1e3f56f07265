package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vietddude/ghsync/internal/core/domain"
	"github.com/vietddude/ghsync/internal/infra/storage"
)

type MemoryStorage struct {
	units      map[string]*domain.SyncUnit
	progress   map[progressKey]*domain.Progress
	activities map[string]*domain.Activity
	mu         sync.RWMutex
}

type progressKey struct {
	unitID   string
	category domain.Category
}

var _ storage.Store = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		units:      make(map[string]*domain.SyncUnit),
		progress:   make(map[progressKey]*domain.Progress),
		activities: make(map[string]*domain.Activity),
	}
}

func (s *MemoryStorage) Units() storage.UnitRepository          { return &UnitRepo{store: s} }
func (s *MemoryStorage) Progress() storage.ProgressRepository   { return &ProgressRepo{store: s} }
func (s *MemoryStorage) Activities() storage.ActivityRepository { return &ActivityRepo{store: s} }
func (s *MemoryStorage) Close() error                           { return nil }

// -----------------------------------------------------------------------------
// Transactions
// -----------------------------------------------------------------------------

// WithinTx stages writes and applies them only when fn returns nil.
// The store lock is held for the duration of fn.
func (s *MemoryStorage) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:      s,
		progress:   make(map[progressKey]*domain.Progress),
		activities: make(map[string]*domain.Activity),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for k, p := range tx.progress {
		s.progress[k] = p
	}
	for id, a := range tx.activities {
		s.activities[id] = a
	}
	return nil
}

type memTx struct {
	store      *MemoryStorage
	progress   map[progressKey]*domain.Progress
	activities map[string]*domain.Activity
}

func (t *memTx) GetProgress(_ context.Context, unitID string, category domain.Category) (*domain.Progress, error) {
	key := progressKey{unitID, category}
	if p, ok := t.progress[key]; ok {
		return copyProgress(p), nil
	}
	if p, ok := t.store.progress[key]; ok {
		return copyProgress(p), nil
	}
	return nil, nil
}

func (t *memTx) UpsertActivities(_ context.Context, activities []*domain.Activity) error {
	for _, a := range activities {
		cp := *a
		t.activities[a.ID] = &cp
	}
	return nil
}

func (t *memTx) SaveProgress(_ context.Context, p *domain.Progress) error {
	t.progress[progressKey{p.UnitID, p.Category}] = copyProgress(p)
	return nil
}

// -----------------------------------------------------------------------------
// Unit Repository
// -----------------------------------------------------------------------------

type UnitRepo struct {
	store *MemoryStorage
}

func NewUnitRepo(store *MemoryStorage) *UnitRepo {
	return &UnitRepo{store: store}
}

func (r *UnitRepo) Save(ctx context.Context, unit *domain.SyncUnit) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *unit
	r.store.units[unit.ID] = &cp
	return nil
}

func (r *UnitRepo) Get(ctx context.Context, id string) (*domain.SyncUnit, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	u, ok := r.store.units[id]
	if !ok {
		return nil, storage.ErrUnitNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *UnitRepo) ListByTenants(ctx context.Context, tenantIDs []string) ([]*domain.SyncUnit, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	wanted := make(map[string]bool, len(tenantIDs))
	for _, id := range tenantIDs {
		wanted[id] = true
	}

	var out []*domain.SyncUnit
	for _, u := range r.store.units {
		if u.Active && wanted[u.TenantID] {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *UnitRepo) SetActive(ctx context.Context, id string, active bool) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	u, ok := r.store.units[id]
	if !ok {
		return storage.ErrUnitNotFound
	}
	u.Active = active
	return nil
}

// -----------------------------------------------------------------------------
// Progress Repository
// -----------------------------------------------------------------------------

type ProgressRepo struct {
	store *MemoryStorage
}

func NewProgressRepo(store *MemoryStorage) *ProgressRepo {
	return &ProgressRepo{store: store}
}

func (r *ProgressRepo) Get(ctx context.Context, unitID string, category domain.Category) (*domain.Progress, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	p, ok := r.store.progress[progressKey{unitID, category}]
	if !ok {
		return nil, nil
	}
	return copyProgress(p), nil
}

func (r *ProgressRepo) List(ctx context.Context) ([]*domain.Progress, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.Progress, 0, len(r.store.progress))
	for _, p := range r.store.progress {
		out = append(out, copyProgress(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UnitID != out[j].UnitID {
			return out[i].UnitID < out[j].UnitID
		}
		return out[i].Category < out[j].Category
	})
	return out, nil
}

func (r *ProgressRepo) Delete(ctx context.Context, unitID string, category domain.Category) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.progress, progressKey{unitID, category})
	return nil
}

// -----------------------------------------------------------------------------
// Activity Repository
// -----------------------------------------------------------------------------

type ActivityRepo struct {
	store *MemoryStorage
}

func NewActivityRepo(store *MemoryStorage) *ActivityRepo {
	return &ActivityRepo{store: store}
}

func (r *ActivityRepo) Get(ctx context.Context, id string) (*domain.Activity, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	a, ok := r.store.activities[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r *ActivityRepo) Count(ctx context.Context, unitID string, category domain.Category) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	n := 0
	for _, a := range r.store.activities {
		if a.UnitID == unitID && a.Category == category {
			n++
		}
	}
	return n, nil
}

func copyProgress(p *domain.Progress) *domain.Progress {
	cp := *p
	if p.Cursor != nil {
		v := *p.Cursor
		cp.Cursor = &v
	}
	if p.HighWaterMark != nil {
		v := *p.HighWaterMark
		cp.HighWaterMark = &v
	}
	if p.Checkpoint != nil {
		v := *p.Checkpoint
		cp.Checkpoint = &v
	}
	if p.LastRunAt != nil {
		v := *p.LastRunAt
		cp.LastRunAt = &v
	}
	if p.IncrementalCursor != nil {
		v := *p.IncrementalCursor
		cp.IncrementalCursor = &v
	}
	if p.IncrementalStartedAt != nil {
		v := *p.IncrementalStartedAt
		cp.IncrementalStartedAt = &v
	}
	return &cp
}
