// Package scheduler fans sync passes out across tenants.
//
// Each cycle lists the active units of every configured tenant and runs one
// task per tenant on a bounded worker group. Units of a tenant run one after
// another so a tenant never spends its budget on two pages at once. A tenant
// task skips units that are cooling down or ineligible, runs backfill until
// the category completes and incremental passes afterwards, and stops early
// when the tenant's budget turns critical or its credentials are rejected.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/ghsync/internal/core/domain"
	"github.com/vietddude/ghsync/internal/ingest/metrics"
	"github.com/vietddude/ghsync/internal/ingest/orchestrator"
)

// Skip reasons, used as log fields and metric labels.
const (
	SkipCooldown   = "cooldown"
	SkipIneligible = "ineligible"
	SkipBudget     = "budget"
	SkipLocked     = "locked"
	SkipNoBaseline = "no_baseline"
	SkipAuth       = "auth"
)

// Runner executes one pass for a unit and category.
type Runner interface {
	Run(ctx context.Context, tenant domain.Tenant, unit domain.SyncUnit, category domain.Category, mode domain.Mode) (*orchestrator.Result, error)
}

// UnitLister returns the active units of the given tenants.
type UnitLister interface {
	ListByTenants(ctx context.Context, tenantIDs []string) ([]*domain.SyncUnit, error)
}

// ProgressReader reads checkpoints to pick the pass mode.
type ProgressReader interface {
	Read(ctx context.Context, unitID string, category domain.Category) (*domain.Progress, error)
}

// BudgetGate reports whether a tenant must not spend any more budget.
type BudgetGate interface {
	IsCritical(tenant string) bool
}

// CooldownGate reports whether a unit is cooling down.
type CooldownGate interface {
	IsInCooldown(unitID string) bool
}

// Locker provides a lease so two instances never sync one tenant concurrently.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	RefreshLock(ctx context.Context, key string, ttl time.Duration) error
	ReleaseLock(ctx context.Context, key string) error
}

// Eligibility is an extra per-unit filter, e.g. excluding archived repositories.
type Eligibility func(unit domain.SyncUnit) bool

// Config holds scheduler settings.
type Config struct {
	Interval   time.Duration     `yaml:"interval"`
	Workers    int               `yaml:"workers"`
	LockTTL    time.Duration     `yaml:"lock_ttl"`
	Categories []domain.Category `yaml:"categories"`
}

// DefaultConfig returns the default scheduler settings.
func DefaultConfig() Config {
	return Config{
		Interval:   5 * time.Minute,
		Workers:    4,
		LockTTL:    2 * time.Minute,
		Categories: domain.Categories,
	}
}

// Deps holds the collaborators of a Scheduler.
type Deps struct {
	Runner    Runner
	Units     UnitLister
	Progress  ProgressReader
	Budget    BudgetGate
	Cooldowns CooldownGate
	Locker    Locker      // optional
	Eligible  Eligibility // optional
}

// CycleStats summarises one cycle.
type CycleStats struct {
	RunID          string
	StartedAt      time.Time
	Duration       time.Duration
	Tenants        int
	Processed      int
	Failed         int
	Skipped        int
	SkipReasons    map[string]int
	Outcomes       map[orchestrator.Outcome]int
	AbortedTenants []string
}

func (s *CycleStats) skip(reason string, n int) {
	if n <= 0 {
		return
	}
	s.Skipped += n
	s.SkipReasons[reason] += n
	metrics.UnitsSkipped.WithLabelValues(reason).Add(float64(n))
}

// Scheduler runs sync cycles on an interval.
type Scheduler struct {
	cfg     Config
	tenants []domain.Tenant
	deps    Deps
	logger  *slog.Logger

	running atomic.Bool
	stop    chan struct{}
	once    sync.Once

	mu   sync.RWMutex
	last CycleStats
}

// New creates a scheduler for the given tenants.
func New(cfg Config, tenants []domain.Tenant, deps Deps) (*Scheduler, error) {
	if deps.Runner == nil || deps.Units == nil || deps.Progress == nil || deps.Budget == nil || deps.Cooldowns == nil {
		return nil, errors.New("scheduler: runner, units, progress, budget and cooldowns are required")
	}

	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = def.Categories
	}

	return &Scheduler{
		cfg:     cfg,
		tenants: tenants,
		deps:    deps,
		logger:  slog.Default().With("component", "scheduler"),
		stop:    make(chan struct{}),
	}, nil
}

// Start runs a cycle immediately and then every Interval until ctx ends or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("scheduler already running")
	}
	defer s.running.Store(false)

	s.logger.Info("Scheduler started",
		"tenants", len(s.tenants),
		"workers", s.cfg.Workers,
		"interval", s.cfg.Interval,
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stop:
			return nil
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// Stop ends the loop started by Start. The current cycle finishes first.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
}

// Running reports whether Start is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// LastCycle returns the stats of the most recent finished cycle.
func (s *Scheduler) LastCycle() CycleStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// RunCycle runs one pass over every tenant and waits for all of them.
func (s *Scheduler) RunCycle(ctx context.Context) CycleStats {
	stats := CycleStats{
		RunID:       uuid.NewString(),
		StartedAt:   time.Now(),
		Tenants:     len(s.tenants),
		SkipReasons: make(map[string]int),
		Outcomes:    make(map[orchestrator.Outcome]int),
	}
	log := s.logger.With("run_id", stats.RunID)

	ids := make([]string, 0, len(s.tenants))
	for _, t := range s.tenants {
		ids = append(ids, t.ID)
	}
	units, err := s.deps.Units.ListByTenants(ctx, ids)
	if err != nil {
		log.Error("failed to list sync units", "error", err)
		return s.finish(stats)
	}

	byTenant := make(map[string][]domain.SyncUnit, len(s.tenants))
	for _, u := range units {
		if u.Active {
			byTenant[u.TenantID] = append(byTenant[u.TenantID], *u)
		}
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.cfg.Workers)

	for _, tenant := range s.tenants {
		g.Go(func() error {
			local := CycleStats{
				SkipReasons: make(map[string]int),
				Outcomes:    make(map[orchestrator.Outcome]int),
			}
			defer func() {
				if r := recover(); r != nil {
					log.Error("tenant task panicked",
						"tenant", tenant.ID,
						"panic", r,
						"stack", string(debug.Stack()),
					)
				}
				mu.Lock()
				stats.merge(local)
				mu.Unlock()
			}()

			s.syncTenant(ctx, log.With("tenant", tenant.ID), tenant, byTenant[tenant.ID], &local)
			return nil
		})
	}
	_ = g.Wait()

	stats = s.finish(stats)
	log.Info("Cycle finished",
		"tenants", stats.Tenants,
		"processed", stats.Processed,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"skip_reasons", stats.SkipReasons,
		"aborted_tenants", len(stats.AbortedTenants),
		"duration", stats.Duration,
	)
	return stats
}

func (s *Scheduler) finish(stats CycleStats) CycleStats {
	stats.Duration = time.Since(stats.StartedAt)
	metrics.CycleDuration.Observe(stats.Duration.Seconds())

	s.mu.Lock()
	s.last = stats
	s.mu.Unlock()
	return stats
}

func (s *CycleStats) merge(o CycleStats) {
	s.Processed += o.Processed
	s.Failed += o.Failed
	s.Skipped += o.Skipped
	for k, v := range o.SkipReasons {
		s.SkipReasons[k] += v
	}
	for k, v := range o.Outcomes {
		s.Outcomes[k] += v
	}
	s.AbortedTenants = append(s.AbortedTenants, o.AbortedTenants...)
}

func (s *Scheduler) syncTenant(
	ctx context.Context,
	log *slog.Logger,
	tenant domain.Tenant,
	units []domain.SyncUnit,
	stats *CycleStats,
) {
	if len(units) == 0 {
		return
	}

	if s.deps.Locker != nil {
		key := "tenant:" + tenant.ID
		ok, err := s.deps.Locker.AcquireLock(ctx, key, s.cfg.LockTTL)
		if err != nil {
			log.Error("failed to acquire tenant lease", "error", err)
			stats.skip(SkipLocked, len(units))
			return
		}
		if !ok {
			log.Debug("tenant leased by another instance")
			stats.skip(SkipLocked, len(units))
			return
		}

		leaseCtx, cancel := context.WithCancel(ctx)
		defer func() {
			cancel()
			if err := s.deps.Locker.ReleaseLock(context.WithoutCancel(ctx), key); err != nil {
				log.Warn("failed to release tenant lease", "error", err)
			}
		}()
		go s.keepLease(leaseCtx, log, key)
	}

	for i, unit := range units {
		if ctx.Err() != nil {
			return
		}
		if s.deps.Budget.IsCritical(tenant.ID) {
			log.Warn("budget critical, skipping remaining units", "remaining_units", len(units)-i)
			stats.skip(SkipBudget, len(units)-i)
			return
		}
		if s.deps.Cooldowns.IsInCooldown(unit.ID) {
			stats.skip(SkipCooldown, 1)
			continue
		}
		if s.deps.Eligible != nil && !s.deps.Eligible(unit) {
			stats.skip(SkipIneligible, 1)
			continue
		}

		if err := s.syncUnit(ctx, log, tenant, unit, stats); err != nil {
			if errors.Is(err, orchestrator.ErrAuth) {
				log.Error("credentials rejected, aborting tenant", "error", err)
				stats.AbortedTenants = append(stats.AbortedTenants, tenant.ID)
				stats.skip(SkipAuth, len(units)-i-1)
				return
			}
			if ctx.Err() != nil {
				return
			}
			// Contained to this unit; the tenant's other units still run.
			log.Error("unit sync failed", "unit", unit.FullName(), "error", err)
			continue
		}
	}
}

func (s *Scheduler) syncUnit(
	ctx context.Context,
	log *slog.Logger,
	tenant domain.Tenant,
	unit domain.SyncUnit,
	stats *CycleStats,
) error {
	for _, category := range s.cfg.Categories {
		progress, err := s.deps.Progress.Read(ctx, unit.ID, category)
		if err != nil {
			log.Error("failed to read progress", "unit", unit.FullName(), "category", category, "error", err)
			stats.Failed++
			continue
		}

		mode := domain.ModeBackfill
		if progress.Complete() {
			if !progress.HasBaseline() {
				stats.skip(SkipNoBaseline, 1)
				continue
			}
			mode = domain.ModeIncremental
		}

		res, err := s.deps.Runner.Run(ctx, tenant, unit, category, mode)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			if res != nil && res.Outcome != "" {
				stats.Outcomes[res.Outcome]++
			}
			stats.Failed++
			return err
		}
		if res == nil {
			continue
		}

		stats.Outcomes[res.Outcome]++
		switch res.Outcome {
		case orchestrator.OutcomeFailed, orchestrator.OutcomeAborted, orchestrator.OutcomeRateLimited:
			stats.Failed++
		default:
			stats.Processed++
		}
		if res.Outcome == orchestrator.OutcomeFailed {
			// The unit is now cooling down; its other categories wait too.
			return nil
		}
	}
	return nil
}

func (s *Scheduler) keepLease(ctx context.Context, log *slog.Logger, key string) {
	ticker := time.NewTicker(max(s.cfg.LockTTL/3, time.Second))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.deps.Locker.RefreshLock(ctx, key, s.cfg.LockTTL); err != nil && ctx.Err() == nil {
				log.Warn("failed to refresh tenant lease", "error", err)
			}
		}
	}
}
