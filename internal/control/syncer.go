package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vietddude/ghsync/internal/core/checkpoint"
	"github.com/vietddude/ghsync/internal/core/config"
	"github.com/vietddude/ghsync/internal/core/domain"
	"github.com/vietddude/ghsync/internal/core/keyed"
	"github.com/vietddude/ghsync/internal/core/worker"
	"github.com/vietddude/ghsync/internal/infra/graphql"
	redisclient "github.com/vietddude/ghsync/internal/infra/redis"
	"github.com/vietddude/ghsync/internal/infra/storage"
	"github.com/vietddude/ghsync/internal/infra/storage/memory"
	"github.com/vietddude/ghsync/internal/infra/storage/postgres"
	"github.com/vietddude/ghsync/internal/ingest/budget"
	"github.com/vietddude/ghsync/internal/ingest/cooldown"
	"github.com/vietddude/ghsync/internal/ingest/health"
	"github.com/vietddude/ghsync/internal/ingest/orchestrator"
	"github.com/vietddude/ghsync/internal/ingest/scheduler"
)

// Syncer is the main application struct that manages the sync engine lifecycle.
type Syncer struct {
	cfg          *config.AppConfig
	store        storage.Store
	db           *postgres.DB
	redisClient  *redisclient.Client
	client       *graphql.Client
	tracker      *budget.Tracker
	predictor    *budget.Predictor
	cooldowns    *cooldown.Manager
	checkpoints  *checkpoint.Manager
	orchestrator *orchestrator.Orchestrator
	scheduler    *scheduler.Scheduler
	evictor      *worker.Evictor
	healthMon    *health.Monitor
	healthServer *health.Server
	log          *slog.Logger
	cancel       context.CancelFunc
}

// Option customises NewSyncer.
type Option func(*options)

type options struct {
	fetcher   orchestrator.Fetcher
	processor orchestrator.ItemProcessor
	store     storage.Store
	eligible  scheduler.Eligibility
}

// WithFetcher replaces the GraphQL client as page source.
func WithFetcher(f orchestrator.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithProcessor replaces the default item mapper.
func WithProcessor(p orchestrator.ItemProcessor) Option {
	return func(o *options) { o.processor = p }
}

// WithStore uses an already opened store instead of the configured backend.
func WithStore(s storage.Store) Option {
	return func(o *options) { o.store = s }
}

// WithEligibility adds a per-unit filter to the scheduler.
func WithEligibility(fn scheduler.Eligibility) Option {
	return func(o *options) { o.eligible = fn }
}

// NewSyncer creates a new Syncer instance with all dependencies initialized.
func NewSyncer(ctx context.Context, cfg *config.AppConfig, opts ...Option) (*Syncer, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &Syncer{cfg: cfg, log: slog.Default()}

	// 1. Initialize Storage
	if err := s.openStore(ctx, o.store); err != nil {
		return nil, err
	}
	if err := s.registerUnits(ctx); err != nil {
		s.closeStore()
		return nil, err
	}

	// 2. Rate budget and cooldowns
	var err error
	s.tracker, err = budget.NewTracker(cfg.Budget, keyed.New[budget.State]())
	if err != nil {
		s.closeStore()
		return nil, err
	}
	s.predictor = budget.NewPredictor()

	var persister cooldown.Persister
	if cfg.Redis.URL != "" {
		s.redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			s.log.Warn("Failed to connect to Redis, leases and cooldown persistence disabled", "error", err)
		} else {
			persister = redisclient.NewCooldownStore(s.redisClient)
		}
	}
	s.cooldowns = cooldown.NewManager(cfg.Cooldown, keyed.New[cooldown.State](), persister)
	if err := s.cooldowns.Restore(ctx); err != nil {
		s.log.Warn("Failed to restore cooldowns", "error", err)
	}

	// 3. Remote API
	fetcher := o.fetcher
	if fetcher == nil {
		s.client = graphql.NewClient(cfg.GitHub)
		fetcher = s.client
	}
	processor := o.processor
	if processor == nil {
		processor = graphql.NewProcessor()
	}

	// 4. Checkpoints and page loop
	s.checkpoints = checkpoint.NewManager(s.store, s.store.Progress())
	s.checkpoints.SetTransitionCallback(func(unitID string, category domain.Category, t checkpoint.Transition) {
		s.log.Info("Checkpoint phase changed",
			"unit", unitID,
			"category", category,
			"from", t.From,
			"to", t.To,
		)
	})

	s.orchestrator, err = orchestrator.New(cfg.Orchestrator(), orchestrator.Deps{
		Fetcher:     fetcher,
		Processor:   processor,
		Checkpoints: s.checkpoints,
		Tracker:     s.tracker,
		Cooldowns:   s.cooldowns,
		Predictor:   s.predictor,
	})
	if err != nil {
		s.closeStore()
		return nil, err
	}

	// 5. Fan-out
	deps := scheduler.Deps{
		Runner:    s.orchestrator,
		Units:     s.store.Units(),
		Progress:  s.checkpoints,
		Budget:    s.tracker,
		Cooldowns: s.cooldowns,
		Eligible:  o.eligible,
	}
	if s.redisClient != nil {
		deps.Locker = s.redisClient
	}
	s.scheduler, err = scheduler.New(cfg.Sync.Scheduler(), cfg.DomainTenants(), deps)
	if err != nil {
		s.closeStore()
		return nil, err
	}

	// 6. Workers and health
	s.evictor = worker.NewEvictor(cfg.Sync.EvictInterval, s.tracker, s.predictor)

	var endpoint health.EndpointMonitor
	if s.client != nil {
		endpoint = s.client.Monitor
	}
	s.healthMon = health.NewMonitor(cfg.TenantIDs(), s.tracker, s.predictor, s.cooldowns, endpoint, s.scheduler)
	s.healthServer = health.NewServer(s.healthMon, cfg.Server.Port)

	return s, nil
}

func (s *Syncer) openStore(ctx context.Context, injected storage.Store) error {
	if injected != nil {
		s.store = injected
		return nil
	}

	if s.cfg.Sync.Storage == config.StoragePostgres {
		db, err := postgres.NewDB(ctx, s.cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(); err != nil {
			_ = db.Close()
			return err
		}
		s.db = db
		s.store = db
		s.log.Info("Using PostgreSQL storage")
		return nil
	}

	s.store = memory.NewMemoryStorage()
	s.log.Info("Using Memory storage")
	return nil
}

func (s *Syncer) closeStore() {
	if err := s.store.Close(); err != nil {
		s.log.Warn("Failed to close storage", "error", err)
	}
}

// registerUnits upserts every repository listed in the configuration.
func (s *Syncer) registerUnits(ctx context.Context) error {
	units := s.store.Units()
	count := 0
	for _, t := range s.cfg.Tenants {
		for _, u := range t.Units {
			unit := &domain.SyncUnit{
				ID:        domain.UnitID(t.ID, u.Owner, u.Name),
				TenantID:  t.ID,
				Owner:     u.Owner,
				Name:      u.Name,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			}
			if err := units.Save(ctx, unit); err != nil {
				return fmt.Errorf("failed to register %s: %w", unit.FullName(), err)
			}
			count++
		}
	}
	if count > 0 {
		s.log.Info("Registered configured sync units", "count", count)
	}
	return nil
}

// Start starts the syncer and all its components. It does not block.
func (s *Syncer) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	// Start Health Server
	go func() {
		if err := s.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Health server failed", "error", err)
		}
	}()

	// Start DB Metrics Collector
	if s.db != nil {
		s.db.StartMetricsCollector(ctx)
	}

	go s.evictor.Start(ctx)

	go func() {
		if err := s.scheduler.Start(ctx); err != nil {
			s.log.Error("Scheduler failed", "error", err)
		}
	}()

	s.log.Info("Syncer started", "tenants", len(s.cfg.Tenants), "port", s.cfg.Server.Port)
	return nil
}

// RunOnce runs a single sync cycle synchronously.
func (s *Syncer) RunOnce(ctx context.Context) scheduler.CycleStats {
	return s.scheduler.RunCycle(ctx)
}

// Stop stops the syncer.
func (s *Syncer) Stop(ctx context.Context) error {
	s.log.Info("Stopping Syncer...")

	s.scheduler.Stop()
	if s.cancel != nil {
		s.cancel()
	}

	// Close Redis
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if s.client != nil {
		_ = s.client.Close()
	}

	err := s.healthServer.Stop(ctx)
	s.closeStore()
	return err
}

// Store returns the underlying storage.
func (s *Syncer) Store() storage.Store {
	return s.store
}

// Checkpoints returns the checkpoint manager.
func (s *Syncer) Checkpoints() *checkpoint.Manager {
	return s.checkpoints
}

// Health returns the current health report.
func (s *Syncer) Health(ctx context.Context) health.HealthReport {
	return s.healthMon.CheckHealth(ctx)
}
