// Package orchestrator drives the page loop for one sync unit and category.
//
// A pass reads the checkpoint, fetches pages through the backoff executor,
// hands items to the processor, commits each page atomically and decides
// after every page whether to continue, stop or give up. Every failure is
// classified once and mapped to an Outcome; only authentication failures and
// context cancellation are returned as errors.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/ghsync/internal/core/checkpoint"
	"github.com/vietddude/ghsync/internal/core/domain"
	"github.com/vietddude/ghsync/internal/ingest/backoff"
	"github.com/vietddude/ghsync/internal/ingest/budget"
	"github.com/vietddude/ghsync/internal/ingest/classify"
	"github.com/vietddude/ghsync/internal/ingest/cooldown"
	"github.com/vietddude/ghsync/internal/ingest/metrics"
)

// ErrAuth is returned when the tenant's credentials are rejected.
// The scheduler aborts the remaining units of that tenant.
var ErrAuth = errors.New("authentication failed")

// Fetcher retrieves one page from the remote API.
type Fetcher interface {
	FetchPage(ctx context.Context, req domain.PageRequest) (*domain.PageResult, error)
}

// ItemProcessor turns a raw item into the entity to store.
// A nil activity with a nil error skips the item.
type ItemProcessor interface {
	Process(ctx context.Context, unit domain.SyncUnit, category domain.Category, item domain.Item) (*domain.Activity, error)
}

// Outcome is how a pass ended.
type Outcome string

const (
	OutcomeComplete    Outcome = "complete"     // backfill reached the lower bound
	OutcomeCaughtUp    Outcome = "caught_up"    // incremental reached the cutoff
	OutcomePageCap     Outcome = "page_cap"     // per-cycle page limit hit
	OutcomeBudgetLow   Outcome = "budget_low"   // tenant budget critical
	OutcomeRateLimited Outcome = "rate_limited" // rate-limit retries used up
	OutcomeSkipped     Outcome = "skipped"      // remote resource gone or no baseline
	OutcomeFailed      Outcome = "failed"       // transient retries exhausted, unit cooled down
	OutcomeAborted     Outcome = "aborted"      // non-retryable failure
)

// Result summarises one pass.
type Result struct {
	UnitID        string
	Category      domain.Category
	Mode          domain.Mode
	Outcome       Outcome
	Pages         int
	Items         int
	Err           error
	CooldownUntil time.Time
	Duration      time.Duration
}

// budgetCarrier is implemented by fetch errors that still report rate-limit values.
type budgetCarrier interface {
	BudgetSnapshot() *domain.BudgetSnapshot
}

// Deps holds the collaborators of an Orchestrator.
type Deps struct {
	Fetcher     Fetcher
	Processor   ItemProcessor
	Checkpoints checkpoint.Store
	Tracker     *budget.Tracker
	Cooldowns   *cooldown.Manager
	Predictor   *budget.Predictor // optional
}

// Orchestrator runs sync passes. It is safe for concurrent use across units.
type Orchestrator struct {
	cfg  Config
	deps Deps

	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates an orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("orchestrator: fetcher is required")
	case deps.Processor == nil:
		return nil, errors.New("orchestrator: processor is required")
	case deps.Checkpoints == nil:
		return nil, errors.New("orchestrator: checkpoint store is required")
	case deps.Tracker == nil:
		return nil, errors.New("orchestrator: budget tracker is required")
	case deps.Cooldowns == nil:
		return nil, errors.New("orchestrator: cooldown manager is required")
	}

	return &Orchestrator{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		logger: slog.Default().With("component", "orchestrator"),
		now:    time.Now,
		sleep:  sleepCtx,
	}, nil
}

// Run executes one pass for unit and category in the given mode.
func (o *Orchestrator) Run(
	ctx context.Context,
	tenant domain.Tenant,
	unit domain.SyncUnit,
	category domain.Category,
	mode domain.Mode,
) (*Result, error) {
	started := o.now()
	res := &Result{UnitID: unit.ID, Category: category, Mode: mode}
	log := o.logger.With("tenant", tenant.ID, "unit", unit.FullName(), "category", category, "mode", mode)

	progress, err := o.deps.Checkpoints.Read(ctx, unit.ID, category)
	if err != nil {
		return nil, fmt.Errorf("read progress: %w", err)
	}

	var (
		cursor   string
		cutoff   time.Time
		runStart = started
	)
	switch mode {
	case domain.ModeBackfill:
		if progress.Complete() {
			res.Outcome = OutcomeComplete
			return res, nil
		}
		cursor = progress.ResumeCursor()
	case domain.ModeIncremental:
		if !progress.HasBaseline() {
			res.Outcome = OutcomeSkipped
			res.Err = errors.New("no incremental baseline")
			return res, nil
		}
		cutoff = *progress.LastRunAt
		if resume, at, ok := progress.ResumeIncremental(); ok {
			cursor = resume
			if !at.IsZero() {
				runStart = at
			}
			log.Debug("resuming incremental pass", "since", runStart)
		}
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}

	err = o.loop(ctx, log, res, tenant, unit, category, mode, cursor, cutoff, runStart)
	res.Duration = o.now().Sub(started)
	if err != nil {
		if res.Outcome != "" {
			metrics.UnitPasses.WithLabelValues(string(mode), string(res.Outcome)).Inc()
		}
		return res, err
	}

	if mode == domain.ModeIncremental && res.Outcome == OutcomeCaughtUp {
		if err := o.deps.Checkpoints.MarkRun(ctx, unit.ID, category, runStart); err != nil {
			res.Outcome = OutcomeAborted
			res.Err = err
			log.Error("failed to record incremental run", "error", err)
		}
	}

	metrics.UnitPasses.WithLabelValues(string(mode), string(res.Outcome)).Inc()
	log.Info("pass finished",
		"outcome", res.Outcome,
		"pages", res.Pages,
		"items", res.Items,
		"duration", res.Duration,
	)
	return res, nil
}

func (o *Orchestrator) loop(
	ctx context.Context,
	log *slog.Logger,
	res *Result,
	tenant domain.Tenant,
	unit domain.SyncUnit,
	category domain.Category,
	mode domain.Mode,
	cursor string,
	cutoff time.Time,
	runStart time.Time,
) error {
	rateLimitRetries := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if o.deps.Tracker.IsCritical(tenant.ID) {
			log.Warn("budget critical, stopping pass", "remaining", o.deps.Tracker.Remaining(tenant.ID))
			res.Outcome = OutcomeBudgetLow
			return nil
		}
		if o.cfg.MaxPagesPerCycle > 0 && res.Pages >= o.cfg.MaxPagesPerCycle {
			res.Outcome = OutcomePageCap
			return nil
		}

		req := domain.PageRequest{
			Tenant:   tenant,
			Unit:     unit,
			Category: category,
			Mode:     mode,
			Cursor:   cursor,
			PageSize: o.deps.Tracker.AdaptPageSize(o.cfg.PageSize, o.deps.Tracker.Remaining(tenant.ID)),
		}

		page, err := backoff.Retry(ctx, o.cfg.Backoff, func(ctx context.Context) (*domain.PageResult, error) {
			return o.deps.Fetcher.FetchPage(ctx, req)
		}, classify.IsRetryable)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			retry, err := o.handleFetchError(ctx, log, res, tenant, unit, category, err, &rateLimitRetries)
			if err != nil || !retry {
				return err
			}
			continue
		}
		rateLimitRetries = 0

		o.observeBudget(tenant.ID, page.Budget)
		metrics.PagesFetched.WithLabelValues(tenant.ID, string(category), string(mode)).Inc()
		res.Pages++

		if page.HasMore && page.NextCursor == "" {
			res.Outcome = OutcomeAborted
			res.Err = errors.New("remote reported more pages without a cursor")
			log.Error("cannot paginate", "error", res.Err)
			return nil
		}

		activities, err := o.process(ctx, unit, category, page.Items)
		if err != nil {
			res.Outcome = OutcomeAborted
			res.Err = err
			log.Error("item processing failed", "error", err)
			return nil
		}

		progress, err := o.deps.Checkpoints.CommitPage(ctx, checkpoint.Commit{
			UnitID:       unit.ID,
			Category:     category,
			Mode:         mode,
			Page:         page,
			Activities:   activities,
			RunStartedAt: runStart,
		})
		if err != nil {
			res.Outcome = OutcomeAborted
			res.Err = err
			log.Error("checkpoint commit failed", "error", err)
			return nil
		}
		res.Items += len(activities)
		o.deps.Cooldowns.RecordSuccess(unit.ID)

		if mode == domain.ModeBackfill {
			if progress.Complete() {
				res.Outcome = OutcomeComplete
				return nil
			}
		} else {
			// Items are ordered by update time, so the oldest on this page bounds the rest.
			if oldest := page.Oldest(); oldest != nil && oldest.UpdatedAt.Before(cutoff) {
				res.Outcome = OutcomeCaughtUp
				return nil
			}
			if !page.HasMore {
				res.Outcome = OutcomeCaughtUp
				return nil
			}
		}
		cursor = page.NextCursor

		delay := o.cfg.PageDelay + o.deps.Tracker.RecommendedDelay(tenant.ID)
		if err := o.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// handleFetchError applies the failure policy. It reports whether the same
// page should be fetched again.
func (o *Orchestrator) handleFetchError(
	ctx context.Context,
	log *slog.Logger,
	res *Result,
	tenant domain.Tenant,
	unit domain.SyncUnit,
	category domain.Category,
	err error,
	rateLimitRetries *int,
) (bool, error) {
	var carrier budgetCarrier
	if errors.As(err, &carrier) {
		o.observeBudget(tenant.ID, carrier.BudgetSnapshot())
	}

	cls := classify.Classify(err)
	metrics.FetchErrors.WithLabelValues(tenant.ID, string(category)).Inc()
	res.Err = err

	switch cls.Category {
	case classify.RateLimited:
		if *rateLimitRetries >= o.cfg.MaxRateLimitRetries {
			log.Warn("rate limit retries exhausted", "retries", *rateLimitRetries, "error", err)
			res.Outcome = OutcomeRateLimited
			return false, nil
		}
		*rateLimitRetries++

		wait := cls.SuggestedWait
		if wait <= 0 {
			wait = o.cfg.RateLimitWait
		}
		wait = min(wait, o.cfg.MaxRateLimitWait)
		log.Warn("rate limited, waiting", "wait", wait, "attempt", *rateLimitRetries)
		if err := o.sleep(ctx, wait); err != nil {
			return false, err
		}
		res.Err = nil
		return true, nil

	case classify.Retryable:
		until := o.deps.Cooldowns.RecordFailure(unit.ID)
		res.Outcome = OutcomeFailed
		res.CooldownUntil = until
		log.Warn("retries exhausted, unit cooling down", "until", until, "error", err)
		return false, nil

	case classify.NotFound:
		res.Outcome = OutcomeSkipped
		log.Info("remote resource not found, skipping", "error", err)
		return false, nil

	case classify.AuthError:
		res.Outcome = OutcomeAborted
		log.Error("credentials rejected", "error", err)
		return false, fmt.Errorf("%w: %w", ErrAuth, err)

	default:
		res.Outcome = OutcomeAborted
		log.Error("unrecoverable fetch error", "category", cls.Category, "error", err)
		return false, nil
	}
}

func (o *Orchestrator) process(
	ctx context.Context,
	unit domain.SyncUnit,
	category domain.Category,
	items []domain.Item,
) ([]*domain.Activity, error) {
	activities := make([]*domain.Activity, 0, len(items))
	for _, item := range items {
		act, err := o.deps.Processor.Process(ctx, unit, category, item)
		if err != nil {
			return nil, fmt.Errorf("process item %s: %w", item.ID, err)
		}
		if act != nil {
			activities = append(activities, act)
		}
	}
	return activities, nil
}

func (o *Orchestrator) observeBudget(tenant string, snap *domain.BudgetSnapshot) {
	if snap == nil {
		return
	}
	o.deps.Tracker.Update(tenant, snap)
	if o.deps.Predictor != nil && snap.Cost > 0 {
		o.deps.Predictor.RecordCost(tenant, snap.Cost)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
