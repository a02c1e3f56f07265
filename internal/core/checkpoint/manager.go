package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/ghsync/internal/core/domain"
	"github.com/vietddude/ghsync/internal/infra/storage"
)

// ErrNilPage is returned when CommitPage is called without a page.
var ErrNilPage = errors.New("commit without page")

// Manager implements Store over a transactional storage backend.
type Manager struct {
	tx       storage.Transactor
	progress storage.ProgressRepository
	now      func() time.Time

	mu       sync.RWMutex
	onChange TransitionFunc
}

var _ Store = (*Manager)(nil)

// NewManager creates a checkpoint manager.
func NewManager(tx storage.Transactor, progress storage.ProgressRepository) *Manager {
	return &Manager{tx: tx, progress: progress, now: time.Now}
}

// SetTransitionCallback registers a callback for phase changes.
func (m *Manager) SetTransitionCallback(fn TransitionFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Read returns the last committed progress.
func (m *Manager) Read(ctx context.Context, unitID string, category domain.Category) (*domain.Progress, error) {
	p, err := m.progress.Get(ctx, unitID, category)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	return p, nil
}

// CommitPage writes activities and progress in one transaction.
//
// Backfill: the first batch fixes the high-water mark and the incremental
// baseline; every batch lowers the checkpoint to the page's minimum ordinal
// and stores the next cursor. Reaching LowerBound, or a page without more
// results, completes the category in the same transaction.
//
// Incremental: activities are written together with the cursor the pass
// resumes from next cycle; the backfill cursor is untouched.
func (m *Manager) CommitPage(ctx context.Context, c Commit) (*domain.Progress, error) {
	if c.Page == nil {
		return nil, ErrNilPage
	}

	var (
		result *domain.Progress
		from   Phase
		to     Phase
	)
	err := m.tx.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.UpsertActivities(ctx, c.Activities); err != nil {
			return err
		}

		prev, err := tx.GetProgress(ctx, c.UnitID, c.Category)
		if err != nil {
			return err
		}
		from = PhaseOf(prev)

		if c.Mode != domain.ModeBackfill {
			to = from
			if prev == nil {
				return nil
			}
			next := resumeIncremental(prev, c, m.now())
			if err := tx.SaveProgress(ctx, next); err != nil {
				return err
			}
			result = next
			return nil
		}
		if from == PhaseComplete {
			return fmt.Errorf("%w: %s/%s is already complete", ErrInvalidTransition, c.UnitID, c.Category)
		}

		next := advance(prev, c, m.now())
		to = PhaseOf(next)
		if !CanTransition(from, to) {
			return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidTransition, from, to)
		}
		if err := tx.SaveProgress(ctx, next); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to commit page: %w", err)
	}

	recordCommit(c)
	if from != to {
		m.notify(c.UnitID, c.Category, from, to)
	}
	return result, nil
}

// advance computes the progress after committing a backfill page.
func advance(prev *domain.Progress, c Commit, now time.Time) *domain.Progress {
	next := &domain.Progress{UnitID: c.UnitID, Category: c.Category}
	if prev != nil {
		next.HighWaterMark = prev.HighWaterMark
		next.Checkpoint = prev.Checkpoint
		next.LastRunAt = prev.LastRunAt
	}

	page := c.Page
	hasItems := len(page.Items) > 0

	if next.HighWaterMark == nil && hasItems {
		hwm := page.MaxOrdinal
		next.HighWaterMark = &hwm
	}
	if next.LastRunAt == nil {
		started := c.RunStartedAt
		if started.IsZero() {
			started = now
		}
		next.LastRunAt = &started
	}
	if hasItems && (next.Checkpoint == nil || page.MinOrdinal < *next.Checkpoint) {
		low := page.MinOrdinal
		next.Checkpoint = &low
	}

	cursor := page.NextCursor
	next.Cursor = &cursor

	if !page.HasMore || (hasItems && page.MinOrdinal <= LowerBound) {
		markComplete(next)
	}
	return next
}

// resumeIncremental records where an incremental pass continues. The pass
// start is kept from the first page so a pass spanning several cycles still
// stamps the baseline it began with.
func resumeIncremental(prev *domain.Progress, c Commit, now time.Time) *domain.Progress {
	next := *prev
	if !c.Page.HasMore || c.Page.NextCursor == "" {
		next.IncrementalCursor = nil
		return &next
	}

	cursor := c.Page.NextCursor
	next.IncrementalCursor = &cursor
	if next.IncrementalStartedAt == nil {
		started := c.RunStartedAt
		if started.IsZero() {
			started = now
		}
		next.IncrementalStartedAt = &started
	}
	return &next
}

func markComplete(p *domain.Progress) {
	zero := int64(0)
	done := domain.CursorComplete
	p.Checkpoint = &zero
	p.Cursor = &done
}

// Clear marks the category complete, keeping its high-water mark and baseline.
func (m *Manager) Clear(ctx context.Context, unitID string, category domain.Category) error {
	var from Phase
	err := m.tx.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		prev, err := tx.GetProgress(ctx, unitID, category)
		if err != nil {
			return err
		}
		from = PhaseOf(prev)

		next := &domain.Progress{UnitID: unitID, Category: category}
		if prev != nil {
			next.HighWaterMark = prev.HighWaterMark
			next.LastRunAt = prev.LastRunAt
		}
		markComplete(next)
		return tx.SaveProgress(ctx, next)
	})
	if err != nil {
		return fmt.Errorf("failed to clear checkpoint: %w", err)
	}
	if from != PhaseComplete {
		m.notify(unitID, category, from, PhaseComplete)
	}
	return nil
}

// MarkRun stamps the incremental baseline and ends any unfinished incremental
// pass. The backfill cursor is untouched.
func (m *Manager) MarkRun(ctx context.Context, unitID string, category domain.Category, at time.Time) error {
	err := m.tx.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		prev, err := tx.GetProgress(ctx, unitID, category)
		if err != nil {
			return err
		}
		next := &domain.Progress{UnitID: unitID, Category: category}
		if prev != nil {
			next = prev
		}
		next.LastRunAt = &at
		next.IncrementalCursor = nil
		next.IncrementalStartedAt = nil
		return tx.SaveProgress(ctx, next)
	})
	if err != nil {
		return fmt.Errorf("failed to mark run: %w", err)
	}
	return nil
}

// Reset deletes progress so the next pass starts a fresh backfill.
func (m *Manager) Reset(ctx context.Context, unitID string, category domain.Category) error {
	prev, err := m.progress.Get(ctx, unitID, category)
	if err != nil {
		return fmt.Errorf("failed to read checkpoint: %w", err)
	}
	if err := m.progress.Delete(ctx, unitID, category); err != nil {
		return fmt.Errorf("failed to reset checkpoint: %w", err)
	}
	if from := PhaseOf(prev); from != PhasePending {
		m.notify(unitID, category, from, PhasePending)
	}
	return nil
}

func (m *Manager) notify(unitID string, category domain.Category, from, to Phase) {
	m.mu.RLock()
	fn := m.onChange
	m.mu.RUnlock()
	if fn != nil {
		fn(unitID, category, Transition{From: from, To: to, Timestamp: m.now()})
	}
}
