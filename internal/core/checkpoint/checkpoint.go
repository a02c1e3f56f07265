// Package checkpoint persists resumable pagination progress per sync unit
// and category.
//
// # Purpose
//
// A checkpoint remembers where a newest-first backfill is:
//   - Cursor: the opaque token of the next page to fetch
//   - High-water mark: the largest ordinal of the first batch ever committed
//   - Checkpoint: the smallest ordinal committed so far, 0 once complete
//   - Last run: the incremental baseline, stamped when backfill starts
//   - Incremental cursor: where an unfinished incremental pass resumes
//
// # Key Features
//
// Atomic Commits - CommitPage writes the page's activities and the advanced
// cursor in one transaction. A crash between the two is impossible; a crash
// before commit replays the same page, and activity upserts are idempotent.
//
// Phases - Progress moves PENDING -> BACKFILLING -> COMPLETE. A complete
// category only leaves COMPLETE through Reset.
//
// # Quick Start
//
//	mgr := checkpoint.NewManager(store, store.Progress())
//
//	p, _ := mgr.Read(ctx, "repo-1", domain.CategoryIssues)
//	page := fetch(p.ResumeCursor())
//
//	mgr.CommitPage(ctx, checkpoint.Commit{
//	    UnitID:     "repo-1",
//	    Category:   domain.CategoryIssues,
//	    Mode:       domain.ModeBackfill,
//	    Page:       page,
//	    Activities: activities,
//	})
//
// # Package Structure
//
//   - state.go   - Phase derivation and valid transitions
//   - manager.go - Read / CommitPage / Clear / MarkRun / Reset
//   - metrics.go - Commit counters and phase transition log
package checkpoint

import (
	"context"
	"time"

	"github.com/vietddude/ghsync/internal/core/domain"
)

// LowerBound is the smallest ordinal the remote assigns.
const LowerBound int64 = 1

// Commit is one page to persist together with its progress.
type Commit struct {
	UnitID     string
	Category   domain.Category
	Mode       domain.Mode
	Page       *domain.PageResult
	Activities []*domain.Activity

	// RunStartedAt becomes the incremental baseline on the first backfill
	// batch, and the start of an incremental pass on its first page.
	RunStartedAt time.Time
}

// Store is the checkpoint contract used by the orchestrator.
type Store interface {
	// Read returns the last committed progress, or nil when the category never ran.
	Read(ctx context.Context, unitID string, category domain.Category) (*domain.Progress, error)

	// CommitPage persists activities and the advanced progress atomically.
	CommitPage(ctx context.Context, c Commit) (*domain.Progress, error)

	// Clear marks the category complete.
	Clear(ctx context.Context, unitID string, category domain.Category) error

	// MarkRun records the end of a successful incremental pass and drops its resume cursor.
	MarkRun(ctx context.Context, unitID string, category domain.Category, at time.Time) error
}
