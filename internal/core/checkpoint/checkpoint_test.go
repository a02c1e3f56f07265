package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vietddude/ghsync/internal/core/domain"
	"github.com/vietddude/ghsync/internal/infra/storage"
	"github.com/vietddude/ghsync/internal/infra/storage/memory"
)

// =============================================================================
// Helpers
// =============================================================================

func page(nextCursor string, hasMore bool, ordinals ...int64) *domain.PageResult {
	p := &domain.PageResult{NextCursor: nextCursor, HasMore: hasMore}
	for i, ord := range ordinals {
		p.Items = append(p.Items, domain.Item{ID: fmt.Sprintf("item-%d", ord), Ordinal: ord})
		if i == 0 || ord < p.MinOrdinal {
			p.MinOrdinal = ord
		}
		if ord > p.MaxOrdinal {
			p.MaxOrdinal = ord
		}
	}
	return p
}

func activitiesFor(unitID string, p *domain.PageResult) []*domain.Activity {
	out := make([]*domain.Activity, 0, len(p.Items))
	for _, it := range p.Items {
		out = append(out, &domain.Activity{
			ID:       it.ID,
			UnitID:   unitID,
			Category: domain.CategoryIssues,
			Number:   it.Ordinal,
			Title:    "issue " + it.ID,
		})
	}
	return out
}

func backfill(unitID string, p *domain.PageResult) Commit {
	return Commit{
		UnitID:       unitID,
		Category:     domain.CategoryIssues,
		Mode:         domain.ModeBackfill,
		Page:         p,
		Activities:   activitiesFor(unitID, p),
		RunStartedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

type failingTx struct {
	storage.Tx
}

var errDiskFull = errors.New("disk full")

func (failingTx) SaveProgress(context.Context, *domain.Progress) error { return errDiskFull }

type failingTransactor struct {
	inner storage.Transactor
}

func (f failingTransactor) WithinTx(ctx context.Context, fn func(context.Context, storage.Tx) error) error {
	return f.inner.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return fn(ctx, failingTx{tx})
	})
}

// =============================================================================
// Tests
// =============================================================================

func TestManager_FirstBatchFixesHighWaterMark(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	mgr := NewManager(store, store.Progress())

	p, err := mgr.CommitPage(ctx, backfill("repo-1", page("c1", true, 100, 99, 98)))
	if err != nil {
		t.Fatalf("CommitPage failed: %v", err)
	}
	if *p.HighWaterMark != 100 || *p.Checkpoint != 98 || *p.Cursor != "c1" {
		t.Errorf("unexpected progress after first batch: hwm=%d checkpoint=%d cursor=%s",
			*p.HighWaterMark, *p.Checkpoint, *p.Cursor)
	}
	if p.LastRunAt == nil || !p.LastRunAt.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected baseline stamped from run start, got %v", p.LastRunAt)
	}

	p, err = mgr.CommitPage(ctx, backfill("repo-1", page("c2", true, 97, 96, 95)))
	if err != nil {
		t.Fatalf("CommitPage failed: %v", err)
	}
	if *p.HighWaterMark != 100 {
		t.Errorf("high-water mark must stay fixed, got %d", *p.HighWaterMark)
	}
	if *p.Checkpoint != 95 {
		t.Errorf("checkpoint should move down to 95, got %d", *p.Checkpoint)
	}
	if PhaseOf(p) != PhaseBackfilling {
		t.Errorf("expected backfilling, got %s", PhaseOf(p))
	}
}

func TestManager_CompletesAtLowerBound(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	mgr := NewManager(store, store.Progress())

	var transitions []Transition
	mgr.SetTransitionCallback(func(_ string, _ domain.Category, tr Transition) {
		transitions = append(transitions, tr)
	})

	// A single batch spanning the high-water mark down to ordinal 1.
	p, err := mgr.CommitPage(ctx, backfill("repo-1", page("c1", true, 3, 2, 1)))
	if err != nil {
		t.Fatalf("CommitPage failed: %v", err)
	}
	if !p.Complete() || *p.Checkpoint != 0 || *p.Cursor != domain.CursorComplete {
		t.Fatalf("expected complete progress, got checkpoint=%d cursor=%s", *p.Checkpoint, *p.Cursor)
	}
	if len(transitions) != 1 || transitions[0].To != PhaseComplete {
		t.Errorf("expected one transition to complete, got %+v", transitions)
	}

	// No further backfill batches are accepted for a complete category.
	_, err = mgr.CommitPage(ctx, backfill("repo-1", page("c2", true, 1)))
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestManager_CompletesWhenNoMorePages(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	mgr := NewManager(store, store.Progress())

	p, err := mgr.CommitPage(ctx, backfill("repo-1", page("", false, 40, 39)))
	if err != nil {
		t.Fatalf("CommitPage failed: %v", err)
	}
	if !p.Complete() {
		t.Error("expected complete when hasMore=false")
	}
}

func TestManager_RoundTripAfterRestart(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()

	mgr := NewManager(store, store.Progress())
	if _, err := mgr.CommitPage(ctx, backfill("repo-1", page("cursor-after-50", true, 60, 55, 50))); err != nil {
		t.Fatalf("CommitPage failed: %v", err)
	}

	// A fresh manager over the same store models a process restart.
	restarted := NewManager(store, store.Progress())
	p, err := restarted.Read(ctx, "repo-1", domain.CategoryIssues)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got := p.ResumeCursor(); got != "cursor-after-50" {
		t.Errorf("expected resume cursor-after-50, got %q", got)
	}
}

func TestManager_ReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	mgr := NewManager(store, store.Progress())

	pg := page("c1", true, 10, 9, 8)
	if _, err := mgr.CommitPage(ctx, backfill("repo-1", pg)); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}
	once, _ := store.Activities().Count(ctx, "repo-1", domain.CategoryIssues)
	first, _ := mgr.Read(ctx, "repo-1", domain.CategoryIssues)

	if _, err := mgr.CommitPage(ctx, backfill("repo-1", pg)); err != nil {
		t.Fatalf("replayed commit failed: %v", err)
	}
	twice, _ := store.Activities().Count(ctx, "repo-1", domain.CategoryIssues)
	second, _ := mgr.Read(ctx, "repo-1", domain.CategoryIssues)

	if once != twice || once != 3 {
		t.Errorf("expected 3 activities after replay, got %d then %d", once, twice)
	}
	if *first.Cursor != *second.Cursor || *first.Checkpoint != *second.Checkpoint ||
		*first.HighWaterMark != *second.HighWaterMark {
		t.Error("replaying a page changed the checkpoint")
	}
}

func TestManager_CommitIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	mgr := NewManager(failingTransactor{inner: store}, store.Progress())

	_, err := mgr.CommitPage(ctx, backfill("repo-1", page("c1", true, 5, 4)))
	if !errors.Is(err, errDiskFull) {
		t.Fatalf("expected disk full error, got %v", err)
	}

	n, _ := store.Activities().Count(ctx, "repo-1", domain.CategoryIssues)
	if n != 0 {
		t.Errorf("activities landed without their checkpoint: %d rows", n)
	}
	p, _ := store.Progress().Get(ctx, "repo-1", domain.CategoryIssues)
	if p != nil {
		t.Error("progress must not exist after a failed commit")
	}
}

func TestManager_IncrementalLeavesCursorAlone(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	mgr := NewManager(store, store.Progress())

	if _, err := mgr.CommitPage(ctx, backfill("repo-1", page("backfill-cursor", true, 20, 19))); err != nil {
		t.Fatalf("backfill commit failed: %v", err)
	}

	inc := backfill("repo-1", page("incremental-cursor", true, 25, 24))
	inc.Mode = domain.ModeIncremental
	if _, err := mgr.CommitPage(ctx, inc); err != nil {
		t.Fatalf("incremental commit failed: %v", err)
	}

	p, _ := mgr.Read(ctx, "repo-1", domain.CategoryIssues)
	if p.ResumeCursor() != "backfill-cursor" {
		t.Errorf("incremental pass moved the backfill cursor to %q", p.ResumeCursor())
	}
	if n, _ := store.Activities().Count(ctx, "repo-1", domain.CategoryIssues); n != 4 {
		t.Errorf("expected 4 activities, got %d", n)
	}
	cursor, started, ok := p.ResumeIncremental()
	if !ok || cursor != "incremental-cursor" || !started.Equal(inc.RunStartedAt) {
		t.Errorf("expected resumable incremental pass, got %q %v %v", cursor, started, ok)
	}

	// A later cycle continues the same pass and keeps its start time.
	next := backfill("repo-1", page("incremental-cursor-2", true, 23))
	next.Mode = domain.ModeIncremental
	next.RunStartedAt = inc.RunStartedAt.Add(time.Hour)
	if _, err := mgr.CommitPage(ctx, next); err != nil {
		t.Fatalf("incremental commit failed: %v", err)
	}
	p, _ = mgr.Read(ctx, "repo-1", domain.CategoryIssues)
	cursor, started, _ = p.ResumeIncremental()
	if cursor != "incremental-cursor-2" || !started.Equal(inc.RunStartedAt) {
		t.Errorf("expected cursor to advance with the original start, got %q %v", cursor, started)
	}

	at := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	if err := mgr.MarkRun(ctx, "repo-1", domain.CategoryIssues, at); err != nil {
		t.Fatalf("MarkRun failed: %v", err)
	}
	p, _ = mgr.Read(ctx, "repo-1", domain.CategoryIssues)
	if !p.LastRunAt.Equal(at) || p.ResumeCursor() != "backfill-cursor" {
		t.Errorf("MarkRun should only move the baseline: %+v", p)
	}
	if _, _, ok := p.ResumeIncremental(); ok || p.IncrementalStartedAt != nil {
		t.Errorf("MarkRun should end the incremental pass: %+v", p)
	}
}

func TestManager_ClearAndReset(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	mgr := NewManager(store, store.Progress())

	if _, err := mgr.CommitPage(ctx, backfill("repo-1", page("c1", true, 9, 8))); err != nil {
		t.Fatalf("CommitPage failed: %v", err)
	}
	if err := mgr.Clear(ctx, "repo-1", domain.CategoryIssues); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	p, _ := mgr.Read(ctx, "repo-1", domain.CategoryIssues)
	if !p.Complete() || *p.HighWaterMark != 9 {
		t.Errorf("Clear should complete and keep hwm, got %+v", p)
	}

	if err := mgr.Reset(ctx, "repo-1", domain.CategoryIssues); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	p, _ = mgr.Read(ctx, "repo-1", domain.CategoryIssues)
	if PhaseOf(p) != PhasePending {
		t.Errorf("expected pending after reset, got %s", PhaseOf(p))
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Phase
		want     bool
	}{
		{PhasePending, PhaseBackfilling, true},
		{PhasePending, PhaseComplete, true},
		{PhaseBackfilling, PhaseComplete, true},
		{PhaseBackfilling, PhasePending, false},
		{PhaseComplete, PhaseBackfilling, false},
		{PhaseComplete, PhasePending, true},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
