package cli

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/ghsync/internal/core/checkpoint"
	"github.com/vietddude/ghsync/internal/core/domain"
	"github.com/vietddude/ghsync/internal/infra/storage/memory"
)

func seedBackfill(t *testing.T, mgr *checkpoint.Manager, unitID string, started time.Time) {
	t.Helper()
	_, err := mgr.CommitPage(context.Background(), checkpoint.Commit{
		UnitID:   unitID,
		Category: domain.CategoryIssues,
		Mode:     domain.ModeBackfill,
		Page: &domain.PageResult{
			Items:      []domain.Item{{ID: "I_50", Ordinal: 50}},
			NextCursor: "c1",
			HasMore:    true,
			MinOrdinal: 50,
			MaxOrdinal: 50,
		},
		Activities:   []*domain.Activity{{ID: "I_50", UnitID: unitID, Category: domain.CategoryIssues, Number: 50}},
		RunStartedAt: started,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestResetCheckpoints(t *testing.T) {
	ctx := context.Background()
	started := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	issues := []domain.Category{domain.CategoryIssues}

	t.Run("restart backfill", func(t *testing.T) {
		store := memory.NewMemoryStorage()
		mgr := checkpoint.NewManager(store, store.Progress())
		seedBackfill(t, mgr, "u1", started)

		if err := resetCheckpoints(ctx, mgr, "u1", issues, false, now); err != nil {
			t.Fatalf("reset: %v", err)
		}
		if p, _ := mgr.Read(ctx, "u1", domain.CategoryIssues); p != nil {
			t.Errorf("expected progress deleted, got %+v", p)
		}
	})

	t.Run("complete keeps baseline", func(t *testing.T) {
		store := memory.NewMemoryStorage()
		mgr := checkpoint.NewManager(store, store.Progress())
		seedBackfill(t, mgr, "u1", started)

		if err := resetCheckpoints(ctx, mgr, "u1", issues, true, now); err != nil {
			t.Fatalf("complete: %v", err)
		}
		p, _ := mgr.Read(ctx, "u1", domain.CategoryIssues)
		if !p.Complete() {
			t.Fatalf("expected complete progress, got %+v", p)
		}
		if !p.LastRunAt.Equal(started) {
			t.Errorf("expected existing baseline %v kept, got %v", started, p.LastRunAt)
		}
	})

	t.Run("complete without history", func(t *testing.T) {
		store := memory.NewMemoryStorage()
		mgr := checkpoint.NewManager(store, store.Progress())

		if err := resetCheckpoints(ctx, mgr, "fresh", issues, true, now); err != nil {
			t.Fatalf("complete: %v", err)
		}
		p, _ := mgr.Read(ctx, "fresh", domain.CategoryIssues)
		if !p.Complete() || !p.HasBaseline() || !p.LastRunAt.Equal(now) {
			t.Errorf("expected complete progress with baseline %v, got %+v", now, p)
		}
	})
}
