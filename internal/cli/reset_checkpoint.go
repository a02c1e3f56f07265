package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/vietddude/ghsync/internal/core/checkpoint"
	"github.com/vietddude/ghsync/internal/core/domain"
)

var markComplete bool

var resetCheckpointCmd = &cobra.Command{
	Use:   "reset-checkpoint [unit_id] [category]",
	Short: "Delete a unit's checkpoint so the next cycle backfills it from scratch",
	Long: `Without a category, every known category of the unit is reset.
With --complete the backfill is skipped instead: the category is marked
complete and incremental syncing starts from now.`,
	Args: cobra.RangeArgs(1, 2),
	Run:  runResetCheckpoint,
}

func init() {
	resetCheckpointCmd.Flags().BoolVar(&markComplete, "complete", false, "mark the category complete instead of restarting backfill")
	rootCmd.AddCommand(resetCheckpointCmd)
}

func runResetCheckpoint(cmd *cobra.Command, args []string) {
	unitID := args[0]
	categories := domain.Categories
	if len(args) == 2 {
		categories = []domain.Category{domain.Category(args[1])}
	}

	ctx := context.Background()
	db := openDB(ctx)
	defer func() {
		_ = db.Close()
	}()

	mgr := checkpoint.NewManager(db, db.Progress())
	if err := resetCheckpoints(ctx, mgr, unitID, categories, markComplete, time.Now().UTC()); err != nil {
		slog.Error("Failed to reset checkpoint", "unit", unitID, "error", err)
		os.Exit(1)
	}
}

// resetCheckpoints either deletes progress or marks it complete. A category
// marked complete without a baseline gets one at now.
func resetCheckpoints(
	ctx context.Context,
	mgr *checkpoint.Manager,
	unitID string,
	categories []domain.Category,
	complete bool,
	now time.Time,
) error {
	for _, cat := range categories {
		if !complete {
			if err := mgr.Reset(ctx, unitID, cat); err != nil {
				return fmt.Errorf("%s: %w", cat, err)
			}
			fmt.Printf("Reset %s for unit %s\n", cat, unitID)
			continue
		}

		if err := mgr.Clear(ctx, unitID, cat); err != nil {
			return fmt.Errorf("%s: %w", cat, err)
		}
		p, err := mgr.Read(ctx, unitID, cat)
		if err != nil {
			return fmt.Errorf("%s: %w", cat, err)
		}
		if !p.HasBaseline() {
			if err := mgr.MarkRun(ctx, unitID, cat, now); err != nil {
				return fmt.Errorf("%s: %w", cat, err)
			}
		}
		fmt.Printf("Marked %s complete for unit %s\n", cat, unitID)
	}
	return nil
}
