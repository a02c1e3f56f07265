package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/vietddude/ghsync/internal/core/checkpoint"
	"github.com/vietddude/ghsync/internal/core/domain"
	"github.com/vietddude/ghsync/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the checkpoint of every synced unit and category",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// openDB connects to the configured database for the admin commands.
func openDB(ctx context.Context) *postgres.DB {
	cfg := loadConfig()

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		slog.Error("Failed to migrate database", "error", err)
		os.Exit(1)
	}
	return db
}

func runStatus(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	db := openDB(ctx)
	defer func() {
		_ = db.Close()
	}()

	list, err := db.Progress().List(ctx)
	if err != nil {
		slog.Error("Failed to list progress", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "UNIT\tCATEGORY\tPHASE\tCHECKPOINT\tLAST RUN\tUPDATED")

	for _, p := range list {
		unit := p.UnitID
		if u, err := db.Units().Get(ctx, p.UnitID); err == nil && u != nil {
			unit = u.FullName()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			unit,
			p.Category,
			checkpoint.PhaseOf(p),
			formatOrdinal(p),
			formatTime(p.LastRunAt),
			p.UpdatedAt.Format(time.RFC3339),
		)
	}
	_ = w.Flush()
}

func formatOrdinal(p *domain.Progress) string {
	if p.Checkpoint == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *p.Checkpoint)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
