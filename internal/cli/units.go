package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/vietddude/ghsync/internal/core/domain"
)

var unitsCmd = &cobra.Command{
	Use:   "units",
	Short: "Manage registered sync units",
}

var unitsAddCmd = &cobra.Command{
	Use:   "add [tenant_id] [owner/name]",
	Short: "Register a repository for syncing",
	Args:  cobra.ExactArgs(2),
	Run:   runUnitsAdd,
}

var unitsDisableCmd = &cobra.Command{
	Use:   "disable [unit_id]",
	Short: "Stop scheduling a unit without deleting its data",
	Args:  cobra.ExactArgs(1),
	Run:   runUnitsDisable,
}

func init() {
	unitsCmd.AddCommand(unitsAddCmd, unitsDisableCmd)
	rootCmd.AddCommand(unitsCmd)
}

func runUnitsAdd(cmd *cobra.Command, args []string) {
	tenantID := args[0]
	owner, name, ok := strings.Cut(args[1], "/")
	if !ok || owner == "" || name == "" {
		fmt.Printf("Invalid repository %q, expected owner/name\n", args[1])
		os.Exit(1)
	}

	ctx := context.Background()
	db := openDB(ctx)
	defer func() {
		_ = db.Close()
	}()

	unit := &domain.SyncUnit{
		ID:        domain.UnitID(tenantID, owner, name),
		TenantID:  tenantID,
		Owner:     owner,
		Name:      name,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.Units().Save(ctx, unit); err != nil {
		slog.Error("Failed to register unit", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Registered %s as %s\n", unit.FullName(), unit.ID)
}

func runUnitsDisable(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	db := openDB(ctx)
	defer func() {
		_ = db.Close()
	}()

	if err := db.Units().SetActive(ctx, args[0], false); err != nil {
		slog.Error("Failed to disable unit", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Disabled unit %s\n", args[0])
}
