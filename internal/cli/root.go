package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/ghsync/internal/control"
	"github.com/vietddude/ghsync/internal/core/config"
	"github.com/vietddude/stylelog"
)

var (
	cfgPath string
	isDebug bool
	runOnce bool
)

var rootCmd = &cobra.Command{
	Use:   "ghsync",
	Short: "GitHub GraphQL sync engine",
	Long:  `ghsync mirrors issues and pull requests from the GitHub GraphQL API into local storage, staying inside each tenant's rate budget.`,
	Run:   runSync,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync engine until interrupted",
	Run:   runSync,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.Flags().BoolVar(&runOnce, "once", false, "run a single sync cycle and exit")
	runCmd.Flags().BoolVar(&runOnce, "once", false, "run a single sync cycle and exit")
	rootCmd.AddCommand(runCmd)
}

// loadConfig reads .env and the config file, then sets up the default logger.
func loadConfig() *config.AppConfig {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	slogLevel := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}

	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})
	return cfg
}

func runSync(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := control.NewSyncer(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize Syncer", "error", err)
		os.Exit(1)
	}

	if runOnce {
		stats := app.RunOnce(ctx)
		slog.Info("Cycle finished",
			"processed", stats.Processed,
			"failed", stats.Failed,
			"skipped", stats.Skipped,
			"duration", stats.Duration,
		)
		if err := app.Stop(ctx); err != nil {
			slog.Error("Error during shutdown", "error", err)
		}
		if stats.Failed > 0 || len(stats.AbortedTenants) > 0 {
			os.Exit(1)
		}
		return
	}

	serve(ctx, app)
}

// serve starts the engine and blocks until SIGINT or SIGTERM.
func serve(ctx context.Context, app control.Engine) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start Syncer", "error", err)
		os.Exit(1)
	}

	slog.Info("Syncer running", "config", cfgPath)

	sig := <-sigChan
	slog.Info("Received signal, shutting down...", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}
}
