package control

import (
	"context"

	"github.com/vietddude/ghsync/internal/ingest/health"
	"github.com/vietddude/ghsync/internal/ingest/scheduler"
)

// Engine is the lifecycle surface the commands drive.
type Engine interface {
	// Start launches the scheduler, workers and health server in the background
	Start(ctx context.Context) error

	// Stop shuts everything down and releases storage
	Stop(ctx context.Context) error

	// RunOnce runs a single cycle in the foreground
	RunOnce(ctx context.Context) scheduler.CycleStats

	// Health returns the current health report
	Health(ctx context.Context) health.HealthReport
}

var _ Engine = (*Syncer)(nil)
