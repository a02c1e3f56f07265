package worker

import (
	"context"
	"log/slog"
	"time"
)

// IdleEvicter drops per-tenant state that has not been touched for a while.
type IdleEvicter interface {
	EvictIdle() []string
}

// Forgetter drops auxiliary per-tenant state.
type Forgetter interface {
	Forget(tenant string)
}

// Evictor periodically garbage-collects idle rate-budget entries.
type Evictor struct {
	interval time.Duration
	source   IdleEvicter
	forget   []Forgetter
	log      *slog.Logger
}

// NewEvictor creates a new Evictor worker.
func NewEvictor(interval time.Duration, source IdleEvicter, forget ...Forgetter) *Evictor {
	return &Evictor{
		interval: interval,
		source:   source,
		forget:   forget,
		log:      slog.Default().With("component", "evictor"),
	}
}

// Start runs the evictor loop until ctx ends.
func (e *Evictor) Start(ctx context.Context) {
	if e.interval <= 0 {
		return // Eviction disabled
	}

	ticker := time.NewTicker(max(e.interval, time.Second))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Evict()
		}
	}
}

// Evict runs one eviction pass and returns the evicted tenants.
func (e *Evictor) Evict() []string {
	evicted := e.source.EvictIdle()
	for _, tenant := range evicted {
		for _, f := range e.forget {
			f.Forget(tenant)
		}
	}
	if len(evicted) > 0 {
		e.log.Info("Evicted idle budget entries", "count", len(evicted), "tenants", evicted)
	}
	return evicted
}
