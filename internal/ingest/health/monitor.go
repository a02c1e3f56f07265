package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/ghsync/internal/infra/graphql"
	"github.com/vietddude/ghsync/internal/ingest/budget"
	"github.com/vietddude/ghsync/internal/ingest/cooldown"
	"github.com/vietddude/ghsync/internal/ingest/scheduler"
)

// EndpointMonitor reports remote API health.
type EndpointMonitor interface {
	Stats() graphql.MonitorStats
}

// CooldownSource lists cooldown states by unit.
type CooldownSource interface {
	Snapshot() map[string]cooldown.State
}

// CycleSource reports the last scheduler cycle.
type CycleSource interface {
	LastCycle() scheduler.CycleStats
}

// Monitor aggregates health status from the engine's components.
type Monitor struct {
	tenants   []string
	tracker   *budget.Tracker
	predictor *budget.Predictor
	cooldowns CooldownSource
	endpoint  EndpointMonitor
	cycles    CycleSource

	cacheTTL   time.Duration
	lastCheck  time.Time
	lastReport HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor. predictor, endpoint and cycles may be nil.
func NewMonitor(
	tenants []string,
	tracker *budget.Tracker,
	predictor *budget.Predictor,
	cooldowns CooldownSource,
	endpoint EndpointMonitor,
	cycles CycleSource,
) *Monitor {
	return &Monitor{
		tenants:   tenants,
		tracker:   tracker,
		predictor: predictor,
		cooldowns: cooldowns,
		endpoint:  endpoint,
		cycles:    cycles,
		cacheTTL:  10 * time.Second,
	}
}

// CheckHealth builds a report. Results are cached briefly.
func (m *Monitor) CheckHealth(_ context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.lastCheck.IsZero() && time.Since(m.lastCheck) < m.cacheTTL {
		return m.lastReport
	}

	report := HealthReport{
		SystemStatus: StatusHealthy,
		Endpoint:     "unknown",
		Tenants:      make(map[string]TenantHealth, len(m.tenants)),
	}

	for _, id := range m.tenants {
		th := TenantHealth{
			TenantID:  id,
			Status:    StatusHealthy,
			Remaining: m.tracker.Remaining(id),
		}
		if st, ok := m.tracker.State(id); ok {
			th.Limit = st.Limit
			th.ResetAt = st.ResetAt
		}
		if m.predictor != nil {
			stats := m.predictor.Stats(id, th.Remaining)
			th.PointsPerMinute = stats.PointsPerMin
			th.TimeToExhaustion = stats.TimeToExhaustion
		}

		switch {
		case m.tracker.IsCritical(id):
			th.Status = StatusCritical
		case m.tracker.IsLow(id):
			th.Status = StatusDegraded
		}
		// One starved tenant degrades the service but does not make it unavailable.
		if th.Status != StatusHealthy {
			report.SystemStatus = worst(report.SystemStatus, StatusDegraded)
		}
		report.Tenants[id] = th
	}

	if m.cooldowns != nil {
		now := time.Now()
		for _, st := range m.cooldowns.Snapshot() {
			if st.Active(now) {
				report.UnitsInCooldown++
			}
		}
	}

	if m.endpoint != nil {
		stats := m.endpoint.Stats()
		report.Endpoint = stats.Status.String()
		if stats.Status != graphql.StatusHealthy {
			report.SystemStatus = worst(report.SystemStatus, StatusDegraded)
		}
	}

	if m.cycles != nil {
		if c := m.cycles.LastCycle(); c.RunID != "" {
			report.LastCycle = &CycleSummary{
				RunID:          c.RunID,
				StartedAt:      c.StartedAt,
				Duration:       c.Duration,
				Processed:      c.Processed,
				Failed:         c.Failed,
				Skipped:        c.Skipped,
				SkipReasons:    c.SkipReasons,
				AbortedTenants: c.AbortedTenants,
			}
			if len(c.AbortedTenants) > 0 && len(c.AbortedTenants) == len(m.tenants) {
				report.SystemStatus = StatusCritical
			} else if len(c.AbortedTenants) > 0 {
				report.SystemStatus = worst(report.SystemStatus, StatusDegraded)
			}
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}
