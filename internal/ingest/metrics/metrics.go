package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PagesFetched tracks pages fetched per tenant and category
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghsync_pages_fetched_total",
			Help: "Total number of pages fetched from the remote API",
		},
		[]string{"tenant", "category", "mode"},
	)

	// ItemsCommitted tracks items persisted together with a checkpoint
	ItemsCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghsync_items_committed_total",
			Help: "Total number of items committed with their checkpoint",
		},
		[]string{"category"},
	)

	// CheckpointCommits tracks atomic page commits
	CheckpointCommits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghsync_checkpoint_commits_total",
			Help: "Total number of page commits",
		},
		[]string{"category", "mode"},
	)

	// FetchErrors tracks classified fetch failures
	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghsync_fetch_errors_total",
			Help: "Total number of classified fetch failures",
		},
		[]string{"tenant", "category"},
	)

	// FetchRetries tracks backoff retries
	FetchRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ghsync_fetch_retries_total",
			Help: "Total number of backoff retries",
		},
	)

	// FetchLatency tracks remote page fetch latency
	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ghsync_fetch_latency_seconds",
			Help:    "Page fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"category"},
	)

	// BudgetRemaining is the last observed remaining rate budget per tenant
	BudgetRemaining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ghsync_budget_remaining",
			Help: "Remaining rate-limit points per tenant",
		},
		[]string{"tenant"},
	)

	// BudgetLimit is the rate budget size per tenant
	BudgetLimit = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ghsync_budget_limit",
			Help: "Rate-limit window size per tenant",
		},
		[]string{"tenant"},
	)

	// BudgetLastCost is the cost of the last query per tenant
	BudgetLastCost = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ghsync_budget_last_cost",
			Help: "Cost of the most recent query per tenant",
		},
		[]string{"tenant"},
	)

	// UnitsInCooldown is the number of units currently suspended
	UnitsInCooldown = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ghsync_units_in_cooldown",
			Help: "Number of sync units in cooldown",
		},
	)

	// CooldownsEntered tracks cooldown activations by length
	CooldownsEntered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghsync_cooldowns_entered_total",
			Help: "Total number of cooldowns entered",
		},
		[]string{"length"},
	)

	// UnitPasses tracks orchestrator pass outcomes
	UnitPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghsync_unit_passes_total",
			Help: "Total number of unit passes by outcome",
		},
		[]string{"mode", "outcome"},
	)

	// UnitsSkipped tracks units skipped by the scheduler
	UnitsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghsync_units_skipped_total",
			Help: "Total number of units skipped per reason",
		},
		[]string{"reason"},
	)

	// CycleDuration tracks scheduler cycle duration
	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ghsync_cycle_duration_seconds",
			Help:    "Scheduler cycle duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	// DBConnectionsOpen tracks open database connections
	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ghsync_db_connections_open",
			Help: "Number of open database connections",
		},
	)
)

// ForgetTenant removes every per-tenant series for tenant.
func ForgetTenant(tenant string) {
	BudgetRemaining.DeleteLabelValues(tenant)
	BudgetLimit.DeleteLabelValues(tenant)
	BudgetLastCost.DeleteLabelValues(tenant)
}
