// Package budget tracks the remote API's rate-limit budget per tenant.
//
// This package contains:
//   - Tracker: remaining/limit/reset bookkeeping fed by response metadata
//   - AdaptPageSize: three-tier page size degradation
//   - Predictor: point consumption rate and time-to-exhaustion estimate
//
// Thresholds are ordered Critical < Low < Full. A tenant that was never
// observed reports Full. Once the reset instant passes, Remaining restores
// the tenant to its limit without waiting for a fresh response.
package budget

import (
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/ghsync/internal/core/domain"
	"github.com/vietddude/ghsync/internal/core/keyed"
	"github.com/vietddude/ghsync/internal/ingest/metrics"
)

// ErrInvalidThresholds is returned when thresholds are not Critical < Low < Full.
var ErrInvalidThresholds = errors.New("budget thresholds must satisfy critical < low < full")

// Config holds budget thresholds and delay bounds.
type Config struct {
	Full     int `yaml:"full"`
	Low      int `yaml:"low"`
	Critical int `yaml:"critical"`

	MinWait time.Duration `yaml:"min_wait"`
	MaxWait time.Duration `yaml:"max_wait"`

	// IdleTTL is how long an untouched tenant entry survives EvictIdle.
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

// DefaultConfig matches a 5000-point hourly window.
func DefaultConfig() Config {
	return Config{
		Full:     5000,
		Low:      500,
		Critical: 100,
		MinWait:  500 * time.Millisecond,
		MaxWait:  30 * time.Second,
		IdleTTL:  2 * time.Hour,
	}
}

// Validate checks threshold ordering.
func (c Config) Validate() error {
	if c.Critical < 0 || c.Critical >= c.Low || c.Low >= c.Full {
		return fmt.Errorf("%w: critical=%d low=%d full=%d", ErrInvalidThresholds, c.Critical, c.Low, c.Full)
	}
	if c.MaxWait < c.MinWait {
		return fmt.Errorf("budget max_wait %s below min_wait %s", c.MaxWait, c.MinWait)
	}
	return nil
}

// State is the last known budget of one tenant.
type State struct {
	Remaining int
	Limit     int
	ResetAt   time.Time
	LastCost  int
	UpdatedAt time.Time
}

// Tracker records per-tenant budgets from response metadata.
type Tracker struct {
	cfg    Config
	states *keyed.Store[State]
	now    func() time.Time
}

// NewTracker creates a tracker over the given store. A nil store gets a fresh one.
func NewTracker(cfg Config, store *keyed.Store[State]) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		store = keyed.New[State]()
	}
	return &Tracker{cfg: cfg, states: store, now: time.Now}, nil
}

// Config returns the tracker's thresholds.
func (t *Tracker) Config() Config {
	return t.cfg
}

// Update records a response's rate-limit metadata. A nil snapshot is a no-op.
func (t *Tracker) Update(tenant string, snap *domain.BudgetSnapshot) {
	if snap == nil {
		return
	}

	now := t.now()
	st := t.states.Update(tenant, func(old State, _ bool) (State, bool) {
		next := State{
			Remaining: snap.Remaining,
			Limit:     snap.Limit,
			ResetAt:   snap.ResetAt,
			LastCost:  snap.Cost,
			UpdatedAt: now,
		}
		if next.Limit <= 0 {
			next.Limit = old.Limit
		}
		return next, true
	})

	metrics.BudgetRemaining.WithLabelValues(tenant).Set(float64(st.Remaining))
	metrics.BudgetLimit.WithLabelValues(tenant).Set(float64(st.Limit))
	metrics.BudgetLastCost.WithLabelValues(tenant).Set(float64(st.LastCost))
}

// Remaining returns the tenant's remaining budget, Full for unseen tenants.
func (t *Tracker) Remaining(tenant string) int {
	st, ok := t.current(tenant)
	if !ok {
		return t.cfg.Full
	}
	return st.Remaining
}

// IsLow reports remaining below the low threshold.
func (t *Tracker) IsLow(tenant string) bool {
	return t.Remaining(tenant) < t.cfg.Low
}

// IsCritical reports remaining below the critical threshold.
func (t *Tracker) IsCritical(tenant string) bool {
	return t.Remaining(tenant) < t.cfg.Critical
}

// RecommendedDelay spreads the time until reset over the usable budget.
func (t *Tracker) RecommendedDelay(tenant string) time.Duration {
	st, ok := t.current(tenant)
	if !ok || st.Remaining >= t.cfg.Low {
		return 0
	}

	untilReset := st.ResetAt.Sub(t.now())
	if untilReset <= 0 {
		return 0
	}

	usable := max(st.Remaining-t.cfg.Critical, 1)
	delay := untilReset / time.Duration(usable)
	return min(max(delay, t.cfg.MinWait), t.cfg.MaxWait)
}

// AdaptPageSize applies AdaptPageSize with this tracker's thresholds.
func (t *Tracker) AdaptPageSize(base int, remaining int) int {
	return AdaptPageSize(base, remaining, t.cfg.Low, t.cfg.Critical)
}

// AdaptPageSize returns base when healthy, base/2 (at least 10) when low
// and base/4 (at least 5) when critical. The result never exceeds base.
func AdaptPageSize(base, remaining, low, critical int) int {
	switch {
	case remaining < critical:
		return max(base/4, min(base, 5))
	case remaining < low:
		return max(base/2, min(base, 10))
	default:
		return base
	}
}

// State returns a copy of the tenant's state after the reset check.
func (t *Tracker) State(tenant string) (State, bool) {
	return t.current(tenant)
}

// Snapshot returns every tracked tenant's state.
func (t *Tracker) Snapshot() map[string]State {
	out := make(map[string]State, t.states.Len())
	t.states.Range(func(k string, v State) bool {
		out[k] = v
		return true
	})
	return out
}

// EvictIdle drops tenants not updated within IdleTTL and unregisters their gauges.
func (t *Tracker) EvictIdle() []string {
	evicted := t.states.EvictIdle(t.cfg.IdleTTL)
	for _, tenant := range evicted {
		metrics.ForgetTenant(tenant)
	}
	return evicted
}

// current returns the state, restoring it to its limit once reset has passed.
func (t *Tracker) current(tenant string) (State, bool) {
	st, ok := t.states.Get(tenant)
	if !ok {
		return State{}, false
	}

	now := t.now()
	if st.ResetAt.IsZero() || now.Before(st.ResetAt) || st.Remaining >= t.resetValue(st) {
		return st, true
	}

	present := false
	st = t.states.Update(tenant, func(old State, found bool) (State, bool) {
		if !found {
			return old, false
		}
		present = true
		if !old.ResetAt.IsZero() && !now.Before(old.ResetAt) {
			old.Remaining = t.resetValue(old)
		}
		return old, true
	})
	if !present {
		return State{}, false
	}
	metrics.BudgetRemaining.WithLabelValues(tenant).Set(float64(st.Remaining))
	return st, true
}

// resetValue is the budget a tenant gets back after its window resets. A
// response without a limit falls back to the configured full budget.
func (t *Tracker) resetValue(st State) int {
	if st.Limit > 0 {
		return st.Limit
	}
	return t.cfg.Full
}
