// Package cooldown suspends sync units that keep failing.
//
// A unit moves Normal -> Cooldown(now+D) after a terminal failure and back
// to Normal once D passes. D is Short until the consecutive failure count
// reaches Threshold, then Long. A successful batch resets the count.
// Expired cooldowns are cleared lazily by IsInCooldown.
package cooldown

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/ghsync/internal/core/keyed"
	"github.com/vietddude/ghsync/internal/ingest/metrics"
)

// Config holds cooldown durations.
type Config struct {
	Short     time.Duration `yaml:"short"`
	Long      time.Duration `yaml:"long"`
	Threshold int           `yaml:"threshold"`
}

// DefaultConfig returns 5m / 15m with escalation at the third failure.
func DefaultConfig() Config {
	return Config{
		Short:     5 * time.Minute,
		Long:      15 * time.Minute,
		Threshold: 3,
	}
}

// State is the cooldown bookkeeping of one unit.
type State struct {
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Until               time.Time `json:"until"`
}

// Active reports whether the cooldown is still running at now.
func (s State) Active(now time.Time) bool {
	return !s.Until.IsZero() && now.Before(s.Until)
}

// Persister stores cooldown state outside the process.
type Persister interface {
	SaveCooldown(ctx context.Context, unitID string, st State) error
	DeleteCooldown(ctx context.Context, unitID string) error
	LoadCooldowns(ctx context.Context) (map[string]State, error)
}

// Manager tracks cooldowns per unit.
type Manager struct {
	cfg       Config
	states    *keyed.Store[State]
	persister Persister
	log       *slog.Logger
	now       func() time.Time
}

// NewManager creates a manager. persister may be nil.
func NewManager(cfg Config, store *keyed.Store[State], persister Persister) *Manager {
	def := DefaultConfig()
	if cfg.Short <= 0 {
		cfg.Short = def.Short
	}
	if cfg.Long < cfg.Short {
		cfg.Long = max(def.Long, cfg.Short)
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if store == nil {
		store = keyed.New[State]()
	}
	return &Manager{
		cfg:       cfg,
		states:    store,
		persister: persister,
		log:       slog.Default().With("component", "cooldown"),
		now:       time.Now,
	}
}

// Restore loads persisted cooldowns. Expired entries are ignored.
func (m *Manager) Restore(ctx context.Context) error {
	if m.persister == nil {
		return nil
	}
	states, err := m.persister.LoadCooldowns(ctx)
	if err != nil {
		return err
	}

	now := m.now()
	restored := 0
	for unitID, st := range states {
		if !st.Active(now) {
			continue
		}
		m.states.Update(unitID, func(State, bool) (State, bool) { return st, true })
		restored++
	}
	m.refreshGauge()
	m.log.Info("Restored cooldowns", "count", restored)
	return nil
}

// RecordFailure increments the failure count and starts a cooldown. It returns the expiry.
func (m *Manager) RecordFailure(unitID string) time.Time {
	now := m.now()
	st := m.states.Update(unitID, func(old State, _ bool) (State, bool) {
		old.ConsecutiveFailures++
		d := m.cfg.Short
		if old.ConsecutiveFailures >= m.cfg.Threshold {
			d = m.cfg.Long
		}
		old.Until = now.Add(d)
		return old, true
	})

	length := "short"
	if st.ConsecutiveFailures >= m.cfg.Threshold {
		length = "long"
	}
	metrics.CooldownsEntered.WithLabelValues(length).Inc()
	m.refreshGauge()
	m.persist(unitID, st)

	m.log.Warn("Unit entered cooldown",
		"unit", unitID,
		"failures", st.ConsecutiveFailures,
		"until", st.Until.Format(time.RFC3339),
	)
	return st.Until
}

// RecordSuccess resets the failure count and clears any cooldown.
func (m *Manager) RecordSuccess(unitID string) {
	if _, ok := m.states.Get(unitID); !ok {
		return
	}
	m.states.Delete(unitID)
	m.refreshGauge()

	if m.persister != nil {
		if err := m.persister.DeleteCooldown(context.Background(), unitID); err != nil {
			m.log.Warn("Failed to delete persisted cooldown", "unit", unitID, "error", err)
		}
	}
}

// IsInCooldown reports whether unitID is suspended, clearing an expired cooldown.
// The failure count survives expiry so the next failure keeps escalating.
func (m *Manager) IsInCooldown(unitID string) bool {
	now := m.now()
	active := false
	cleared := false
	m.states.Update(unitID, func(old State, found bool) (State, bool) {
		if !found {
			return old, false
		}
		if old.Active(now) {
			active = true
			return old, true
		}
		if !old.Until.IsZero() {
			old.Until = time.Time{}
			cleared = true
		}
		return old, true
	})
	if cleared {
		m.refreshGauge()
	}
	return active
}

// State returns the unit's cooldown state.
func (m *Manager) State(unitID string) (State, bool) {
	return m.states.Get(unitID)
}

// Snapshot returns every unit with cooldown state.
func (m *Manager) Snapshot() map[string]State {
	out := make(map[string]State)
	m.states.Range(func(k string, v State) bool {
		out[k] = v
		return true
	})
	return out
}

func (m *Manager) refreshGauge() {
	now := m.now()
	active := 0
	m.states.Range(func(_ string, st State) bool {
		if st.Active(now) {
			active++
		}
		return true
	})
	metrics.UnitsInCooldown.Set(float64(active))
}

func (m *Manager) persist(unitID string, st State) {
	if m.persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.persister.SaveCooldown(ctx, unitID, st); err != nil {
		m.log.Warn("Failed to persist cooldown", "unit", unitID, "error", err)
	}
}
