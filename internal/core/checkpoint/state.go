package checkpoint

import (
	"errors"
	"time"

	"github.com/vietddude/ghsync/internal/core/domain"
)

// Phase is the lifecycle position of one (unit, category).
type Phase string

const (
	PhasePending     Phase = "pending"
	PhaseBackfilling Phase = "backfilling"
	PhaseComplete    Phase = "complete"
)

// ErrInvalidTransition is returned when a commit would move progress backwards.
var ErrInvalidTransition = errors.New("invalid checkpoint transition")

// ValidTransitions defines allowed phase transitions.
// Key is the current phase, value is the list of valid next phases.
var ValidTransitions = map[Phase][]Phase{
	PhasePending:     {PhaseBackfilling, PhaseComplete},
	PhaseBackfilling: {PhaseBackfilling, PhaseComplete},
	PhaseComplete:    {PhaseComplete, PhasePending},
}

// PhaseOf derives the phase from persisted progress.
func PhaseOf(p *domain.Progress) Phase {
	switch {
	case p == nil || (p.Checkpoint == nil && p.Cursor == nil):
		return PhasePending
	case p.Complete():
		return PhaseComplete
	default:
		return PhaseBackfilling
	}
}

// CanTransition checks if a transition from one phase to another is valid.
func CanTransition(from, to Phase) bool {
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Transition records a phase change.
type Transition struct {
	From      Phase
	To        Phase
	Timestamp time.Time
}
