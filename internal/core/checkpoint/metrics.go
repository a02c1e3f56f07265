package checkpoint

import (
	"github.com/vietddude/ghsync/internal/core/domain"
	"github.com/vietddude/ghsync/internal/ingest/metrics"
)

func recordCommit(c Commit) {
	metrics.CheckpointCommits.WithLabelValues(string(c.Category), string(c.Mode)).Inc()
	metrics.ItemsCommitted.WithLabelValues(string(c.Category)).Add(float64(len(c.Activities)))
}

// TransitionFunc observes phase changes of a unit category.
type TransitionFunc func(unitID string, category domain.Category, t Transition)
