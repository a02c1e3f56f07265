package domain

import "time"

// Category is one item stream of a sync unit.
type Category string

const (
	CategoryIssues       Category = "issues"
	CategoryPullRequests Category = "pull_requests"
)

// Categories lists every stream the engine knows how to sync, in sync order.
var Categories = []Category{CategoryIssues, CategoryPullRequests}

// Mode selects how a pass traverses a category.
type Mode string

const (
	// ModeBackfill walks history newest-first, resuming from the stored cursor.
	ModeBackfill Mode = "backfill"
	// ModeIncremental re-reads the newest pages until it crosses the last run time.
	ModeIncremental Mode = "incremental"
)

// CursorComplete is the terminal cursor value of a finished backfill.
const CursorComplete = "__complete__"

// Progress is the persisted checkpoint of one (unit, category).
type Progress struct {
	UnitID        string     `db:"unit_id"`
	Category      Category   `db:"category"`
	Cursor        *string    `db:"cursor"`
	HighWaterMark *int64     `db:"high_water_mark"`
	Checkpoint    *int64     `db:"checkpoint"`
	LastRunAt     *time.Time `db:"last_run_at"`
	UpdatedAt     time.Time  `db:"updated_at"`

	// An incremental pass cut short by the page cap or budget resumes here.
	IncrementalCursor    *string    `db:"incremental_cursor"`
	IncrementalStartedAt *time.Time `db:"incremental_started_at"`
}

// Complete reports whether backfill reached the terminal state.
func (p *Progress) Complete() bool {
	return p != nil && p.Checkpoint != nil && *p.Checkpoint == 0
}

// ResumeCursor returns the cursor to continue backfill from, or "" to start at page 1.
func (p *Progress) ResumeCursor() string {
	if p == nil || p.Cursor == nil || *p.Cursor == CursorComplete {
		return ""
	}
	return *p.Cursor
}

// HasBaseline reports whether an incremental cutoff exists.
func (p *Progress) HasBaseline() bool {
	return p != nil && p.LastRunAt != nil
}

// ResumeIncremental returns the cursor of an unfinished incremental pass and
// the time that pass started.
func (p *Progress) ResumeIncremental() (string, time.Time, bool) {
	if p == nil || p.IncrementalCursor == nil || *p.IncrementalCursor == "" {
		return "", time.Time{}, false
	}
	var started time.Time
	if p.IncrementalStartedAt != nil {
		started = *p.IncrementalStartedAt
	}
	return *p.IncrementalCursor, started, true
}
