package domain

import (
	"encoding/json"
	"time"
)

// BudgetSnapshot carries the four rate-limit values a response may report.
type BudgetSnapshot struct {
	Remaining int
	Limit     int
	Cost      int
	ResetAt   time.Time
}

// Item is one raw entity returned by the remote API.
type Item struct {
	ID        string
	Ordinal   int64
	CreatedAt time.Time
	UpdatedAt time.Time
	Payload   json.RawMessage
}

// PageRequest describes one page fetch.
type PageRequest struct {
	Tenant   Tenant
	Unit     SyncUnit
	Category Category
	Mode     Mode
	Cursor   string
	PageSize int
}

// PageResult is the ephemeral outcome of one fetch.
type PageResult struct {
	Items      []Item
	NextCursor string
	HasMore    bool
	MinOrdinal int64
	MaxOrdinal int64
	Budget     *BudgetSnapshot
}

// Oldest returns the item with the earliest UpdatedAt, or nil for an empty page.
func (p *PageResult) Oldest() *Item {
	var oldest *Item
	for i := range p.Items {
		if oldest == nil || p.Items[i].UpdatedAt.Before(oldest.UpdatedAt) {
			oldest = &p.Items[i]
		}
	}
	return oldest
}
