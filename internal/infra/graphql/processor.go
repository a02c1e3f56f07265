package graphql

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vietddude/ghsync/internal/core/domain"
)

// Processor maps raw issue and pull request nodes to activities.
type Processor struct{}

// NewProcessor creates a node-to-activity mapper.
func NewProcessor() *Processor {
	return &Processor{}
}

type activityNode struct {
	ID     string `json:"id"`
	Number int64  `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
	Author *struct {
		Login string `json:"login"`
	} `json:"author"`
}

// Process returns nil for nodes that cannot be stored, such as entries without an ID.
func (p *Processor) Process(_ context.Context, unit domain.SyncUnit, category domain.Category, item domain.Item) (*domain.Activity, error) {
	if item.ID == "" {
		return nil, nil
	}

	var n activityNode
	if err := json.Unmarshal(item.Payload, &n); err != nil {
		return nil, fmt.Errorf("decode %s node %s: %w", category, item.ID, err)
	}

	author := "ghost"
	if n.Author != nil && n.Author.Login != "" {
		author = n.Author.Login
	}

	return &domain.Activity{
		ID:        item.ID,
		UnitID:    unit.ID,
		Category:  category,
		Number:    item.Ordinal,
		Title:     n.Title,
		State:     n.State,
		Author:    author,
		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
	}, nil
}
