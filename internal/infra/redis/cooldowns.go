package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vietddude/ghsync/internal/ingest/cooldown"
)

// CooldownStore persists unit cooldowns in a Redis hash so restarts keep them.
type CooldownStore struct {
	client *Client
}

// NewCooldownStore creates a Redis-backed cooldown persister.
func NewCooldownStore(client *Client) *CooldownStore {
	return &CooldownStore{client: client}
}

func encodeCooldown(st cooldown.State) (string, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeCooldown(raw string) (cooldown.State, error) {
	var st cooldown.State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return cooldown.State{}, err
	}
	if st.Until.IsZero() && st.ConsecutiveFailures == 0 {
		return cooldown.State{}, fmt.Errorf("empty cooldown record")
	}
	return st, nil
}

// SaveCooldown stores the state of one unit.
func (s *CooldownStore) SaveCooldown(ctx context.Context, unitID string, st cooldown.State) error {
	data, err := encodeCooldown(st)
	if err != nil {
		return fmt.Errorf("failed to marshal cooldown: %w", err)
	}
	if err := s.client.rdb.HSet(ctx, s.client.cooldownKey(), unitID, data).Err(); err != nil {
		return fmt.Errorf("failed to save cooldown: %w", err)
	}
	return nil
}

// DeleteCooldown removes the state of one unit.
func (s *CooldownStore) DeleteCooldown(ctx context.Context, unitID string) error {
	if err := s.client.rdb.HDel(ctx, s.client.cooldownKey(), unitID).Err(); err != nil {
		return fmt.Errorf("failed to delete cooldown: %w", err)
	}
	return nil
}

// LoadCooldowns returns every stored state. Undecodable entries are dropped.
func (s *CooldownStore) LoadCooldowns(ctx context.Context) (map[string]cooldown.State, error) {
	raw, err := s.client.rdb.HGetAll(ctx, s.client.cooldownKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load cooldowns: %w", err)
	}

	out := make(map[string]cooldown.State, len(raw))
	var stale []string
	for unitID, data := range raw {
		st, err := decodeCooldown(data)
		if err != nil {
			stale = append(stale, unitID)
			continue
		}
		out[unitID] = st
	}
	if len(stale) > 0 {
		_ = s.client.rdb.HDel(ctx, s.client.cooldownKey(), stale...).Err()
	}
	return out, nil
}
