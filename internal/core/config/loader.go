package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/ghsync/internal/core/domain"
	"github.com/vietddude/ghsync/internal/infra/graphql"
	"github.com/vietddude/ghsync/internal/ingest/backoff"
	"github.com/vietddude/ghsync/internal/ingest/budget"
	"github.com/vietddude/ghsync/internal/ingest/cooldown"
	"github.com/vietddude/ghsync/internal/ingest/orchestrator"
	"github.com/vietddude/ghsync/internal/ingest/scheduler"
)

// ErrInvalidConfig is returned when a loaded configuration cannot run.
var ErrInvalidConfig = errors.New("invalid config")

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content, expanding environment variables first.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.GitHub.Endpoint == "" {
		cfg.GitHub.Endpoint = graphql.DefaultEndpoint
	}
	if cfg.GitHub.Timeout == 0 {
		cfg.GitHub.Timeout = 30 * time.Second
	}

	sched := scheduler.DefaultConfig()
	orch := orchestrator.DefaultConfig()
	if cfg.Sync.Storage == "" {
		if cfg.Database.URL != "" {
			cfg.Sync.Storage = StoragePostgres
		} else {
			cfg.Sync.Storage = StorageMemory
		}
	}
	if cfg.Sync.Interval == 0 {
		cfg.Sync.Interval = sched.Interval
	}
	if cfg.Sync.Workers == 0 {
		cfg.Sync.Workers = sched.Workers
	}
	if cfg.Sync.LockTTL == 0 {
		cfg.Sync.LockTTL = sched.LockTTL
	}
	if len(cfg.Sync.Categories) == 0 {
		cfg.Sync.Categories = append([]domain.Category(nil), domain.Categories...)
	}
	if cfg.Sync.PageSize == 0 {
		cfg.Sync.PageSize = orch.PageSize
	}
	if cfg.Sync.PageDelay == 0 {
		cfg.Sync.PageDelay = orch.PageDelay
	}
	if cfg.Sync.MaxPagesPerCycle == 0 {
		cfg.Sync.MaxPagesPerCycle = orch.MaxPagesPerCycle
	}
	if cfg.Sync.RateLimitWait == 0 {
		cfg.Sync.RateLimitWait = orch.RateLimitWait
	}
	if cfg.Sync.MaxRateLimitWait == 0 {
		cfg.Sync.MaxRateLimitWait = orch.MaxRateLimitWait
	}
	if cfg.Sync.MaxRateLimitRetries == 0 {
		cfg.Sync.MaxRateLimitRetries = orch.MaxRateLimitRetries
	}
	if cfg.Sync.EvictInterval == 0 {
		cfg.Sync.EvictInterval = 10 * time.Minute
	}

	if cfg.Budget == (budget.Config{}) {
		cfg.Budget = budget.DefaultConfig()
	} else {
		def := budget.DefaultConfig()
		if cfg.Budget.Full == 0 {
			cfg.Budget.Full = def.Full
		}
		if cfg.Budget.Low == 0 {
			cfg.Budget.Low = def.Low
		}
		if cfg.Budget.Critical == 0 {
			cfg.Budget.Critical = def.Critical
		}
		if cfg.Budget.MinWait == 0 {
			cfg.Budget.MinWait = def.MinWait
		}
		if cfg.Budget.MaxWait == 0 {
			cfg.Budget.MaxWait = def.MaxWait
		}
		if cfg.Budget.IdleTTL == 0 {
			cfg.Budget.IdleTTL = def.IdleTTL
		}
	}

	if cfg.Cooldown == (cooldown.Config{}) {
		cfg.Cooldown = cooldown.DefaultConfig()
	}
	if cfg.Backoff == (backoff.Config{}) {
		cfg.Backoff = backoff.DefaultConfig()
	}

	for i := range cfg.Tenants {
		if cfg.Tenants[i].Name == "" {
			cfg.Tenants[i].Name = cfg.Tenants[i].ID
		}
	}
}

// Validate checks the configuration is runnable.
func (c *AppConfig) Validate() error {
	if err := c.Budget.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	switch c.Sync.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("%w: postgres storage requires database.url", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage %q", ErrInvalidConfig, c.Sync.Storage)
	}

	for _, cat := range c.Sync.Categories {
		if cat != domain.CategoryIssues && cat != domain.CategoryPullRequests {
			return fmt.Errorf("%w: unknown category %q", ErrInvalidConfig, cat)
		}
	}

	seen := make(map[string]bool, len(c.Tenants))
	for _, t := range c.Tenants {
		if t.ID == "" {
			return fmt.Errorf("%w: tenant without id", ErrInvalidConfig)
		}
		if seen[t.ID] {
			return fmt.Errorf("%w: duplicate tenant %q", ErrInvalidConfig, t.ID)
		}
		seen[t.ID] = true
		for _, u := range t.Units {
			if u.Owner == "" || u.Name == "" {
				return fmt.Errorf("%w: tenant %q has a unit without owner/name", ErrInvalidConfig, t.ID)
			}
		}
	}
	return nil
}
