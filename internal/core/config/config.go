package config

import (
	"time"

	"github.com/vietddude/ghsync/internal/core/domain"
	"github.com/vietddude/ghsync/internal/infra/graphql"
	redisclient "github.com/vietddude/ghsync/internal/infra/redis"
	"github.com/vietddude/ghsync/internal/infra/storage/postgres"
	"github.com/vietddude/ghsync/internal/ingest/backoff"
	"github.com/vietddude/ghsync/internal/ingest/budget"
	"github.com/vietddude/ghsync/internal/ingest/cooldown"
	"github.com/vietddude/ghsync/internal/ingest/orchestrator"
	"github.com/vietddude/ghsync/internal/ingest/scheduler"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	GitHub   graphql.Config     `yaml:"github"`
	Sync     SyncConfig         `yaml:"sync"`
	Budget   budget.Config      `yaml:"budget"`
	Cooldown cooldown.Config    `yaml:"cooldown"`
	Backoff  backoff.Config     `yaml:"backoff"`
	Tenants  []TenantConfig     `yaml:"tenants"`
	Redis    redisclient.Config `yaml:"redis"`
	Database postgres.Config    `yaml:"database"`
	Logging  LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// SyncConfig holds scheduling and page-loop settings.
type SyncConfig struct {
	Storage    string            `yaml:"storage"` // postgres, memory
	Interval   time.Duration     `yaml:"interval"`
	Workers    int               `yaml:"workers"`
	LockTTL    time.Duration     `yaml:"lock_ttl"`
	Categories []domain.Category `yaml:"categories"`

	PageSize            int           `yaml:"page_size"`
	PageDelay           time.Duration `yaml:"page_delay"`
	MaxPagesPerCycle    int           `yaml:"max_pages_per_cycle"`
	RateLimitWait       time.Duration `yaml:"rate_limit_wait"`
	MaxRateLimitWait    time.Duration `yaml:"max_rate_limit_wait"`
	MaxRateLimitRetries int           `yaml:"max_rate_limit_retries"`

	EvictInterval time.Duration `yaml:"evict_interval"`
}

// Scheduler returns the fan-out settings.
func (s SyncConfig) Scheduler() scheduler.Config {
	return scheduler.Config{
		Interval:   s.Interval,
		Workers:    s.Workers,
		LockTTL:    s.LockTTL,
		Categories: s.Categories,
	}
}

// Orchestrator returns the page-loop settings.
func (c *AppConfig) Orchestrator() orchestrator.Config {
	return orchestrator.Config{
		PageSize:            c.Sync.PageSize,
		PageDelay:           c.Sync.PageDelay,
		MaxPagesPerCycle:    c.Sync.MaxPagesPerCycle,
		RateLimitWait:       c.Sync.RateLimitWait,
		MaxRateLimitWait:    c.Sync.MaxRateLimitWait,
		MaxRateLimitRetries: c.Sync.MaxRateLimitRetries,
		Backoff:             c.Backoff,
	}
}

// TenantConfig holds one credential scope and the repositories it syncs.
type TenantConfig struct {
	ID       string       `yaml:"id"`
	Name     string       `yaml:"name"`
	Token    string       `yaml:"token"` // usually ${ENV_VAR}
	Endpoint string       `yaml:"endpoint"`
	Units    []UnitConfig `yaml:"units"`
}

// UnitConfig names one repository to sync.
type UnitConfig struct {
	Owner string `yaml:"owner"`
	Name  string `yaml:"name"`
}

// Tenant converts the config entry to its domain form.
func (t TenantConfig) Tenant() domain.Tenant {
	return domain.Tenant{ID: t.ID, Name: t.Name, Token: t.Token, Endpoint: t.Endpoint}
}

// DomainTenants returns every configured tenant.
func (c *AppConfig) DomainTenants() []domain.Tenant {
	out := make([]domain.Tenant, 0, len(c.Tenants))
	for _, t := range c.Tenants {
		out = append(out, t.Tenant())
	}
	return out
}

// TenantIDs returns the configured tenant IDs in order.
func (c *AppConfig) TenantIDs() []string {
	ids := make([]string, 0, len(c.Tenants))
	for _, t := range c.Tenants {
		ids = append(ids, t.ID)
	}
	return ids
}
