package orchestrator

import (
	"time"

	"github.com/vietddude/ghsync/internal/ingest/backoff"
)

// Config holds page-loop tuning. Zero MaxPagesPerCycle means no page cap.
type Config struct {
	PageSize         int           `yaml:"page_size"`
	PageDelay        time.Duration `yaml:"page_delay"`
	MaxPagesPerCycle int           `yaml:"max_pages_per_cycle"`

	// RateLimitWait is used when a rate-limited response carries no hint.
	RateLimitWait       time.Duration `yaml:"rate_limit_wait"`
	MaxRateLimitWait    time.Duration `yaml:"max_rate_limit_wait"`
	MaxRateLimitRetries int           `yaml:"max_rate_limit_retries"`

	Backoff backoff.Config `yaml:"backoff"`
}

// DefaultConfig returns the default page-loop configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:            50,
		PageDelay:           250 * time.Millisecond,
		MaxPagesPerCycle:    100,
		RateLimitWait:       time.Minute,
		MaxRateLimitWait:    15 * time.Minute,
		MaxRateLimitRetries: 3,
		Backoff:             backoff.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.PageDelay < 0 {
		c.PageDelay = 0
	}
	if c.RateLimitWait <= 0 {
		c.RateLimitWait = d.RateLimitWait
	}
	if c.MaxRateLimitWait <= 0 {
		c.MaxRateLimitWait = d.MaxRateLimitWait
	}
	if c.MaxRateLimitRetries <= 0 {
		c.MaxRateLimitRetries = d.MaxRateLimitRetries
	}
	return c
}
