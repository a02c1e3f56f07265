package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for tenant leases and cooldown persistence.
type Client struct {
	rdb    *redis.Client
	prefix string
	owner  string
}

// Config holds Redis connection configuration.
type Config struct {
	URL       string `yaml:"url"`
	Password  string `yaml:"password"`
	KeyPrefix string `yaml:"key_prefix"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newClient(rdb, cfg.KeyPrefix), nil
}

func newClient(rdb *redis.Client, prefix string) *Client {
	if prefix == "" {
		prefix = "ghsync"
	}
	return &Client{rdb: rdb, prefix: prefix, owner: uuid.NewString()}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Key helpers
func (c *Client) lockKey(key string) string {
	return fmt.Sprintf("%s:lease:%s", c.prefix, key)
}

func (c *Client) cooldownKey() string {
	return fmt.Sprintf("%s:cooldowns", c.prefix)
}

// releaseScript deletes the lease only if this instance still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

// refreshScript extends the lease only if this instance still owns it.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// AcquireLock attempts to take a lease on key.
func (c *Client) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, c.lockKey(key), c.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// ReleaseLock releases a lease held by this instance.
func (c *Client) ReleaseLock(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, c.rdb, []string{c.lockKey(key)}, c.owner).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// RefreshLock extends the TTL of a lease held by this instance.
func (c *Client) RefreshLock(ctx context.Context, key string, ttl time.Duration) error {
	n, err := refreshScript.Run(ctx, c.rdb, []string{c.lockKey(key)}, c.owner, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refresh lease: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("lease %s lost", key)
	}
	return nil
}
