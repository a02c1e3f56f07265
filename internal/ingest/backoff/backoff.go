// Package backoff re-runs a whole unit of work with exponential delay and
// jitter while its failures stay retryable.
//
// The operation passed to Retry must cover everything that can fail
// transiently, including reading the response body. A retry wrapped only
// around request dispatch misses failures that happen mid-stream.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cbackoff "github.com/cenkalti/backoff/v5"

	"github.com/vietddude/ghsync/internal/ingest/metrics"
)

// ErrRetriesExhausted wraps the last error once every attempt failed retryably.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Config defines retry behavior.
type Config struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	// JitterFactor randomizes each delay by ±factor (0.2 = ±20%).
	JitterFactor float64 `yaml:"jitter_factor"`
}

// DefaultConfig provides sensible defaults.
// 1s, 2s, 4s, 8s (max 30s), ±20%
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.2,
	}
}

// ExhaustedError is returned when all attempts failed retryably.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrRetriesExhausted, e.Attempts, e.Last)
}

// Is matches ErrRetriesExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

// Unwrap exposes the last underlying error.
func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Retry runs op until it succeeds, fails non-retryably, exhausts attempts or ctx ends.
// Non-retryable errors are returned unchanged. Exhaustion returns *ExhaustedError.
func Retry[T any](
	ctx context.Context,
	cfg Config,
	op func(ctx context.Context) (T, error),
	isRetryable func(error) bool,
) (T, error) {
	cfg = cfg.normalized()

	attempts := 0
	lastRetryable := false
	operation := func() (T, error) {
		attempts++
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return res, cbackoff.Permanent(ctx.Err())
		}
		lastRetryable = isRetryable(err)
		if !lastRetryable {
			return res, cbackoff.Permanent(err)
		}
		return res, err
	}

	notify := func(err error, next time.Duration) {
		metrics.FetchRetries.Inc()
		slog.Debug("retrying after transient failure",
			"attempt", attempts,
			"next_delay", next,
			"error", err,
		)
	}

	res, err := cbackoff.Retry(ctx, operation,
		cbackoff.WithBackOff(cfg.exponential()),
		cbackoff.WithMaxTries(uint(cfg.MaxAttempts)),
		cbackoff.WithMaxElapsedTime(0),
		cbackoff.WithNotify(notify),
	)
	if err == nil {
		return res, nil
	}

	var permanent *cbackoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	if lastRetryable {
		return res, &ExhaustedError{Attempts: attempts, Last: err}
	}
	return res, err
}

// Delay returns the un-jittered delay before retry number attempt (0-indexed):
// min(MaxDelay, InitialDelay * 2^attempt).
func (c Config) Delay(attempt int) time.Duration {
	c = c.normalized()
	d := c.InitialDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	return min(d, c.MaxDelay)
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = def.InitialDelay
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.JitterFactor < 0 || c.JitterFactor >= 1 {
		c.JitterFactor = def.JitterFactor
	}
	return c
}

func (c Config) exponential() *cbackoff.ExponentialBackOff {
	b := cbackoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialDelay
	b.MaxInterval = c.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = c.JitterFactor
	b.Reset()
	return b
}
