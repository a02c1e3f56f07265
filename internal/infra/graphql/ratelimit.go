package graphql

import (
	"net/http"
	"strconv"
	"time"

	"github.com/vietddude/ghsync/internal/core/domain"
)

// Rate-limit header names. Providers differ; these are the GitHub spelling.
const (
	headerRemaining  = "X-RateLimit-Remaining"
	headerLimit      = "X-RateLimit-Limit"
	headerReset      = "X-RateLimit-Reset"
	headerUsed       = "X-RateLimit-Used"
	headerRetryAfter = "Retry-After"
)

// payloadRateLimit is the "rateLimit" object a query may select.
type payloadRateLimit struct {
	Cost      int       `json:"cost"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"resetAt"`
}

// budgetFromHeaders returns nil unless the remaining header is present.
func budgetFromHeaders(h http.Header) *domain.BudgetSnapshot {
	remaining, ok := headerInt(h, headerRemaining)
	if !ok {
		return nil
	}

	snap := &domain.BudgetSnapshot{Remaining: remaining}
	if limit, ok := headerInt(h, headerLimit); ok {
		snap.Limit = limit
	} else if used, ok := headerInt(h, headerUsed); ok {
		snap.Limit = remaining + used
	}
	if reset, ok := headerInt(h, headerReset); ok {
		snap.ResetAt = time.Unix(int64(reset), 0)
	}
	return snap
}

// mergeBudget prefers payload values and fills gaps from headers.
func mergeBudget(headers *domain.BudgetSnapshot, payload *payloadRateLimit) *domain.BudgetSnapshot {
	if payload == nil || payload.Limit == 0 {
		return headers
	}

	snap := &domain.BudgetSnapshot{
		Remaining: payload.Remaining,
		Limit:     payload.Limit,
		Cost:      payload.Cost,
		ResetAt:   payload.ResetAt,
	}
	if snap.ResetAt.IsZero() && headers != nil {
		snap.ResetAt = headers.ResetAt
	}
	return snap
}

// retryWait derives how long the remote asked us to wait.
func retryWait(h http.Header, snap *domain.BudgetSnapshot, now time.Time) time.Duration {
	if secs, ok := headerInt(h, headerRetryAfter); ok && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if v := h.Get(headerRetryAfter); v != "" {
		if at, err := http.ParseTime(v); err == nil && at.After(now) {
			return at.Sub(now)
		}
	}
	if snap != nil && !snap.ResetAt.IsZero() && snap.ResetAt.After(now) {
		return snap.ResetAt.Sub(now)
	}
	return 0
}

func headerInt(h http.Header, key string) (int, bool) {
	v := h.Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
