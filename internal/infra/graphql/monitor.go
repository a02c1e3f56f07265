package graphql

import (
	"strings"
	"sync"
	"time"
)

// EndpointStatus represents the health state of the remote API.
type EndpointStatus int

const (
	StatusHealthy   EndpointStatus = iota // Endpoint is working normally
	StatusDegraded                        // Endpoint is slow or erroring
	StatusThrottled                       // Endpoint is rate limiting
)

func (s EndpointStatus) String() string {
	switch s {
	case StatusDegraded:
		return "degraded"
	case StatusThrottled:
		return "throttled"
	default:
		return "healthy"
	}
}

// MonitorStats holds monitoring statistics for the endpoint.
type MonitorStats struct {
	Status         EndpointStatus
	AverageLatency time.Duration
	ThrottleCount  int
	Requests       int
	Failures       int
	LastSuccessAt  time.Time
	LastFailureAt  time.Time
}

// Monitor tracks endpoint latency, failures and throttling.
type Monitor struct {
	mu sync.RWMutex

	recentLatencies  []time.Duration
	maxLatencyWindow int

	throttlePatterns []string
	throttleCount    int
	throttledUntil   time.Time

	requests      int
	failures      int
	lastSuccessAt time.Time
	lastFailureAt time.Time

	slowResponseThreshold time.Duration
	degradedErrorRate     float64
}

// NewMonitor creates a new monitor with default settings.
func NewMonitor() *Monitor {
	return &Monitor{
		recentLatencies:  make([]time.Duration, 0, 100),
		maxLatencyWindow: 100,
		throttlePatterns: []string{
			"rate limit exceeded",
			"secondary rate limit",
			"abuse detection",
			"too many requests",
		},
		slowResponseThreshold: 5 * time.Second,
		degradedErrorRate:     0.3,
	}
}

// RecordSuccess records a successful request with its latency.
func (m *Monitor) RecordSuccess(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests++
	m.lastSuccessAt = time.Now()
	m.recentLatencies = append(m.recentLatencies, latency)
	if len(m.recentLatencies) > m.maxLatencyWindow {
		m.recentLatencies = m.recentLatencies[1:]
	}
}

// RecordFailure records a failed request.
func (m *Monitor) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests++
	m.failures++
	m.lastFailureAt = time.Now()
}

// RecordThrottle records a rate-limited response and how long it lasts.
func (m *Monitor) RecordThrottle(wait time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.throttleCount++
	if wait <= 0 {
		wait = time.Minute
	}
	if until := time.Now().Add(wait); until.After(m.throttledUntil) {
		m.throttledUntil = until
	}
}

// DetectThrottlePattern checks if a message contains throttle patterns.
func (m *Monitor) DetectThrottlePattern(message string) bool {
	lower := strings.ToLower(message)
	for _, pattern := range m.throttlePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// Status returns the current status of the endpoint.
func (m *Monitor) Status() EndpointStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusLocked()
}

func (m *Monitor) statusLocked() EndpointStatus {
	if time.Now().Before(m.throttledUntil) {
		return StatusThrottled
	}
	if m.requests >= 10 && float64(m.failures)/float64(m.requests) > m.degradedErrorRate {
		return StatusDegraded
	}
	if len(m.recentLatencies) > 10 && m.averageLatencyLocked() > m.slowResponseThreshold {
		return StatusDegraded
	}
	return StatusHealthy
}

func (m *Monitor) averageLatencyLocked() time.Duration {
	if len(m.recentLatencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, lat := range m.recentLatencies {
		total += lat
	}
	return total / time.Duration(len(m.recentLatencies))
}

// Stats returns a snapshot of the monitor.
func (m *Monitor) Stats() MonitorStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MonitorStats{
		Status:         m.statusLocked(),
		AverageLatency: m.averageLatencyLocked(),
		ThrottleCount:  m.throttleCount,
		Requests:       m.requests,
		Failures:       m.failures,
		LastSuccessAt:  m.lastSuccessAt,
		LastFailureAt:  m.lastFailureAt,
	}
}
