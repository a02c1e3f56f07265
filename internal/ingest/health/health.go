// Package health provides service health reporting over HTTP.
package health

import "time"

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

func (s SystemStatus) rank() int {
	switch s {
	case StatusCritical:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

func worst(a, b SystemStatus) SystemStatus {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// TenantHealth contains budget health for one tenant.
type TenantHealth struct {
	TenantID         string        `json:"tenant_id"`
	Status           SystemStatus  `json:"status"`
	Remaining        int           `json:"remaining"`
	Limit            int           `json:"limit"`
	ResetAt          time.Time     `json:"reset_at"`
	PointsPerMinute  float64       `json:"points_per_minute"`
	TimeToExhaustion time.Duration `json:"time_to_exhaustion"`
}

// CycleSummary describes the most recent scheduler cycle.
type CycleSummary struct {
	RunID          string         `json:"run_id"`
	StartedAt      time.Time      `json:"started_at"`
	Duration       time.Duration  `json:"duration"`
	Processed      int            `json:"processed"`
	Failed         int            `json:"failed"`
	Skipped        int            `json:"skipped"`
	SkipReasons    map[string]int `json:"skip_reasons"`
	AbortedTenants []string       `json:"aborted_tenants,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus    SystemStatus            `json:"system_status"`
	Endpoint        string                  `json:"endpoint"`
	UnitsInCooldown int                     `json:"units_in_cooldown"`
	Tenants         map[string]TenantHealth `json:"tenants"`
	LastCycle       *CycleSummary           `json:"last_cycle,omitempty"`
}
