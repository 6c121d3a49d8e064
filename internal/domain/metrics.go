package domain

import "time"

// QueueSizeMetrics is a point-in-time snapshot of queue depth. It is
// recomputed on demand and cached briefly, never persisted.
type QueueSizeMetrics struct {
	Total      int       `json:"total"`
	Pending    int       `json:"pending"`
	Processing int       `json:"processing"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	Timestamp  time.Time `json:"timestamp"`
}

// HealthState is the coarse service health classification.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// CheckResult is the outcome of a single dependency probe.
type CheckResult string

const (
	CheckUp      CheckResult = "up"
	CheckDown    CheckResult = "down"
	CheckWarning CheckResult = "warning"
	CheckFull    CheckResult = "full"
)

// HealthStatus is the derived health report returned by the health probe.
type HealthStatus struct {
	Status    HealthState            `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
	Details   HealthDetails          `json:"details"`
}

// HealthDetails carries the numbers behind the health classification.
type HealthDetails struct {
	QueueSize      int   `json:"queueSize"`
	QueueLimit     int   `json:"queueLimit"`
	ResponseTimeMs int64 `json:"responseTime"`
}
