package domain

import "time"

// HealthStatus is the routing-visible health of one provider.
type HealthStatus string

const (
	// HealthHealthy means the provider is serving traffic normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded means at least one recent consecutive failure; the
	// probe loop is watching the provider.
	HealthDegraded HealthStatus = "degraded"

	// HealthError means sustained consecutive failures while degraded.
	HealthError HealthStatus = "error"
)

// HealthState is one provider's health record as the tracker maintains it.
// ConsecutiveFailures and ConsecutiveSuccesses are mutually exclusive: any
// success zeroes failures and any failure zeroes successes.
type HealthState struct {
	Status               HealthStatus `json:"status"`
	ConsecutiveFailures  int          `json:"consecutive_failures"`
	ConsecutiveSuccesses int          `json:"consecutive_successes"`
	DegradedSince        *time.Time   `json:"degraded_since,omitempty"`
	LastFailureReason    string       `json:"last_failure_reason,omitempty"`
	LastProbeAt          *time.Time   `json:"last_probe_at,omitempty"`
	LastSuccessAt        *time.Time   `json:"last_success_at,omitempty"`
}
