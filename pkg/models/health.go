package models

import "time"

// ProviderStatus is a point-in-time health snapshot for one provider.
// RequestCount and ErrorCount are lifetime breaker totals for the process.
type ProviderStatus struct {
	Name             string    `json:"name"`
	Healthy          bool      `json:"healthy"`
	CredentialSet    bool      `json:"credential_set"`
	BreakerState     string    `json:"breaker_state,omitempty"`
	ConsecutiveFails int       `json:"consecutive_fails"`
	RequestCount     int64     `json:"request_count"`
	ErrorCount       int64     `json:"error_count"`
	LatencyMS        int64     `json:"latency_ms"`
	LastChecked      time.Time `json:"last_checked"`
	LastError        string    `json:"last_error,omitempty"`
}

// Overall health values.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
)

// HealthReport is the full health_check result: one status per configured
// provider plus the overall verdict. Overall is "healthy" only when every
// provider is.
type HealthReport struct {
	Providers []ProviderStatus `json:"providers"`
	Overall   string           `json:"overall"`
}
