// Package incident defines the incident model and the rule-based severity
// classifier fed by raw metric signals.
package incident

import "time"

// Severity buckets an incident by how bad its signals look.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Incident is created once by detection and is immutable afterwards,
// notes aside.
type Incident struct {
	ID             string            `json:"id"`
	Service        string            `json:"service"`
	Severity       Severity          `json:"severity"`
	SuspectedCause string            `json:"suspected_cause,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	Notes          map[string]string `json:"notes,omitempty"`
}

// Signal is one raw metric observation submitted with a detect request.
type Signal struct {
	Name    string  `json:"name"`
	Value   float64 `json:"value"`
	Unit    string  `json:"unit,omitempty"`
	WindowS int     `json:"window_s,omitempty"`
}
