package alert

import (
	"time"

	"github.com/togo-health/epiwatch/internal/diagnosis"
)

// Type classifies an alert payload
type Type string

const (
	TypeEpidemic Type = "epidemic_alert"
	TypeGrowth   Type = "growth_alert"
	TypeAnomaly  Type = "anomaly"
	TypePattern  Type = "pattern"
)

// Severity of an alert payload. Cluster alerts carry their alert level here;
// anomaly findings carry low/medium/high.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityWarning  = "warning"
	SeverityElevated = "elevated"
	SeverityCritical = "critical"
)

// Recipient addresses a payload. Resolution of abstract recipients (for
// example all supervisors of a region) happens downstream, not in the
// surveillance core.
type Recipient struct {
	// Type is "role", "user" or "broadcast"
	Type string `json:"type"`
	// ID is the role or user identifier
	ID string `json:"id,omitempty"`
	// Region scopes role recipients to a region
	Region string `json:"region,omitempty"`
}

// SupervisorsOf addresses all supervisors scoped to a region
func SupervisorsOf(region string) []Recipient {
	return []Recipient{{Type: "role", ID: "supervisor", Region: region}}
}

// Payload is the notification shape handed to the Sink
type Payload struct {
	Type       Type              `json:"type"`
	Region     string            `json:"region"`
	Disease    diagnosis.Disease `json:"disease,omitempty"`
	Severity   string            `json:"severity"`
	Message    string            `json:"message"`
	CaseCount  int               `json:"case_count,omitempty"`
	Recipients []Recipient       `json:"recipients,omitempty"`
	EmittedAt  time.Time         `json:"emitted_at"`
}
