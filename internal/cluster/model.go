package cluster

import (
	"time"

	"github.com/togo-health/epiwatch/internal/diagnosis"
)

// AlertLevel is the tiered severity of an epidemic cluster
type AlertLevel string

const (
	LevelNone     AlertLevel = "none"
	LevelWarning  AlertLevel = "warning"
	LevelElevated AlertLevel = "elevated"
	LevelCritical AlertLevel = "critical"
)

// Case-count tiers for alert-level assignment
const (
	WarningThreshold  = 10
	ElevatedThreshold = 30
	CriticalThreshold = 50
)

// LevelForCount assigns the alert level for a rolling-window case count,
// evaluated high to low.
func LevelForCount(count int) AlertLevel {
	switch {
	case count >= CriticalThreshold:
		return LevelCritical
	case count >= ElevatedThreshold:
		return LevelElevated
	case count >= WarningThreshold:
		return LevelWarning
	default:
		return LevelNone
	}
}

// Status is the lifecycle state of a cluster. Transitions to resolved and
// monitored are operator actions; the engine only creates and updates active
// clusters.
type Status string

const (
	StatusActive    Status = "active"
	StatusResolved  Status = "resolved"
	StatusMonitored Status = "monitored"
)

// Cluster is a mutable aggregate tracking an epidemic in one region for one
// disease. At most one active cluster exists per (region, disease) key.
type Cluster struct {
	ID         string            `json:"id"`
	Region     string            `json:"region"`
	Prefecture string            `json:"prefecture,omitempty"`
	Disease    diagnosis.Disease `json:"disease"`
	CaseCount  int               `json:"case_count"`
	AlertLevel AlertLevel        `json:"alert_level"`
	Status     Status            `json:"status"`
	StartDate  time.Time         `json:"start_date"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}
