package diagnosis

import (
	"time"
)

// Disease identifies the diagnosed disease
type Disease string

const (
	DiseaseMalaria Disease = "malaria"
	DiseaseTyphoid Disease = "typhoid"
	DiseaseMixed   Disease = "mixed"
)

// Status is the diagnostic outcome
type Status string

const (
	StatusPositive  Status = "positive"
	StatusNegative  Status = "negative"
	StatusUncertain Status = "uncertain"
)

// Event is a single geotagged, timestamped diagnosis observation produced by
// the upstream reporting pipeline. It is immutable input: this service only
// reads events, never writes them.
type Event struct {
	ID        string  `json:"id"`
	PatientID string  `json:"patient_id"`
	Disease   Disease `json:"disease"`
	Status    Status  `json:"status"`

	// Latitude/Longitude are nil for events reported without a GPS fix;
	// such events cannot participate in contact matching.
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	Region     string `json:"region"`
	Prefecture string `json:"prefecture,omitempty"`

	// Confidence is the model confidence of the diagnosis in percent, if any.
	Confidence *float64 `json:"confidence,omitempty"`
	// QualityScore is the image quality score attached by the upstream
	// pipeline, if any.
	QualityScore *float64 `json:"quality_score,omitempty"`

	// ReportedBy is the field agent who submitted the event.
	ReportedBy string `json:"reported_by,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// HasLocation reports whether the event carries coordinates
func (e Event) HasLocation() bool {
	return e.Latitude != nil && e.Longitude != nil
}

// Filter narrows an event store query. Zero values mean "no constraint".
type Filter struct {
	Statuses        []Status  `json:"statuses,omitempty"`
	Disease         Disease   `json:"disease,omitempty"`
	Region          string    `json:"region,omitempty"`
	PatientID       string    `json:"patient_id,omitempty"`
	From            time.Time `json:"from,omitempty"`
	To              time.Time `json:"to,omitempty"`
	RequireLocation bool      `json:"require_location,omitempty"`
	ExcludeID       string    `json:"exclude_id,omitempty"`
}

// matches reports whether an event passes the filter
func (f Filter) matches(e Event) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if e.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Disease != "" && e.Disease != f.Disease {
		return false
	}
	if f.Region != "" && e.Region != f.Region {
		return false
	}
	if f.PatientID != "" && e.PatientID != f.PatientID {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	if f.RequireLocation && !e.HasLocation() {
		return false
	}
	if f.ExcludeID != "" && e.ID == f.ExcludeID {
		return false
	}
	return true
}
