package tracing

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/togo-health/epiwatch/internal/diagnosis"
	"github.com/togo-health/epiwatch/internal/shared/config"
	"github.com/togo-health/epiwatch/internal/shared/errors"
	"github.com/togo-health/epiwatch/internal/shared/metrics"
)

// Estimate is the result of an R0 calculation over a period. R0 here is a
// heuristic derived from observed contacts and later positive diagnoses, not
// a causal epidemiological model.
type Estimate struct {
	R0                     float64   `json:"r0"`
	TotalInfected          int       `json:"total_infected"`
	TotalContacts          int       `json:"total_contacts"`
	InfectedContacts       int       `json:"infected_contacts"`
	AvgContactsPerInfected float64   `json:"avg_contacts_per_infected"`
	TransmissionRate       float64   `json:"transmission_rate"`
	Region                 string    `json:"region,omitempty"`
	From                   time.Time `json:"from"`
	To                     time.Time `json:"to"`
}

// Estimator computes R0 from aggregated contact statistics
type Estimator struct {
	store      diagnosis.Store
	matcher    *Matcher
	periodDays int
}

// NewEstimator creates an estimator with the configured default period
func NewEstimator(store diagnosis.Store, matcher *Matcher, cfg config.SurveillanceConfig) *Estimator {
	return &Estimator{
		store:      store,
		matcher:    matcher,
		periodDays: cfg.R0PeriodDays,
	}
}

// CalculateR0 estimates the reproduction number over the period. Region and
// the date bounds are optional; an empty period defaults to the configured
// trailing window ending now.
//
// A contact counts as infected when its patient has any later positive
// diagnosis. This is a proxy for secondary infection, not a causal claim.
// Failures while checking a single contact are logged and skipped so one bad
// lookup does not abort the whole estimate.
func (e *Estimator) CalculateR0(ctx context.Context, region string, from, to time.Time) (*Estimate, error) {
	metrics.RecordR0Calculation()

	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -e.periodDays)
	}
	if from.After(to) {
		return nil, errors.Validation("start date must not be after end date", nil)
	}

	positives, err := e.store.QueryEvents(ctx, diagnosis.Filter{
		Statuses: []diagnosis.Status{diagnosis.StatusPositive},
		Region:   region,
		From:     from,
		To:       to,
	})
	if err != nil {
		return nil, err
	}

	estimate := &Estimate{
		TotalInfected: len(positives),
		Region:        region,
		From:          from,
		To:            to,
	}

	for _, event := range positives {
		contacts, err := e.matcher.FindContacts(ctx, event)
		if err != nil {
			return nil, err
		}
		estimate.TotalContacts += len(contacts)

		for _, contact := range contacts {
			infected, err := e.becamePositiveAfter(ctx, contact.Event.PatientID, contact.Event.Timestamp)
			if err != nil {
				log.Printf("r0: skipping contact %s: later-infection check failed: %v", contact.Event.ID, err)
				continue
			}
			if infected {
				estimate.InfectedContacts++
			}
		}
	}

	if estimate.TotalInfected > 0 {
		estimate.AvgContactsPerInfected = round2(float64(estimate.TotalContacts) / float64(estimate.TotalInfected))
	}
	if estimate.TotalContacts > 0 {
		estimate.TransmissionRate = round2(float64(estimate.InfectedContacts) / float64(estimate.TotalContacts))
	}
	estimate.R0 = round2(estimate.AvgContactsPerInfected * estimate.TransmissionRate)

	return estimate, nil
}

// becamePositiveAfter reports whether the patient has any positive diagnosis
// strictly after the given time.
func (e *Estimator) becamePositiveAfter(ctx context.Context, patientID string, after time.Time) (bool, error) {
	events, err := e.store.GetEventsForPatient(ctx, patientID)
	if err != nil {
		return false, err
	}
	for _, ev := range events {
		if ev.Status == diagnosis.StatusPositive && ev.Timestamp.After(after) {
			return true, nil
		}
	}
	return false, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
