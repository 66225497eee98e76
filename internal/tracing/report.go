package tracing

import (
	"context"
	"time"

	"github.com/togo-health/epiwatch/internal/diagnosis"
)

// InvestigationReport bundles everything a field supervisor needs about one
// index event: its contacts, the transmission graph around its patient, the
// regional R0 estimate, and action recommendations.
type InvestigationReport struct {
	Event           diagnosis.Event `json:"event"`
	Contacts        []Contact       `json:"contacts"`
	Graph           *Graph          `json:"graph"`
	Estimate        *Estimate       `json:"estimate"`
	Recommendations []string        `json:"recommendations"`
	GeneratedAt     time.Time       `json:"generated_at"`
}

// Service composes the matcher, graph builder and R0 estimator into the
// investigation operations exposed to callers.
type Service struct {
	store     diagnosis.Store
	matcher   *Matcher
	builder   *Builder
	estimator *Estimator
}

// NewService creates the tracing service
func NewService(store diagnosis.Store, matcher *Matcher, builder *Builder, estimator *Estimator) *Service {
	return &Service{
		store:     store,
		matcher:   matcher,
		builder:   builder,
		estimator: estimator,
	}
}

// FindContacts returns the index event and its contacts
func (s *Service) FindContacts(ctx context.Context, eventID string) (*diagnosis.Event, []Contact, error) {
	return s.matcher.FindContactsByID(ctx, eventID)
}

// BuildGraph builds the transmission graph rooted at a patient
func (s *Service) BuildGraph(ctx context.Context, patientID string, maxDepth int) (*Graph, error) {
	return s.builder.BuildGraph(ctx, patientID, maxDepth)
}

// CalculateR0 estimates the reproduction number for a region and period
func (s *Service) CalculateR0(ctx context.Context, region string, from, to time.Time) (*Estimate, error) {
	return s.estimator.CalculateR0(ctx, region, from, to)
}

// Investigate assembles the full report for one index event
func (s *Service) Investigate(ctx context.Context, eventID string) (*InvestigationReport, error) {
	index, contacts, err := s.matcher.FindContactsByID(ctx, eventID)
	if err != nil {
		return nil, err
	}

	graph, err := s.builder.BuildGraph(ctx, index.PatientID, -1)
	if err != nil {
		return nil, err
	}

	estimate, err := s.estimator.CalculateR0(ctx, index.Region, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}

	return &InvestigationReport{
		Event:           *index,
		Contacts:        contacts,
		Graph:           graph,
		Estimate:        estimate,
		Recommendations: recommendations(len(contacts), estimate.R0),
		GeneratedAt:     time.Now().UTC(),
	}, nil
}

// recommendations derives action items from the contact count and R0
func recommendations(contactCount int, r0 float64) []string {
	var recs []string

	if contactCount > 10 {
		recs = append(recs, "High number of contacts detected. Quarantine recommended.")
	}

	if r0 > 1 {
		recs = append(recs, "R0 above 1: the epidemic is expanding. Urgent action required.")
	} else if r0 < 1 {
		recs = append(recs, "R0 below 1: the epidemic is under control.")
	}

	if contactCount > 5 {
		recs = append(recs, "Awareness campaign recommended in the area.")
	}

	if contactCount == 0 {
		recs = append(recs, "No contacts detected. Transmission risk is low.")
	}

	return recs
}
