package diagnosis

import (
	"context"
	"sort"
	"sync"

	"github.com/togo-health/epiwatch/internal/shared/errors"
)

// MemoryStore is an in-memory Store used in tests and local development.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryStore creates a memory store seeded with the given events
func NewMemoryStore(events ...Event) *MemoryStore {
	s := &MemoryStore{}
	s.Add(events...)
	return s
}

// Add appends events to the store
func (s *MemoryStore) Add(events ...Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
}

// QueryEvents returns events matching the filter, ascending by timestamp
func (s *MemoryStore) QueryEvents(ctx context.Context, filter Filter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Event
	for _, e := range s.events {
		if filter.matches(e) {
			result = append(result, e)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})

	return result, nil
}

// GetEventsForPatient returns all events for a patient, ascending by timestamp
func (s *MemoryStore) GetEventsForPatient(ctx context.Context, patientID string) ([]Event, error) {
	return s.QueryEvents(ctx, Filter{PatientID: patientID})
}

// GetEvent returns a single event by id
func (s *MemoryStore) GetEvent(ctx context.Context, id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.events {
		if e.ID == id {
			event := e
			return &event, nil
		}
	}

	return nil, errors.NotFound("diagnosis event", id)
}
