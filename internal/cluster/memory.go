package cluster

import (
	"context"
	"sort"
	"sync"

	"github.com/togo-health/epiwatch/internal/diagnosis"
	"github.com/togo-health/epiwatch/internal/shared/errors"
)

// MemoryStore is an in-memory cluster store used in tests and local
// development.
type MemoryStore struct {
	mu       sync.RWMutex
	clusters map[string]Cluster
}

// NewMemoryStore creates an empty memory cluster store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{clusters: make(map[string]Cluster)}
}

// GetActive returns the active cluster for the key, or nil when none exists
func (s *MemoryStore) GetActive(ctx context.Context, region string, disease diagnosis.Disease) (*Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.clusters {
		if c.Region == region && c.Disease == disease && c.Status == StatusActive {
			cluster := c
			return &cluster, nil
		}
	}
	return nil, nil
}

// Create inserts a new cluster
func (s *MemoryStore) Create(ctx context.Context, c *Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clusters[c.ID] = *c
	return nil
}

// Update persists a changed case count, alert level or status
func (s *MemoryStore) Update(ctx context.Context, c *Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clusters[c.ID]; !ok {
		return errors.NotFound("cluster", c.ID)
	}
	s.clusters[c.ID] = *c
	return nil
}

// Get returns a cluster by id
func (s *MemoryStore) Get(ctx context.Context, id string) (*Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clusters[id]
	if !ok {
		return nil, errors.NotFound("cluster", id)
	}
	return &c, nil
}

// List returns clusters matching the filter, newest first
func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Cluster
	for _, c := range s.clusters {
		if filter.Region != "" && c.Region != filter.Region {
			continue
		}
		if filter.Disease != "" && c.Disease != filter.Disease {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		result = append(result, c)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}
