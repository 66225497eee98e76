package cluster

import (
	"context"

	"github.com/togo-health/epiwatch/internal/diagnosis"
)

// ListFilter narrows a cluster listing. Zero values mean "no constraint".
type ListFilter struct {
	Region  string
	Disease diagnosis.Disease
	Status  Status
}

// Store persists epidemic clusters
type Store interface {
	// GetActive returns the active cluster for the key, or nil when none exists.
	GetActive(ctx context.Context, region string, disease diagnosis.Disease) (*Cluster, error)

	// Create inserts a new cluster.
	Create(ctx context.Context, c *Cluster) error

	// Update persists a changed case count, alert level or status.
	Update(ctx context.Context, c *Cluster) error

	// Get returns a cluster by id.
	Get(ctx context.Context, id string) (*Cluster, error)

	// List returns clusters matching the filter, newest first.
	List(ctx context.Context, filter ListFilter) ([]Cluster, error)
}
