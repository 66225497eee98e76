package diagnosis

import (
	"context"
)

// Store is the read-only view of the diagnosis event store that the
// surveillance components consume. Events are append-only upstream, so no
// write operations appear here.
type Store interface {
	// QueryEvents returns events matching the filter, ascending by timestamp.
	QueryEvents(ctx context.Context, filter Filter) ([]Event, error)

	// GetEventsForPatient returns all events for a patient, ascending by
	// timestamp.
	GetEventsForPatient(ctx context.Context, patientID string) ([]Event, error)

	// GetEvent returns a single event by id.
	GetEvent(ctx context.Context, id string) (*Event, error)
}
