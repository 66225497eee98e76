package tracing

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/togo-health/epiwatch/internal/diagnosis"
	"github.com/togo-health/epiwatch/internal/shared/config"
	"github.com/togo-health/epiwatch/internal/shared/errors"
	"github.com/togo-health/epiwatch/internal/shared/metrics"
)

// Edge is a directed contact relation between two diagnosis events. The
// target event occurred within the contact radius and time window of the
// source event.
type Edge struct {
	SourceEventID  string    `json:"source_event_id"`
	TargetEventID  string    `json:"target_event_id"`
	DistanceMeters float64   `json:"distance_meters"`
	ObservedAt     time.Time `json:"observed_at"`
}

// Graph is a transmission graph rooted at one patient. Nodes are
// deduplicated by event id, edges by (source, target) pair. A truncated
// graph hit the node or edge cap and is a valid partial result.
type Graph struct {
	RootPatientID string            `json:"root_patient_id"`
	Nodes         []diagnosis.Event `json:"nodes"`
	Edges         []Edge            `json:"edges"`
	MaxDepth      int               `json:"max_depth"`
	Truncated     bool              `json:"truncated"`
}

// Builder expands contacts into a bounded transmission graph
type Builder struct {
	store    diagnosis.Store
	matcher  *Matcher
	maxDepth int
	maxNodes int
	maxEdges int
	workers  int
}

// NewBuilder creates a graph builder with the configured depth and size caps
func NewBuilder(store diagnosis.Store, matcher *Matcher, cfg config.SurveillanceConfig) *Builder {
	workers := cfg.GraphWorkers
	if workers < 1 {
		workers = 1
	}
	return &Builder{
		store:    store,
		matcher:  matcher,
		maxDepth: cfg.GraphMaxDepth,
		maxNodes: cfg.GraphMaxNodes,
		maxEdges: cfg.GraphMaxEdges,
		workers:  workers,
	}
}

// BuildGraph expands the root patient's positive events and their contacts,
// depth level by depth level, into a transmission graph. A negative maxDepth
// selects the configured default. Patients at the same depth are expanded
// concurrently; all writes to the shared graph state are serialized.
func (b *Builder) BuildGraph(ctx context.Context, rootPatientID string, maxDepth int) (*Graph, error) {
	if rootPatientID == "" {
		return nil, errors.Validation("patient id is required", nil)
	}
	if maxDepth < 0 {
		maxDepth = b.maxDepth
	}

	state := newGraphState(b.maxNodes, b.maxEdges)
	state.markVisited(rootPatientID)

	current := []string{rootPatientID}
	for depth := 0; len(current) > 0 && !state.isTruncated(); depth++ {
		// Contacts of the deepest level are not expanded; its patients
		// contribute only their own positive events.
		expand := depth < maxDepth

		var nextMu sync.Mutex
		var next []string

		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(b.workers)

		for _, patientID := range current {
			patientID := patientID
			group.Go(func() error {
				discovered, err := b.expandPatient(groupCtx, patientID, expand, state)
				if err != nil {
					return err
				}
				if len(discovered) > 0 {
					nextMu.Lock()
					next = append(next, discovered...)
					nextMu.Unlock()
				}
				return nil
			})
		}

		if err := group.Wait(); err != nil {
			return nil, err
		}

		current = next
	}

	graph := state.graph(rootPatientID, maxDepth)
	metrics.RecordGraphBuilt(len(graph.Nodes), len(graph.Edges), graph.Truncated)
	return graph, nil
}

// expandPatient adds the patient's positive events as nodes and, when expand
// is set, their contacts as nodes and edges. It returns the patient ids of
// newly discovered contacts. All store and matcher calls happen outside the
// state lock.
func (b *Builder) expandPatient(ctx context.Context, patientID string, expand bool, state *graphState) ([]string, error) {
	events, err := b.store.QueryEvents(ctx, diagnosis.Filter{
		PatientID: patientID,
		Statuses:  []diagnosis.Status{diagnosis.StatusPositive},
	})
	if err != nil {
		return nil, err
	}

	var discovered []string
	for _, event := range events {
		if !state.addNode(event) {
			return discovered, nil
		}
		if !expand {
			continue
		}

		contacts, err := b.matcher.FindContacts(ctx, event)
		if err != nil {
			return nil, err
		}

		for _, contact := range contacts {
			if !state.addNode(contact.Event) {
				return discovered, nil
			}
			if !state.addEdge(Edge{
				SourceEventID:  event.ID,
				TargetEventID:  contact.Event.ID,
				DistanceMeters: contact.DistanceMeters,
				ObservedAt:     contact.Event.Timestamp,
			}) {
				return discovered, nil
			}
			if state.markVisited(contact.Event.PatientID) {
				discovered = append(discovered, contact.Event.PatientID)
			}
		}
	}

	return discovered, nil
}

// graphState is the single serialization point for all graph mutations
type graphState struct {
	mu        sync.Mutex
	visited   map[string]bool
	nodes     map[string]int
	nodeOrder []diagnosis.Event
	edges     map[[2]string]bool
	edgeOrder []Edge
	maxNodes  int
	maxEdges  int
	truncated bool
}

func newGraphState(maxNodes, maxEdges int) *graphState {
	return &graphState{
		visited:  make(map[string]bool),
		nodes:    make(map[string]int),
		edges:    make(map[[2]string]bool),
		maxNodes: maxNodes,
		maxEdges: maxEdges,
	}
}

// markVisited reports whether the patient was newly marked
func (s *graphState) markVisited(patientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visited[patientID] {
		return false
	}
	s.visited[patientID] = true
	return true
}

// addNode inserts the event unless present. It returns false once the node
// cap is hit, which flags the graph truncated.
func (s *graphState) addNode(event diagnosis.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[event.ID]; ok {
		return true
	}
	if len(s.nodeOrder) >= s.maxNodes {
		s.truncated = true
		return false
	}
	s.nodes[event.ID] = len(s.nodeOrder)
	s.nodeOrder = append(s.nodeOrder, event)
	return true
}

// addEdge inserts the edge unless the (source, target) pair is present. It
// returns false once the edge cap is hit, which flags the graph truncated.
func (s *graphState) addEdge(edge Edge) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{edge.SourceEventID, edge.TargetEventID}
	if s.edges[key] {
		return true
	}
	if len(s.edgeOrder) >= s.maxEdges {
		s.truncated = true
		return false
	}
	s.edges[key] = true
	s.edgeOrder = append(s.edgeOrder, edge)
	return true
}

func (s *graphState) isTruncated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.truncated
}

func (s *graphState) graph(rootPatientID string, maxDepth int) *Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Graph{
		RootPatientID: rootPatientID,
		Nodes:         s.nodeOrder,
		Edges:         s.edgeOrder,
		MaxDepth:      maxDepth,
		Truncated:     s.truncated,
	}
}
