package tracing

import (
	"context"
	"testing"

	"github.com/togo-health/epiwatch/internal/diagnosis"
)

func newTestBuilder(store diagnosis.Store) *Builder {
	matcher := NewMatcher(store, testCfg)
	return NewBuilder(store, matcher, testCfg)
}

func TestBuildGraphMaxDepthZero(t *testing.T) {
	store := diagnosis.NewMemoryStore(
		testEvent("a1", "pA", diagnosis.StatusPositive, 6.1725, 1.2314, baseTime.AddDate(0, 0, -2)),
		testEvent("a2", "pA", diagnosis.StatusPositive, 6.1725, 1.2314, baseTime),
		// Contact candidate for a2, must not appear at depth 0
		testEvent("b1", "pB", diagnosis.StatusPositive, 6.1725, 1.2314, baseTime.AddDate(0, 0, -1)),
	)
	builder := newTestBuilder(store)

	graph, err := builder.BuildGraph(context.Background(), "pA", 0)
	if err != nil {
		t.Fatalf("BuildGraph() error = %v", err)
	}

	if len(graph.Nodes) != 2 {
		t.Errorf("nodes = %d, want 2 (root patient's own positive events)", len(graph.Nodes))
	}
	if len(graph.Edges) != 0 {
		t.Errorf("edges = %d, want 0 at max depth 0", len(graph.Edges))
	}
	for _, n := range graph.Nodes {
		if n.PatientID != "pA" {
			t.Errorf("node %s belongs to %s, want pA only", n.ID, n.PatientID)
		}
	}
	if graph.Truncated {
		t.Error("graph flagged truncated, want complete")
	}
}

func TestBuildGraphExpandsContacts(t *testing.T) {
	store := diagnosis.NewMemoryStore(
		testEvent("a1", "pA", diagnosis.StatusPositive, 6.1725, 1.2314, baseTime),
		testEvent("b1", "pB", diagnosis.StatusPositive, 6.1725, 1.2314, baseTime.AddDate(0, 0, -1)),
		// pB's second positive event, far away, picked up when pB is expanded
		testEvent("b2", "pB", diagnosis.StatusPositive, 9.5511, 1.1861, baseTime.AddDate(0, 0, -5)),
	)
	builder := newTestBuilder(store)

	graph, err := builder.BuildGraph(context.Background(), "pA", 2)
	if err != nil {
		t.Fatalf("BuildGraph() error = %v", err)
	}

	if graph.RootPatientID != "pA" {
		t.Errorf("root = %s, want pA", graph.RootPatientID)
	}
	if len(graph.Nodes) != 3 {
		t.Errorf("nodes = %d, want 3", len(graph.Nodes))
	}
	if len(graph.Edges) != 1 {
		t.Fatalf("edges = %d, want 1", len(graph.Edges))
	}

	edge := graph.Edges[0]
	if edge.SourceEventID != "a1" || edge.TargetEventID != "b1" {
		t.Errorf("edge = %s -> %s, want a1 -> b1", edge.SourceEventID, edge.TargetEventID)
	}
	if edge.DistanceMeters != 0 {
		t.Errorf("edge distance = %v, want 0", edge.DistanceMeters)
	}
}

func TestBuildGraphNeverExpandsPatientTwice(t *testing.T) {
	// pA and pB are mutual contacts through events at the same location.
	store := diagnosis.NewMemoryStore(
		testEvent("a1", "pA", diagnosis.StatusPositive, 6.1725, 1.2314, baseTime.AddDate(0, 0, -2)),
		testEvent("a2", "pA", diagnosis.StatusPositive, 6.1725, 1.2314, baseTime),
		testEvent("b1", "pB", diagnosis.StatusPositive, 6.1725, 1.2314, baseTime.AddDate(0, 0, -1)),
	)
	builder := newTestBuilder(store)

	graph, err := builder.BuildGraph(context.Background(), "pA", 5)
	if err != nil {
		t.Fatalf("BuildGraph() error = %v", err)
	}

	seen := make(map[string]bool)
	for _, n := range graph.Nodes {
		if seen[n.ID] {
			t.Errorf("node %s appears twice", n.ID)
		}
		seen[n.ID] = true
	}

	edges := make(map[[2]string]bool)
	for _, e := range graph.Edges {
		key := [2]string{e.SourceEventID, e.TargetEventID}
		if edges[key] {
			t.Errorf("edge %s -> %s appears twice", e.SourceEventID, e.TargetEventID)
		}
		edges[key] = true
	}

	if len(graph.Nodes) != 3 {
		t.Errorf("nodes = %d, want 3", len(graph.Nodes))
	}
	if graph.Truncated {
		t.Error("graph flagged truncated, want complete")
	}
}

func TestBuildGraphTruncatesAtNodeCap(t *testing.T) {
	store := diagnosis.NewMemoryStore(
		testEvent("a1", "pA", diagnosis.StatusPositive, 6.1725, 1.2314, baseTime),
		testEvent("b1", "pB", diagnosis.StatusPositive, 6.1725, 1.2314, baseTime.AddDate(0, 0, -1)),
		testEvent("c1", "pC", diagnosis.StatusPositive, 6.1725, 1.2314, baseTime.AddDate(0, 0, -2)),
		testEvent("d1", "pD", diagnosis.StatusPositive, 6.1725, 1.2314, baseTime.AddDate(0, 0, -3)),
	)

	cfg := testCfg
	cfg.GraphMaxNodes = 2
	cfg.GraphWorkers = 1
	matcher := NewMatcher(store, cfg)
	builder := NewBuilder(store, matcher, cfg)

	graph, err := builder.BuildGraph(context.Background(), "pA", 5)
	if err != nil {
		t.Fatalf("BuildGraph() error = %v, truncation must not be an error", err)
	}

	if !graph.Truncated {
		t.Error("graph not flagged truncated at node cap")
	}
	if len(graph.Nodes) > 2 {
		t.Errorf("nodes = %d, want at most 2", len(graph.Nodes))
	}
}

func TestBuildGraphValidation(t *testing.T) {
	builder := newTestBuilder(diagnosis.NewMemoryStore())

	if _, err := builder.BuildGraph(context.Background(), "", 5); err == nil {
		t.Error("BuildGraph() with empty patient id succeeded, want error")
	}
}

func TestBuildGraphUnknownPatient(t *testing.T) {
	builder := newTestBuilder(diagnosis.NewMemoryStore())

	graph, err := builder.BuildGraph(context.Background(), "ghost", 5)
	if err != nil {
		t.Fatalf("BuildGraph() error = %v", err)
	}
	if len(graph.Nodes) != 0 || len(graph.Edges) != 0 {
		t.Errorf("graph for unknown patient has %d nodes, %d edges; want empty", len(graph.Nodes), len(graph.Edges))
	}
}
