package alert

import (
	"context"
	"sync"
	"time"

	"github.com/togo-health/epiwatch/internal/shared/events"
	"github.com/togo-health/epiwatch/internal/shared/metrics"
)

// Sink accepts alert payloads for downstream delivery. Implementations must
// be safe for concurrent use; the cluster engine and the anomaly detector
// both publish to the same sink.
type Sink interface {
	Notify(ctx context.Context, payload Payload) error
}

// BusSink publishes alert payloads onto the event bus
type BusSink struct {
	bus *events.Bus
}

// NewBusSink creates a sink backed by the event bus
func NewBusSink(bus *events.Bus) *BusSink {
	return &BusSink{bus: bus}
}

// Notify publishes the payload as an alert event
func (s *BusSink) Notify(ctx context.Context, payload Payload) error {
	if payload.EmittedAt.IsZero() {
		payload.EmittedAt = time.Now().UTC()
	}

	event := events.NewEvent(eventType(payload.Type), "epiwatch", payload)
	if err := s.bus.Publish(ctx, event); err != nil {
		return err
	}

	metrics.RecordAlertPublished(string(payload.Type), payload.Severity)
	return nil
}

// eventType maps a payload type to its bus event type
func eventType(t Type) string {
	switch t {
	case TypeEpidemic:
		return "alert.epidemic"
	case TypeGrowth:
		return "alert.growth"
	case TypeAnomaly:
		return "alert.anomaly"
	case TypePattern:
		return "alert.pattern"
	default:
		return "alert.other"
	}
}

// MemorySink records payloads for tests and local development
type MemorySink struct {
	mu       sync.Mutex
	payloads []Payload
}

// NewMemorySink creates an empty memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Notify records the payload
func (s *MemorySink) Notify(ctx context.Context, payload Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if payload.EmittedAt.IsZero() {
		payload.EmittedAt = time.Now().UTC()
	}
	s.payloads = append(s.payloads, payload)
	return nil
}

// Payloads returns a copy of all recorded payloads
func (s *MemorySink) Payloads() []Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Payload, len(s.payloads))
	copy(out, s.payloads)
	return out
}
