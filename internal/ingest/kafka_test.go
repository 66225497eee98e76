package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/togo-health/epiwatch/internal/cluster"
	"github.com/togo-health/epiwatch/internal/diagnosis"
)

type fakeReader struct {
	msgs      []kafka.Message
	committed int
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.closed || len(r.msgs) == 0 {
		return kafka.Message{}, context.Canceled
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.committed += len(msgs)
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

type recordingHandler struct {
	events []diagnosis.Event
	err    error
}

func (h *recordingHandler) HandlePositiveEvent(ctx context.Context, event diagnosis.Event) (*cluster.Cluster, error) {
	h.events = append(h.events, event)
	return nil, h.err
}

func message(t *testing.T, event diagnosis.Event) kafka.Message {
	t.Helper()
	value, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return kafka.Message{Value: value}
}

func TestConsumerRunHandlesEvents(t *testing.T) {
	event := diagnosis.Event{
		ID:        "evt-1",
		PatientID: "pat-1",
		Disease:   diagnosis.DiseaseMalaria,
		Status:    diagnosis.StatusPositive,
		Region:    "maritime",
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	reader := &fakeReader{msgs: []kafka.Message{
		message(t, event),
		{Value: []byte("{not json")},
	}}
	handler := &recordingHandler{}
	consumer := &Consumer{reader: reader, handler: handler}

	if err := consumer.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(handler.events) != 1 {
		t.Fatalf("handled events = %d, want 1 (malformed message skipped)", len(handler.events))
	}
	if handler.events[0].ID != "evt-1" {
		t.Errorf("event id = %s, want evt-1", handler.events[0].ID)
	}
	if reader.committed != 2 {
		t.Errorf("committed = %d, want 2 (malformed message committed too)", reader.committed)
	}
}

func TestConsumerRunStampsMissingTimestamp(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		message(t, diagnosis.Event{ID: "evt-2", Status: diagnosis.StatusPositive, Region: "plateaux"}),
	}}
	handler := &recordingHandler{}
	consumer := &Consumer{reader: reader, handler: handler}

	if err := consumer.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(handler.events) != 1 {
		t.Fatalf("handled events = %d, want 1", len(handler.events))
	}
	if handler.events[0].Timestamp.IsZero() {
		t.Error("timestamp not stamped on events published without one")
	}
}

func TestConsumerRunCommitsOnHandlerError(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		message(t, diagnosis.Event{ID: "evt-3", Status: diagnosis.StatusPositive, Region: "savanes"}),
	}}
	handler := &recordingHandler{err: context.DeadlineExceeded}
	consumer := &Consumer{reader: reader, handler: handler}

	if err := consumer.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if reader.committed != 1 {
		t.Errorf("committed = %d, want 1 even when the handler fails", reader.committed)
	}
}
