package alert

import (
	"context"
	"testing"
	"time"

	"github.com/togo-health/epiwatch/internal/diagnosis"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestDeliveryServiceDeliversPerRecipient(t *testing.T) {
	provider := NewMockProvider()
	svc := NewDeliveryService(provider, nil, DeliveryConfig{
		Workers:       2,
		BufferSize:    16,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer svc.Stop()

	payload := Payload{
		Type:     TypeEpidemic,
		Region:   "maritime",
		Disease:  diagnosis.DiseaseMalaria,
		Severity: SeverityWarning,
		Message:  "Epidemic cluster detected",
		Recipients: []Recipient{
			{Type: "role", ID: "supervisor", Region: "maritime"},
			{Type: "user", ID: "u-42"},
		},
	}

	if err := svc.Notify(context.Background(), payload); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	waitFor(t, time.Second, func() bool { return len(provider.Sent()) == 2 })

	stats := svc.Stats()
	if stats.TotalQueued != 2 || stats.TotalSent != 2 || stats.TotalFailed != 0 {
		t.Errorf("stats = %+v, want 2 queued and sent", stats)
	}
	if stats.DeliveryRate != 1 {
		t.Errorf("delivery rate = %v, want 1", stats.DeliveryRate)
	}
}

func TestDeliveryServiceBroadcastsWithoutRecipients(t *testing.T) {
	provider := NewMockProvider()
	svc := NewDeliveryService(provider, nil, DeliveryConfig{
		Workers:       1,
		BufferSize:    4,
		RetryAttempts: 1,
		RetryDelay:    time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer svc.Stop()

	if err := svc.Notify(context.Background(), Payload{Type: TypeAnomaly, Severity: SeverityLow, Message: "x"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	waitFor(t, time.Second, func() bool { return len(provider.Sent()) == 1 })

	if got := provider.Sent()[0].Recipient.Type; got != "broadcast" {
		t.Errorf("recipient type = %s, want broadcast", got)
	}
}

func TestDeliveryServiceRetriesThenFails(t *testing.T) {
	provider := NewMockProvider()
	provider.SetFailOnSend(true)

	svc := NewDeliveryService(provider, nil, DeliveryConfig{
		Workers:       1,
		BufferSize:    4,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer svc.Stop()

	if err := svc.Notify(context.Background(), Payload{Type: TypeGrowth, Severity: SeverityWarning, Message: "x"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	waitFor(t, time.Second, func() bool { return svc.Stats().TotalFailed == 1 })

	stats := svc.Stats()
	if stats.TotalSent != 0 {
		t.Errorf("sent = %d, want 0 when every attempt fails", stats.TotalSent)
	}
	if stats.DeliveryRate != 0 {
		t.Errorf("delivery rate = %v, want 0", stats.DeliveryRate)
	}
}

func TestMemorySinkRecordsPayloads(t *testing.T) {
	sink := NewMemorySink()

	if err := sink.Notify(context.Background(), Payload{Type: TypePattern, Message: "a"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if err := sink.Notify(context.Background(), Payload{Type: TypeAnomaly, Message: "b"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	payloads := sink.Payloads()
	if len(payloads) != 2 {
		t.Fatalf("payloads = %d, want 2", len(payloads))
	}
	if payloads[0].EmittedAt.IsZero() {
		t.Error("EmittedAt not stamped")
	}
}
