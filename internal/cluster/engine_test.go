package cluster

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/togo-health/epiwatch/internal/alert"
	"github.com/togo-health/epiwatch/internal/diagnosis"
	"github.com/togo-health/epiwatch/internal/shared/config"
)

var testCfg = config.SurveillanceConfig{
	ContactRadiusMeters: 50,
	ContactWindowDays:   14,
	R0PeriodDays:        30,
	ClusterWindowDays:   7,
	GraphMaxDepth:       5,
	GraphMaxNodes:       2000,
	GraphMaxEdges:       5000,
	GraphWorkers:        2,
}

// seedPositives adds n recent positive events for a region and disease
func seedPositives(store *diagnosis.MemoryStore, region string, disease diagnosis.Disease, n int) {
	for i := 0; i < n; i++ {
		store.Add(diagnosis.Event{
			ID:        fmt.Sprintf("%s-%s-%d", region, disease, i),
			PatientID: fmt.Sprintf("patient-%s-%d", region, i),
			Disease:   disease,
			Status:    diagnosis.StatusPositive,
			Region:    region,
			Timestamp: time.Now().UTC().Add(-time.Duration(i+1) * time.Hour),
		})
	}
}

func newTestEngine(events *diagnosis.MemoryStore) (*Engine, *MemoryStore, *alert.MemorySink) {
	clusters := NewMemoryStore()
	sink := alert.NewMemorySink()
	return NewEngine(events, clusters, sink, testCfg), clusters, sink
}

func TestHandlePositiveEventTiers(t *testing.T) {
	tests := []struct {
		name      string
		count     int
		wantLevel AlertLevel
	}{
		{"below warning tier", 9, LevelNone},
		{"warning at 10", 10, LevelWarning},
		{"warning at 12", 12, LevelWarning},
		{"elevated at 30", 30, LevelElevated},
		{"critical at 50", 50, LevelCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := diagnosis.NewMemoryStore()
			seedPositives(events, "maritime", diagnosis.DiseaseMalaria, tt.count)
			engine, clusters, sink := newTestEngine(events)

			trigger := diagnosis.Event{
				ID:        "maritime-malaria-0",
				Disease:   diagnosis.DiseaseMalaria,
				Status:    diagnosis.StatusPositive,
				Region:    "maritime",
				Timestamp: time.Now().UTC(),
			}

			c, err := engine.HandlePositiveEvent(context.Background(), trigger)
			if err != nil {
				t.Fatalf("HandlePositiveEvent() error = %v", err)
			}

			if tt.wantLevel == LevelNone {
				if c != nil {
					t.Fatalf("cluster created at count %d, want none", tt.count)
				}
				active, _ := clusters.GetActive(context.Background(), "maritime", diagnosis.DiseaseMalaria)
				if active != nil {
					t.Error("active cluster persisted below warning tier")
				}
				if len(sink.Payloads()) != 0 {
					t.Error("alert emitted below warning tier")
				}
				return
			}

			if c == nil {
				t.Fatalf("no cluster at count %d, want %s", tt.count, tt.wantLevel)
			}
			if c.AlertLevel != tt.wantLevel {
				t.Errorf("alert level = %s, want %s", c.AlertLevel, tt.wantLevel)
			}
			if c.CaseCount != tt.count {
				t.Errorf("case count = %d, want %d", c.CaseCount, tt.count)
			}
			if c.Status != StatusActive {
				t.Errorf("status = %s, want active", c.Status)
			}

			payloads := sink.Payloads()
			if len(payloads) != 1 {
				t.Fatalf("sink received %d payloads, want 1", len(payloads))
			}
			p := payloads[0]
			if p.Type != alert.TypeEpidemic {
				t.Errorf("payload type = %s, want %s", p.Type, alert.TypeEpidemic)
			}
			if p.Region != "maritime" || p.CaseCount != tt.count {
				t.Errorf("payload = %+v, want region maritime, count %d", p, tt.count)
			}
			if len(p.Recipients) != 1 || p.Recipients[0].ID != "supervisor" || p.Recipients[0].Region != "maritime" {
				t.Errorf("recipients = %+v, want region supervisors", p.Recipients)
			}
		})
	}
}

func TestHandlePositiveEventUpdatesWithoutRenotify(t *testing.T) {
	events := diagnosis.NewMemoryStore()
	seedPositives(events, "plateaux", diagnosis.DiseaseTyphoid, 10)
	engine, clusters, sink := newTestEngine(events)

	trigger := diagnosis.Event{
		Disease:   diagnosis.DiseaseTyphoid,
		Status:    diagnosis.StatusPositive,
		Region:    "plateaux",
		Timestamp: time.Now().UTC(),
	}

	created, err := engine.HandlePositiveEvent(context.Background(), trigger)
	if err != nil {
		t.Fatalf("HandlePositiveEvent() error = %v", err)
	}
	if created == nil || created.AlertLevel != LevelWarning {
		t.Fatalf("created = %+v, want warning cluster", created)
	}

	// More cases arrive; the count crosses the critical tier.
	seedPositives(events, "plateaux", diagnosis.DiseaseTyphoid, 45)

	updated, err := engine.HandlePositiveEvent(context.Background(), trigger)
	if err != nil {
		t.Fatalf("HandlePositiveEvent() update error = %v", err)
	}
	if updated == nil {
		t.Fatal("no cluster returned on update")
	}
	if updated.ID != created.ID {
		t.Errorf("update created a second cluster %s, want update of %s", updated.ID, created.ID)
	}
	if updated.AlertLevel != LevelCritical {
		t.Errorf("updated level = %s, want critical", updated.AlertLevel)
	}
	if updated.CaseCount != 55 {
		t.Errorf("updated count = %d, want 55", updated.CaseCount)
	}

	if got := len(sink.Payloads()); got != 1 {
		t.Errorf("sink received %d payloads, want 1 (no re-notification on update)", got)
	}

	all, _ := clusters.List(context.Background(), ListFilter{Region: "plateaux"})
	if len(all) != 1 {
		t.Errorf("store holds %d clusters, want 1", len(all))
	}
}

func TestHandlePositiveEventIgnoresNonPositive(t *testing.T) {
	events := diagnosis.NewMemoryStore()
	seedPositives(events, "maritime", diagnosis.DiseaseMalaria, 20)
	engine, _, sink := newTestEngine(events)

	c, err := engine.HandlePositiveEvent(context.Background(), diagnosis.Event{
		Disease: diagnosis.DiseaseMalaria,
		Status:  diagnosis.StatusNegative,
		Region:  "maritime",
	})
	if err != nil {
		t.Fatalf("HandlePositiveEvent() error = %v", err)
	}
	if c != nil {
		t.Error("negative event triggered cluster detection")
	}
	if len(sink.Payloads()) != 0 {
		t.Error("negative event produced an alert")
	}
}

func TestHandlePositiveEventCountsOnlyWindow(t *testing.T) {
	events := diagnosis.NewMemoryStore()
	seedPositives(events, "maritime", diagnosis.DiseaseMalaria, 8)
	// Old cases outside the rolling window must not count.
	for i := 0; i < 20; i++ {
		events.Add(diagnosis.Event{
			ID:        fmt.Sprintf("old-%d", i),
			Disease:   diagnosis.DiseaseMalaria,
			Status:    diagnosis.StatusPositive,
			Region:    "maritime",
			Timestamp: time.Now().UTC().AddDate(0, 0, -10),
		})
	}
	engine, _, _ := newTestEngine(events)

	c, err := engine.HandlePositiveEvent(context.Background(), diagnosis.Event{
		Disease: diagnosis.DiseaseMalaria,
		Status:  diagnosis.StatusPositive,
		Region:  "maritime",
	})
	if err != nil {
		t.Fatalf("HandlePositiveEvent() error = %v", err)
	}
	if c != nil {
		t.Errorf("cluster created from stale cases: %+v", c)
	}
}

func TestSweepCoversAllKeys(t *testing.T) {
	events := diagnosis.NewMemoryStore()
	seedPositives(events, "maritime", diagnosis.DiseaseMalaria, 12)
	seedPositives(events, "savanes", diagnosis.DiseaseTyphoid, 35)
	seedPositives(events, "centrale", diagnosis.DiseaseMalaria, 3)
	engine, clusters, _ := newTestEngine(events)

	if err := engine.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	maritime, _ := clusters.GetActive(context.Background(), "maritime", diagnosis.DiseaseMalaria)
	if maritime == nil || maritime.AlertLevel != LevelWarning || maritime.CaseCount != 12 {
		t.Errorf("maritime cluster = %+v, want warning with 12 cases", maritime)
	}

	savanes, _ := clusters.GetActive(context.Background(), "savanes", diagnosis.DiseaseTyphoid)
	if savanes == nil || savanes.AlertLevel != LevelElevated {
		t.Errorf("savanes cluster = %+v, want elevated", savanes)
	}

	centrale, _ := clusters.GetActive(context.Background(), "centrale", diagnosis.DiseaseMalaria)
	if centrale != nil {
		t.Errorf("centrale cluster = %+v, want none below warning tier", centrale)
	}
}
