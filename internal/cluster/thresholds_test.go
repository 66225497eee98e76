package cluster

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/togo-health/epiwatch/internal/alert"
	"github.com/togo-health/epiwatch/internal/diagnosis"
)

func seedAt(store *diagnosis.MemoryStore, region string, disease diagnosis.Disease, status diagnosis.Status, n int, at time.Time) {
	for i := 0; i < n; i++ {
		store.Add(diagnosis.Event{
			ID:        fmt.Sprintf("%s-%s-%s-%d-%d", region, disease, status, at.Unix(), i),
			Disease:   disease,
			Status:    status,
			Region:    region,
			Timestamp: at.Add(-time.Duration(i) * time.Minute),
		})
	}
}

func findAlert(alerts []ThresholdAlert, metric Metric) *ThresholdAlert {
	for i := range alerts {
		if alerts[i].Metric == metric {
			return &alerts[i]
		}
	}
	return nil
}

func TestCheckThresholdsDefaults(t *testing.T) {
	events := diagnosis.NewMemoryStore()
	// 25 positive malaria cases in the trailing week.
	seedAt(events, "maritime", diagnosis.DiseaseMalaria, diagnosis.StatusPositive, 25, time.Now().UTC().AddDate(0, 0, -1))
	engine, _, _ := newTestEngine(events)

	report, err := engine.CheckThresholds(context.Background(), "maritime", "", 7, nil)
	if err != nil {
		t.Fatalf("CheckThresholds() error = %v", err)
	}

	if report.Stats.Total != 25 || report.Stats.Positives != 25 || report.Stats.Malaria != 25 {
		t.Errorf("stats = %+v, want 25 total/positive/malaria", report.Stats)
	}

	// Only the positives rule (warning at 20) trips.
	if len(report.Alerts) != 1 {
		t.Fatalf("alerts = %+v, want exactly one", report.Alerts)
	}
	a := report.Alerts[0]
	if a.Metric != MetricPositives || a.Type != string(LevelWarning) {
		t.Errorf("alert = %+v, want positives warning", a)
	}
	if a.CurrentValue != 25 || a.Threshold != 20 {
		t.Errorf("alert value/threshold = %v/%d, want 25/20", a.CurrentValue, a.Threshold)
	}
	if !report.HasAlerts {
		t.Error("HasAlerts = false with one alert present")
	}
}

func TestCheckThresholdsCriticalTier(t *testing.T) {
	events := diagnosis.NewMemoryStore()
	seedAt(events, "maritime", diagnosis.DiseaseMalaria, diagnosis.StatusPositive, 60, time.Now().UTC().AddDate(0, 0, -1))
	engine, _, _ := newTestEngine(events)

	report, err := engine.CheckThresholds(context.Background(), "maritime", "", 7, nil)
	if err != nil {
		t.Fatalf("CheckThresholds() error = %v", err)
	}

	if a := findAlert(report.Alerts, MetricTotal); a == nil || a.Type != string(LevelWarning) {
		t.Errorf("total alert = %+v, want warning (60 between 50 and 100)", a)
	}
	if a := findAlert(report.Alerts, MetricPositives); a == nil || a.Type != string(LevelCritical) {
		t.Errorf("positives alert = %+v, want critical (60 >= 50)", a)
	}
	if a := findAlert(report.Alerts, MetricMalaria); a == nil || a.Type != string(LevelCritical) {
		t.Errorf("malaria alert = %+v, want critical (60 >= 60)", a)
	}
	if a := findAlert(report.Alerts, MetricTyphoid); a != nil {
		t.Errorf("typhoid alert = %+v, want none", a)
	}
}

func TestCheckThresholdsCustomRules(t *testing.T) {
	events := diagnosis.NewMemoryStore()
	seedAt(events, "maritime", diagnosis.DiseaseMalaria, diagnosis.StatusPositive, 8, time.Now().UTC().AddDate(0, 0, -1))
	engine, _, _ := newTestEngine(events)

	rules := []ThresholdRule{
		{Metric: MetricPositives, WarningLevel: 5, CriticalLevel: 10},
	}

	report, err := engine.CheckThresholds(context.Background(), "maritime", "", 7, rules)
	if err != nil {
		t.Fatalf("CheckThresholds() error = %v", err)
	}

	if len(report.Alerts) != 1 {
		t.Fatalf("alerts = %+v, want one from the custom rule", report.Alerts)
	}
	if report.Alerts[0].Type != string(LevelWarning) || report.Alerts[0].Threshold != 5 {
		t.Errorf("alert = %+v, want warning at custom threshold 5", report.Alerts[0])
	}
}

func TestCheckThresholdsScopedRuleSkipped(t *testing.T) {
	events := diagnosis.NewMemoryStore()
	seedAt(events, "maritime", diagnosis.DiseaseTyphoid, diagnosis.StatusPositive, 40, time.Now().UTC().AddDate(0, 0, -1))
	engine, _, _ := newTestEngine(events)

	// The malaria rule is scoped to malaria and must not fire on a typhoid query.
	report, err := engine.CheckThresholds(context.Background(), "maritime", diagnosis.DiseaseTyphoid, 7, nil)
	if err != nil {
		t.Fatalf("CheckThresholds() error = %v", err)
	}

	if a := findAlert(report.Alerts, MetricMalaria); a != nil {
		t.Errorf("malaria-scoped rule fired on typhoid query: %+v", a)
	}
	if a := findAlert(report.Alerts, MetricTyphoid); a == nil || a.Type != string(LevelCritical) {
		t.Errorf("typhoid alert = %+v, want critical (40 >= 30)", a)
	}
}

func TestCheckThresholdsGrowthAlert(t *testing.T) {
	events := diagnosis.NewMemoryStore()
	// 8 cases the week before, 20 cases in the trailing week: +150%.
	seedAt(events, "maritime", diagnosis.DiseaseMalaria, diagnosis.StatusPositive, 8, time.Now().UTC().AddDate(0, 0, -9))
	seedAt(events, "maritime", diagnosis.DiseaseMalaria, diagnosis.StatusPositive, 20, time.Now().UTC().AddDate(0, 0, -2))
	engine, _, sink := newTestEngine(events)

	report, err := engine.CheckThresholds(context.Background(), "maritime", "", 7, nil)
	if err != nil {
		t.Fatalf("CheckThresholds() error = %v", err)
	}

	growth := findAlert(report.Alerts, "growth_rate")
	if growth == nil {
		t.Fatalf("alerts = %+v, want a growth_rate alert", report.Alerts)
	}
	if growth.Type != string(LevelWarning) {
		t.Errorf("growth alert type = %s, want warning", growth.Type)
	}
	if growth.CurrentValue != 150 {
		t.Errorf("growth rate = %v, want 150", growth.CurrentValue)
	}

	payloads := sink.Payloads()
	if len(payloads) != 1 || payloads[0].Type != alert.TypeGrowth {
		t.Fatalf("sink payloads = %+v, want one growth_alert", payloads)
	}
	if payloads[0].Severity != alert.SeverityWarning {
		t.Errorf("growth alert severity = %s, want warning", payloads[0].Severity)
	}
}

func TestCheckThresholdsNoGrowthBaseline(t *testing.T) {
	events := diagnosis.NewMemoryStore()
	// No cases in the preceding week: growth is undefined, no alert.
	seedAt(events, "maritime", diagnosis.DiseaseMalaria, diagnosis.StatusPositive, 15, time.Now().UTC().AddDate(0, 0, -2))
	engine, _, sink := newTestEngine(events)

	report, err := engine.CheckThresholds(context.Background(), "maritime", "", 7, nil)
	if err != nil {
		t.Fatalf("CheckThresholds() error = %v", err)
	}

	if a := findAlert(report.Alerts, "growth_rate"); a != nil {
		t.Errorf("growth alert without baseline: %+v", a)
	}
	for _, p := range sink.Payloads() {
		if p.Type == alert.TypeGrowth {
			t.Errorf("growth alert emitted without baseline: %+v", p)
		}
	}
}
