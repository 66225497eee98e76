package cluster

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/togo-health/epiwatch/internal/alert"
	"github.com/togo-health/epiwatch/internal/diagnosis"
)

// Metric names a counted quantity a threshold rule applies to
type Metric string

const (
	MetricTotal     Metric = "total"
	MetricPositives Metric = "positives"
	MetricMalaria   Metric = "malaria"
	MetricTyphoid   Metric = "typhoid"
)

// growthAlertPercent is the week-over-week growth above which a growth
// alert is emitted.
const growthAlertPercent = 50.0

// ThresholdRule overrides the default warning/critical pair for one metric,
// optionally scoped to a region or disease. Rules are supplied per call;
// nothing is persisted.
type ThresholdRule struct {
	Metric        Metric            `json:"metric"`
	WarningLevel  int               `json:"warning_level"`
	CriticalLevel int               `json:"critical_level"`
	Region        string            `json:"region,omitempty"`
	Disease       diagnosis.Disease `json:"disease,omitempty"`
}

// DefaultRules is the built-in threshold table used when no override matches
func DefaultRules() []ThresholdRule {
	return []ThresholdRule{
		{Metric: MetricTotal, WarningLevel: 50, CriticalLevel: 100},
		{Metric: MetricPositives, WarningLevel: 20, CriticalLevel: 50},
		{Metric: MetricMalaria, WarningLevel: 30, CriticalLevel: 60, Disease: diagnosis.DiseaseMalaria},
		{Metric: MetricTyphoid, WarningLevel: 15, CriticalLevel: 30, Disease: diagnosis.DiseaseTyphoid},
	}
}

// Stats is the windowed case breakdown the rules are evaluated against
type Stats struct {
	Total     int `json:"total"`
	Positives int `json:"positives"`
	Malaria   int `json:"malaria"`
	Typhoid   int `json:"typhoid"`
}

func (s Stats) value(m Metric) int {
	switch m {
	case MetricTotal:
		return s.Total
	case MetricPositives:
		return s.Positives
	case MetricMalaria:
		return s.Malaria
	case MetricTyphoid:
		return s.Typhoid
	default:
		return 0
	}
}

// ThresholdAlert is one triggered rule or trend finding
type ThresholdAlert struct {
	Type         string    `json:"type"`
	Metric       Metric    `json:"metric"`
	CurrentValue float64   `json:"current_value"`
	Threshold    int       `json:"threshold,omitempty"`
	Message      string    `json:"message"`
	Region       string    `json:"region"`
	Date         time.Time `json:"date"`
}

// ThresholdReport is the result of one threshold check
type ThresholdReport struct {
	Alerts    []ThresholdAlert `json:"alerts"`
	HasAlerts bool             `json:"has_alerts"`
	Stats     Stats            `json:"stats"`
	CheckedAt time.Time        `json:"checked_at"`
}

// CheckThresholds evaluates the threshold rules against the trailing window
// and runs the week-over-week growth check. Passing no rules selects the
// built-in defaults. Growth alerts are additionally emitted to the sink;
// absolute-threshold alerts are returned for the caller to act on.
func (e *Engine) CheckThresholds(ctx context.Context, region string, disease diagnosis.Disease, days int, rules []ThresholdRule) (*ThresholdReport, error) {
	if days <= 0 {
		days = e.windowDays
	}
	if len(rules) == 0 {
		rules = DefaultRules()
	}

	now := time.Now().UTC()
	stats, err := e.windowStats(ctx, region, disease, now.AddDate(0, 0, -days), now)
	if err != nil {
		return nil, err
	}

	report := &ThresholdReport{
		Stats:     stats,
		CheckedAt: now,
	}

	regionLabel := region
	if regionLabel == "" {
		regionLabel = "all"
	}

	for _, rule := range rules {
		if !rule.applies(region, disease) {
			continue
		}
		value := stats.value(rule.Metric)

		switch {
		case value >= rule.CriticalLevel:
			report.Alerts = append(report.Alerts, ThresholdAlert{
				Type:         string(LevelCritical),
				Metric:       rule.Metric,
				CurrentValue: float64(value),
				Threshold:    rule.CriticalLevel,
				Message:      fmt.Sprintf("Critical threshold reached for %s", rule.Metric),
				Region:       regionLabel,
				Date:         now,
			})
		case value >= rule.WarningLevel:
			report.Alerts = append(report.Alerts, ThresholdAlert{
				Type:         string(LevelWarning),
				Metric:       rule.Metric,
				CurrentValue: float64(value),
				Threshold:    rule.WarningLevel,
				Message:      fmt.Sprintf("Warning threshold reached for %s", rule.Metric),
				Region:       regionLabel,
				Date:         now,
			})
		}
	}

	// Trend check runs even when every absolute threshold passed. A failure
	// here must not discard the threshold results.
	growth, err := e.checkGrowth(ctx, region, disease, now)
	if err != nil {
		log.Printf("cluster: growth check failed for %s: %v", regionLabel, err)
	} else if growth != nil {
		growth.Region = regionLabel
		report.Alerts = append(report.Alerts, *growth)
	}

	report.HasAlerts = len(report.Alerts) > 0
	return report, nil
}

// checkGrowth compares the trailing 7 days against the preceding 7 days and
// emits a warning-level growth alert when week-over-week growth exceeds 50%.
func (e *Engine) checkGrowth(ctx context.Context, region string, disease diagnosis.Disease, now time.Time) (*ThresholdAlert, error) {
	recent, err := e.windowStats(ctx, region, disease, now.AddDate(0, 0, -7), now)
	if err != nil {
		return nil, err
	}
	previous, err := e.windowStats(ctx, region, disease, now.AddDate(0, 0, -14), now.AddDate(0, 0, -7))
	if err != nil {
		return nil, err
	}

	if previous.Total == 0 {
		return nil, nil
	}

	growthRate := float64(recent.Total-previous.Total) / float64(previous.Total) * 100
	if growthRate <= growthAlertPercent {
		return nil, nil
	}

	triggered := &ThresholdAlert{
		Type:         string(LevelWarning),
		Metric:       "growth_rate",
		CurrentValue: growthRate,
		Message:      fmt.Sprintf("Case reports up %.1f%% week over week", growthRate),
		Date:         now,
	}

	payload := alert.Payload{
		Type:       alert.TypeGrowth,
		Region:     region,
		Disease:    disease,
		Severity:   alert.SeverityWarning,
		Message:    triggered.Message,
		CaseCount:  recent.Total,
		Recipients: alert.SupervisorsOf(region),
	}
	if err := e.sink.Notify(ctx, payload); err != nil {
		log.Printf("cluster: growth alert notification failed for %s: %v", region, err)
	}

	return triggered, nil
}

// applies reports whether a rule's scope matches the queried scope. A rule
// without scope always applies; a scoped rule is skipped when the query
// names a different region or disease.
func (r ThresholdRule) applies(region string, disease diagnosis.Disease) bool {
	if region != "" && r.Region != "" && r.Region != region {
		return false
	}
	if disease != "" && r.Disease != "" && r.Disease != disease {
		return false
	}
	return true
}

func (e *Engine) windowStats(ctx context.Context, region string, disease diagnosis.Disease, from, to time.Time) (Stats, error) {
	events, err := e.events.QueryEvents(ctx, diagnosis.Filter{
		Region:  region,
		Disease: disease,
		From:    from,
		To:      to,
	})
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, ev := range events {
		stats.Total++
		if ev.Status == diagnosis.StatusPositive {
			stats.Positives++
		}
		switch ev.Disease {
		case diagnosis.DiseaseMalaria:
			stats.Malaria++
		case diagnosis.DiseaseTyphoid:
			stats.Typhoid++
		}
	}
	return stats, nil
}
