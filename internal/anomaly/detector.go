package anomaly

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/togo-health/epiwatch/internal/alert"
	"github.com/togo-health/epiwatch/internal/diagnosis"
	"github.com/togo-health/epiwatch/internal/shared/metrics"
)

// Finding types
const (
	TypeOverReporting      = "over_reporting"
	TypeDuplicateSuspicion = "duplicate_suspicion"
	TypeConfidenceOutlier  = "confidence_outlier"
	TypeQualityOutlier     = "quality_outlier"
	TypeSuspiciousVelocity = "suspicious_velocity"
)

// Severities
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Detection windows and limits
const (
	overReportingDays = 30
	outlierWindowDays = 7
	duplicateMinCount = 4
	confidenceLimit   = 10
	confidenceHigh    = 95.0
	confidenceLow     = 20.0
	qualityLimit      = 20
	qualityFloor      = 50.0
	velocityMinCases  = 20
	velocityMaxPerDay = 10.0
)

// Finding is one detected reporting anomaly. Findings are value objects,
// produced and handed to the sink; nothing is stored.
type Finding struct {
	Type        string    `json:"type"`
	Severity    string    `json:"severity"`
	Description string    `json:"description"`
	Region      string    `json:"region,omitempty"`
	EventID     string    `json:"event_id,omitempty"`
	ReportedBy  string    `json:"reported_by,omitempty"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	Date        string    `json:"date,omitempty"`
	Count       int       `json:"count,omitempty"`
	Mean        float64   `json:"mean,omitempty"`
	Confidence  *float64  `json:"confidence,omitempty"`
	Quality     *float64  `json:"quality_score,omitempty"`
	RatePerDay  float64   `json:"rate_per_day,omitempty"`
	DetectedAt  time.Time `json:"detected_at"`
}

// Detector runs statistical outlier and suspicious-velocity checks over the
// event stream. All checks are read-only and independent; a failing check is
// logged and skipped so the others still report.
type Detector struct {
	events diagnosis.Store
	sink   alert.Sink
}

// NewDetector creates an anomaly detector. The sink may be nil for callers
// that only want the findings returned.
func NewDetector(events diagnosis.Store, sink alert.Sink) *Detector {
	return &Detector{events: events, sink: sink}
}

// Detect runs the statistical checks and returns all findings
func (d *Detector) Detect(ctx context.Context) ([]Finding, error) {
	now := time.Now().UTC()

	checks := []struct {
		name string
		run  func(context.Context, time.Time) ([]Finding, error)
	}{
		{"over_reporting", d.checkOverReporting},
		{"duplicates", d.checkDuplicates},
		{"confidence", d.checkConfidence},
		{"quality", d.checkQuality},
	}

	var findings []Finding
	failed := 0
	var lastErr error

	for _, check := range checks {
		result, err := check.run(ctx, now)
		if err != nil {
			log.Printf("anomaly: %s check failed: %v", check.name, err)
			failed++
			lastErr = err
			continue
		}
		findings = append(findings, result...)
	}

	// Only surface an error when no check produced a usable result.
	if failed == len(checks) {
		return nil, lastErr
	}

	d.record(findings)
	return findings, nil
}

// DetectPatterns runs the suspicious-velocity pass
func (d *Detector) DetectPatterns(ctx context.Context) ([]Finding, error) {
	findings, err := d.checkVelocity(ctx, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	d.record(findings)
	return findings, nil
}

// Report runs all passes and forwards every finding to the alert sink
func (d *Detector) Report(ctx context.Context) ([]Finding, error) {
	findings, err := d.Detect(ctx)
	if err != nil {
		return nil, err
	}

	patterns, err := d.DetectPatterns(ctx)
	if err != nil {
		log.Printf("anomaly: pattern pass failed: %v", err)
	} else {
		findings = append(findings, patterns...)
	}

	if d.sink != nil {
		for _, f := range findings {
			payloadType := alert.TypeAnomaly
			if f.Type == TypeSuspiciousVelocity {
				payloadType = alert.TypePattern
			}
			payload := alert.Payload{
				Type:      payloadType,
				Region:    f.Region,
				Severity:  f.Severity,
				Message:   f.Description,
				CaseCount: f.Count,
			}
			if err := d.sink.Notify(ctx, payload); err != nil {
				log.Printf("anomaly: sink notification failed: %v", err)
			}
		}
	}

	return findings, nil
}

// checkOverReporting flags regions reporting more than twice the cross-region
// mean over the trailing 30 days.
func (d *Detector) checkOverReporting(ctx context.Context, now time.Time) ([]Finding, error) {
	events, err := d.events.QueryEvents(ctx, diagnosis.Filter{
		From: now.AddDate(0, 0, -overReportingDays),
	})
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, ev := range events {
		counts[ev.Region]++
	}
	if len(counts) == 0 {
		return nil, nil
	}

	mean := float64(len(events)) / float64(len(counts))
	threshold := mean * 2

	regions := make([]string, 0, len(counts))
	for region := range counts {
		regions = append(regions, region)
	}
	sort.Strings(regions)

	var findings []Finding
	for _, region := range regions {
		total := counts[region]
		if float64(total) > threshold {
			findings = append(findings, Finding{
				Type:        TypeOverReporting,
				Severity:    SeverityHigh,
				Region:      region,
				Description: fmt.Sprintf("Over-reporting detected: %d cases in %s (mean %.1f)", total, region, mean),
				Count:       total,
				Mean:        mean,
				DetectedAt:  now,
			})
		}
	}

	return findings, nil
}

// checkDuplicates flags groups of more than 3 positive events sharing
// coordinates and calendar day in the trailing week.
func (d *Detector) checkDuplicates(ctx context.Context, now time.Time) ([]Finding, error) {
	events, err := d.events.QueryEvents(ctx, diagnosis.Filter{
		Statuses:        []diagnosis.Status{diagnosis.StatusPositive},
		From:            now.AddDate(0, 0, -outlierWindowDays),
		RequireLocation: true,
	})
	if err != nil {
		return nil, err
	}

	type groupKey struct {
		lat, lon float64
		day      string
	}
	groups := make(map[groupKey][]diagnosis.Event)
	var order []groupKey
	for _, ev := range events {
		key := groupKey{lat: *ev.Latitude, lon: *ev.Longitude, day: ev.Timestamp.Format("2006-01-02")}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], ev)
	}

	var findings []Finding
	for _, key := range order {
		group := groups[key]
		if len(group) < duplicateMinCount {
			continue
		}
		lat, lon := key.lat, key.lon
		findings = append(findings, Finding{
			Type:        TypeDuplicateSuspicion,
			Severity:    SeverityMedium,
			Description: fmt.Sprintf("%d diagnoses at the same location on %s", len(group), key.day),
			Latitude:    &lat,
			Longitude:   &lon,
			Date:        key.day,
			Count:       len(group),
			DetectedAt:  now,
		})
	}

	return findings, nil
}

// checkConfidence flags the 10 most extreme confidence values in the
// trailing week. Suspiciously perfect results rank low, suspiciously poor
// ones high.
func (d *Detector) checkConfidence(ctx context.Context, now time.Time) ([]Finding, error) {
	events, err := d.events.QueryEvents(ctx, diagnosis.Filter{
		From: now.AddDate(0, 0, -outlierWindowDays),
	})
	if err != nil {
		return nil, err
	}

	var extremes []diagnosis.Event
	for _, ev := range events {
		if ev.Confidence == nil {
			continue
		}
		if *ev.Confidence > confidenceHigh || *ev.Confidence < confidenceLow {
			extremes = append(extremes, ev)
		}
	}

	sort.SliceStable(extremes, func(i, j int) bool {
		return distanceFrom50(*extremes[i].Confidence) > distanceFrom50(*extremes[j].Confidence)
	})
	if len(extremes) > confidenceLimit {
		extremes = extremes[:confidenceLimit]
	}

	var findings []Finding
	for _, ev := range extremes {
		severity := SeverityHigh
		if *ev.Confidence > confidenceHigh {
			severity = SeverityLow
		}
		findings = append(findings, Finding{
			Type:        TypeConfidenceOutlier,
			Severity:    severity,
			Description: fmt.Sprintf("Confidence %.0f%% on diagnosis %s", *ev.Confidence, ev.ID),
			EventID:     ev.ID,
			Region:      ev.Region,
			Confidence:  ev.Confidence,
			DetectedAt:  now,
		})
	}

	return findings, nil
}

// checkQuality flags up to 20 events with an image quality score below 50 in
// the trailing week, worst first.
func (d *Detector) checkQuality(ctx context.Context, now time.Time) ([]Finding, error) {
	events, err := d.events.QueryEvents(ctx, diagnosis.Filter{
		From: now.AddDate(0, 0, -outlierWindowDays),
	})
	if err != nil {
		return nil, err
	}

	var poor []diagnosis.Event
	for _, ev := range events {
		if ev.QualityScore != nil && *ev.QualityScore < qualityFloor {
			poor = append(poor, ev)
		}
	}

	sort.SliceStable(poor, func(i, j int) bool {
		return *poor[i].QualityScore < *poor[j].QualityScore
	})
	if len(poor) > qualityLimit {
		poor = poor[:qualityLimit]
	}

	var findings []Finding
	for _, ev := range poor {
		findings = append(findings, Finding{
			Type:        TypeQualityOutlier,
			Severity:    SeverityMedium,
			Description: fmt.Sprintf("Image quality %.0f/100 on diagnosis %s", *ev.QualityScore, ev.ID),
			EventID:     ev.ID,
			Region:      ev.Region,
			Quality:     ev.QualityScore,
			DetectedAt:  now,
		})
	}

	return findings, nil
}

// checkVelocity flags reporters submitting more than 20 positive cases in
// the trailing week at a rate above 10 per day.
func (d *Detector) checkVelocity(ctx context.Context, now time.Time) ([]Finding, error) {
	events, err := d.events.QueryEvents(ctx, diagnosis.Filter{
		Statuses: []diagnosis.Status{diagnosis.StatusPositive},
		From:     now.AddDate(0, 0, -outlierWindowDays),
	})
	if err != nil {
		return nil, err
	}

	type span struct {
		count       int
		first, last time.Time
	}
	reporters := make(map[string]*span)
	var order []string
	for _, ev := range events {
		if ev.ReportedBy == "" {
			continue
		}
		s, ok := reporters[ev.ReportedBy]
		if !ok {
			s = &span{first: ev.Timestamp, last: ev.Timestamp}
			reporters[ev.ReportedBy] = s
			order = append(order, ev.ReportedBy)
		}
		s.count++
		if ev.Timestamp.Before(s.first) {
			s.first = ev.Timestamp
		}
		if ev.Timestamp.After(s.last) {
			s.last = ev.Timestamp
		}
	}

	var findings []Finding
	for _, reporter := range order {
		s := reporters[reporter]
		if s.count <= velocityMinCases {
			continue
		}

		days := s.last.Sub(s.first).Hours() / 24
		var rate float64
		if days > 0 {
			rate = float64(s.count) / days
		} else {
			// All cases at one instant: treat as the maximum rate.
			rate = float64(s.count)
		}
		if rate <= velocityMaxPerDay {
			continue
		}

		findings = append(findings, Finding{
			Type:        TypeSuspiciousVelocity,
			Severity:    SeverityMedium,
			Description: fmt.Sprintf("Reporter %s: %d positive cases in %.1f days (%.1f/day)", reporter, s.count, days, rate),
			ReportedBy:  reporter,
			Count:       s.count,
			RatePerDay:  rate,
			DetectedAt:  now,
		})
	}

	return findings, nil
}

func (d *Detector) record(findings []Finding) {
	for _, f := range findings {
		metrics.RecordAnomalyFinding(f.Type, f.Severity)
	}
}

func distanceFrom50(confidence float64) float64 {
	if confidence >= 50 {
		return confidence - 50
	}
	return 50 - confidence
}
