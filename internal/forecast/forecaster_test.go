package forecast

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/togo-health/epiwatch/internal/diagnosis"
)

// dayAt returns a mid-day timestamp d days ago
func dayAt(d int) time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -d).Add(9 * time.Hour)
}

// seedDay adds n positive events on one day
func seedDay(store *diagnosis.MemoryStore, daysAgo, n int) {
	at := dayAt(daysAgo)
	for i := 0; i < n; i++ {
		store.Add(diagnosis.Event{
			ID:        fmt.Sprintf("d%d-%d", daysAgo, i),
			Disease:   diagnosis.DiseaseMalaria,
			Status:    diagnosis.StatusPositive,
			Region:    "maritime",
			Timestamp: at.Add(time.Duration(i) * time.Minute),
		})
	}
}

func TestPredictFlatSeries(t *testing.T) {
	store := diagnosis.NewMemoryStore()
	for d := 1; d <= 10; d++ {
		seedDay(store, d, 5)
	}
	forecaster := NewForecaster(store)

	forecast, err := forecaster.Predict(context.Background(), "", "", 7, false)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}

	if forecast.Trends.GrowthRate != 0 {
		t.Errorf("growth rate = %v, want 0 for a constant series", forecast.Trends.GrowthRate)
	}
	if forecast.Trends.Trend != TrendStable {
		t.Errorf("trend = %s, want stable", forecast.Trends.Trend)
	}
	if forecast.Trends.AverageDaily != 5 {
		t.Errorf("average daily = %v, want 5", forecast.Trends.AverageDaily)
	}

	if len(forecast.Predictions) != 7 {
		t.Fatalf("predictions = %d, want 7", len(forecast.Predictions))
	}
	for _, p := range forecast.Predictions {
		if p.PredictedCount != 5 {
			t.Errorf("day %d predicted %d, want flat 5", p.Day, p.PredictedCount)
		}
		if p.RiskLevel != RiskLow {
			t.Errorf("day %d risk = %s, want low", p.Day, p.RiskLevel)
		}
	}

	// 10 observed days out of 30: confidence = 10/30 * 70.
	if forecast.Confidence != 23 {
		t.Errorf("confidence = %d, want 23", forecast.Confidence)
	}
	if forecast.History != nil {
		t.Error("history included without include_history")
	}
}

func TestPredictGrowingSeries(t *testing.T) {
	store := diagnosis.NewMemoryStore()
	// Doubling each day: growth rate 1.0.
	counts := []int{1, 2, 4, 8}
	for i, n := range counts {
		seedDay(store, len(counts)-i, n)
	}
	forecaster := NewForecaster(store)

	forecast, err := forecaster.Predict(context.Background(), "", "", 3, true)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}

	if forecast.Trends.GrowthRate != 1 {
		t.Errorf("growth rate = %v, want 1", forecast.Trends.GrowthRate)
	}
	if forecast.Trends.Trend != TrendIncreasing {
		t.Errorf("trend = %s, want increasing", forecast.Trends.Trend)
	}

	// Mean 3.75 compounded: 7.5, 15, 30.
	wantCounts := []int{8, 15, 30}
	for i, p := range forecast.Predictions {
		if p.PredictedCount != wantCounts[i] {
			t.Errorf("day %d predicted %d, want %d", p.Day, p.PredictedCount, wantCounts[i])
		}
	}
	if forecast.Predictions[2].RiskLevel != RiskHigh {
		t.Errorf("day 3 risk = %s, want high", forecast.Predictions[2].RiskLevel)
	}

	// 4/30 * 70, then the volatility penalty for |growth| > 0.5.
	if forecast.Confidence != 7 {
		t.Errorf("confidence = %d, want 7", forecast.Confidence)
	}

	if len(forecast.History) != 4 {
		t.Errorf("history = %d days, want 4", len(forecast.History))
	}
}

func TestPredictShortHistory(t *testing.T) {
	store := diagnosis.NewMemoryStore()
	seedDay(store, 1, 3)
	forecaster := NewForecaster(store)

	forecast, err := forecaster.Predict(context.Background(), "", "", 0, false)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}

	if forecast.Trends.Trend != TrendStable || forecast.Trends.GrowthRate != 0 {
		t.Errorf("trends = %+v, want stable zero-growth with one day of history", forecast.Trends)
	}
	if len(forecast.Predictions) != defaultDaysAhead {
		t.Errorf("predictions = %d, want default %d", len(forecast.Predictions), defaultDaysAhead)
	}
	for _, p := range forecast.Predictions {
		if p.PredictedCount != 0 {
			t.Errorf("day %d predicted %d, want 0 without trend data", p.Day, p.PredictedCount)
		}
	}
	if forecast.Confidence != 2 {
		t.Errorf("confidence = %d, want 2", forecast.Confidence)
	}
}

func TestPredictRegionFilter(t *testing.T) {
	store := diagnosis.NewMemoryStore()
	for d := 1; d <= 5; d++ {
		seedDay(store, d, 4)
	}
	// Events in another region must not contribute.
	store.Add(diagnosis.Event{
		ID:        "other-1",
		Disease:   diagnosis.DiseaseMalaria,
		Status:    diagnosis.StatusPositive,
		Region:    "savanes",
		Timestamp: dayAt(1),
	})
	forecaster := NewForecaster(store)

	forecast, err := forecaster.Predict(context.Background(), "maritime", diagnosis.DiseaseMalaria, 2, false)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if forecast.Trends.AverageDaily != 4 {
		t.Errorf("average daily = %v, want 4 (other regions excluded)", forecast.Trends.AverageDaily)
	}
}

func TestSeriesOutliers(t *testing.T) {
	store := diagnosis.NewMemoryStore()
	for d := 2; d <= 20; d++ {
		seedDay(store, d, 5)
	}
	// One spiking day well above twice the mean.
	seedDay(store, 1, 40)
	forecaster := NewForecaster(store)

	report, err := forecaster.SeriesOutliers(context.Background(), "", "", 7)
	if err != nil {
		t.Fatalf("SeriesOutliers() error = %v", err)
	}

	if !report.HasOutliers || len(report.Outliers) != 1 {
		t.Fatalf("outliers = %+v, want exactly one", report.Outliers)
	}
	o := report.Outliers[0]
	if o.Count != 40 {
		t.Errorf("outlier count = %d, want 40", o.Count)
	}
	if o.Date != dayAt(1).Format("2006-01-02") {
		t.Errorf("outlier date = %s, want the spiking day", o.Date)
	}
	if o.Deviation <= 100 {
		t.Errorf("deviation = %d%%, want well above 100%%", o.Deviation)
	}
}

func TestSeriesOutliersQuietSeries(t *testing.T) {
	store := diagnosis.NewMemoryStore()
	for d := 1; d <= 10; d++ {
		seedDay(store, d, 5)
	}
	forecaster := NewForecaster(store)

	report, err := forecaster.SeriesOutliers(context.Background(), "", "", 7)
	if err != nil {
		t.Fatalf("SeriesOutliers() error = %v", err)
	}
	if report.HasOutliers {
		t.Errorf("outliers = %+v, want none for a flat series", report.Outliers)
	}
}
