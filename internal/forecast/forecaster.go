package forecast

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/togo-health/epiwatch/internal/diagnosis"
	"github.com/togo-health/epiwatch/internal/shared/errors"
	"github.com/togo-health/epiwatch/internal/shared/metrics"
)

const (
	// historyDays is the trailing window the daily series is built from.
	historyDays = 30
	// defaultDaysAhead is the projection horizon when none is requested.
	defaultDaysAhead = 7
	// trendBand is the growth-rate band classified as stable.
	trendBand = 0.1
	// volatilityLimit is the growth-rate magnitude above which confidence
	// takes the volatility penalty.
	volatilityLimit = 0.5
	// outlierFactor is the multiple of the trailing mean above which a day
	// counts as a series outlier.
	outlierFactor = 2.0
)

// Trend classifications
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// Risk levels for projected days
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// DailyCount is one day of the historical series. Days without any events do
// not appear.
type DailyCount struct {
	Date      string `json:"date"`
	Count     int    `json:"count"`
	Positives int    `json:"positives"`
}

// Trends summarizes the historical series
type Trends struct {
	GrowthRate         float64 `json:"growth_rate"`
	PositiveGrowthRate float64 `json:"positive_growth_rate"`
	Trend              string  `json:"trend"`
	AverageDaily       float64 `json:"average_daily"`
	AveragePositive    float64 `json:"average_positive"`
	TotalDays          int     `json:"total_days"`
}

// Prediction is one projected day
type Prediction struct {
	Day               int    `json:"day"`
	Date              string `json:"date"`
	PredictedCount    int    `json:"predicted_count"`
	PredictedPositive int    `json:"predicted_positive"`
	RiskLevel         string `json:"risk_level"`
}

// Forecast is a short-horizon trend projection with a heuristic confidence
// score. The confidence is a scalar in 0..100 driven by history depth and
// volatility, not a statistical interval.
type Forecast struct {
	Predictions []Prediction `json:"predictions"`
	Trends      Trends       `json:"trends"`
	History     []DailyCount `json:"history,omitempty"`
	Confidence  int          `json:"confidence"`
}

// SeriesOutlier is a recent day whose count far exceeds the trailing mean
type SeriesOutlier struct {
	Date      string `json:"date"`
	Count     int    `json:"count"`
	Expected  int    `json:"expected"`
	Deviation int    `json:"deviation_percent"`
}

// OutlierReport is the result of a daily series scan
type OutlierReport struct {
	Outliers    []SeriesOutlier `json:"outliers"`
	Trends      Trends          `json:"trends"`
	HasOutliers bool            `json:"has_outliers"`
}

// Forecaster extrapolates historical daily counts into short-horizon
// predictions.
type Forecaster struct {
	events diagnosis.Store
}

// NewForecaster creates a forecaster over the event store
func NewForecaster(events diagnosis.Store) *Forecaster {
	return &Forecaster{events: events}
}

// Predict builds the trailing daily series and projects it daysAhead days
// forward by compounding the mean day-over-day growth onto the trailing mean.
func (f *Forecaster) Predict(ctx context.Context, region string, disease diagnosis.Disease, daysAhead int, includeHistory bool) (*Forecast, error) {
	if daysAhead < 0 {
		return nil, errors.BadRequest("days ahead must not be negative")
	}
	if daysAhead == 0 {
		daysAhead = defaultDaysAhead
	}

	metrics.RecordForecast()

	now := time.Now().UTC()
	history, err := f.dailySeries(ctx, region, disease, now)
	if err != nil {
		return nil, err
	}

	trends := calculateTrends(history)

	forecast := &Forecast{
		Predictions: project(trends, daysAhead, now),
		Trends:      trends,
		Confidence:  confidence(trends),
	}
	if includeHistory {
		forecast.History = history
	}

	return forecast, nil
}

// SeriesOutliers scans the last days of the series for counts above twice
// the trailing 30-day mean.
func (f *Forecaster) SeriesOutliers(ctx context.Context, region string, disease diagnosis.Disease, days int) (*OutlierReport, error) {
	if days <= 0 {
		days = defaultDaysAhead
	}

	now := time.Now().UTC()
	history, err := f.dailySeries(ctx, region, disease, now)
	if err != nil {
		return nil, err
	}

	trends := calculateTrends(history)
	threshold := trends.AverageDaily * outlierFactor

	recent := history
	if len(recent) > days {
		recent = recent[len(recent)-days:]
	}

	report := &OutlierReport{Trends: trends}
	for _, day := range recent {
		if float64(day.Count) <= threshold || trends.AverageDaily == 0 {
			continue
		}
		report.Outliers = append(report.Outliers, SeriesOutlier{
			Date:      day.Date,
			Count:     day.Count,
			Expected:  int(math.Round(trends.AverageDaily)),
			Deviation: int(math.Round((float64(day.Count) - trends.AverageDaily) / trends.AverageDaily * 100)),
		})
	}
	report.HasOutliers = len(report.Outliers) > 0

	return report, nil
}

// dailySeries aggregates events into per-day counts, ascending by date
func (f *Forecaster) dailySeries(ctx context.Context, region string, disease diagnosis.Disease, now time.Time) ([]DailyCount, error) {
	events, err := f.events.QueryEvents(ctx, diagnosis.Filter{
		Region:  region,
		Disease: disease,
		From:    now.AddDate(0, 0, -historyDays),
	})
	if err != nil {
		return nil, err
	}

	byDay := make(map[string]*DailyCount)
	for _, ev := range events {
		date := ev.Timestamp.Format("2006-01-02")
		day, ok := byDay[date]
		if !ok {
			day = &DailyCount{Date: date}
			byDay[date] = day
		}
		day.Count++
		if ev.Status == diagnosis.StatusPositive {
			day.Positives++
		}
	}

	series := make([]DailyCount, 0, len(byDay))
	for _, day := range byDay {
		series = append(series, *day)
	}
	sort.Slice(series, func(i, j int) bool {
		return series[i].Date < series[j].Date
	})

	return series, nil
}

// calculateTrends derives growth rates and daily means from the series
func calculateTrends(history []DailyCount) Trends {
	if len(history) < 2 {
		return Trends{Trend: TrendStable, TotalDays: len(history)}
	}

	counts := make([]float64, len(history))
	positives := make([]float64, len(history))
	var totalCount, totalPositive float64
	for i, day := range history {
		counts[i] = float64(day.Count)
		positives[i] = float64(day.Positives)
		totalCount += counts[i]
		totalPositive += positives[i]
	}

	trends := Trends{
		GrowthRate:         averageGrowthRate(counts),
		PositiveGrowthRate: averageGrowthRate(positives),
		AverageDaily:       totalCount / float64(len(history)),
		AveragePositive:    totalPositive / float64(len(history)),
		TotalDays:          len(history),
	}

	switch {
	case trends.GrowthRate > trendBand:
		trends.Trend = TrendIncreasing
	case trends.GrowthRate < -trendBand:
		trends.Trend = TrendDecreasing
	default:
		trends.Trend = TrendStable
	}

	return trends
}

// averageGrowthRate is the mean of day-over-day relative growth, taken over
// days with a non-zero predecessor.
func averageGrowthRate(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	var sum float64
	var n int
	for i := 1; i < len(values); i++ {
		if values[i-1] > 0 {
			sum += (values[i] - values[i-1]) / values[i-1]
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// project compounds the growth rate onto the trailing mean, day by day,
// floored at zero.
func project(trends Trends, daysAhead int, now time.Time) []Prediction {
	predictions := make([]Prediction, 0, daysAhead)

	positiveRatio := 0.0
	if trends.AverageDaily > 0 {
		positiveRatio = trends.AveragePositive / trends.AverageDaily
	}

	value := trends.AverageDaily
	for day := 1; day <= daysAhead; day++ {
		value = value * (1 + trends.GrowthRate)
		if value < 0 {
			value = 0
		}

		predictions = append(predictions, Prediction{
			Day:               day,
			Date:              now.AddDate(0, 0, day).Format("2006-01-02"),
			PredictedCount:    int(math.Round(value)),
			PredictedPositive: int(math.Round(value * positiveRatio)),
			RiskLevel:         riskLevel(value, trends.AverageDaily),
		})
	}

	return predictions
}

// riskLevel grades a projected value against the trailing mean
func riskLevel(value, averageDaily float64) string {
	threshold := averageDaily * 1.5
	switch {
	case value > threshold*1.5:
		return RiskHigh
	case value > threshold:
		return RiskMedium
	default:
		return RiskLow
	}
}

// confidence scores the forecast from history depth, penalized for volatile
// growth.
func confidence(trends Trends) int {
	c := math.Min(float64(trends.TotalDays)/30, 1) * 0.7
	if math.Abs(trends.GrowthRate) > volatilityLimit {
		c *= 0.8
	}
	return int(math.Round(c * 100))
}
