package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Surveillance metrics
	contactSearchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "contact_searches_total",
			Help: "Total number of contact searches executed",
		},
	)

	contactSearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "contact_search_duration_seconds",
			Help:    "Contact search duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	graphsBuilt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transmission_graphs_built_total",
			Help: "Total number of transmission graphs built",
		},
		[]string{"truncated"},
	)

	graphSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transmission_graph_size",
			Help:    "Node and edge counts of built transmission graphs",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"kind"},
	)

	r0Calculations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "r0_calculations_total",
			Help: "Total number of R0 estimations performed",
		},
	)

	clustersDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epidemic_clusters_detected_total",
			Help: "Total number of epidemic clusters created",
		},
		[]string{"disease", "alert_level"},
	)

	alertsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_published_total",
			Help: "Total number of alert payloads handed to the sink",
		},
		[]string{"type", "severity"},
	)

	anomalyFindings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anomaly_findings_total",
			Help: "Total number of anomaly findings produced",
		},
		[]string{"type", "severity"},
	)

	forecastRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forecast_requests_total",
			Help: "Total number of trend forecasts computed",
		},
	)

	eventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagnosis_events_ingested_total",
			Help: "Total number of diagnosis events consumed from ingest sources",
		},
		[]string{"source", "result"},
	)

	eventStoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "event_store_query_duration_seconds",
			Help:    "Diagnosis event store query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes URL paths for metrics to avoid cardinality explosion
func normalizePath(path string) string {
	if len(path) > 100 {
		return "/api/..."
	}
	return path
}

// --- Surveillance metric helpers ---

// RecordContactSearch records one contact search and its duration
func RecordContactSearch(duration time.Duration) {
	contactSearchesTotal.Inc()
	contactSearchDuration.Observe(duration.Seconds())
}

// RecordGraphBuilt records a completed transmission graph
func RecordGraphBuilt(nodes, edges int, truncated bool) {
	graphsBuilt.WithLabelValues(strconv.FormatBool(truncated)).Inc()
	graphSize.WithLabelValues("nodes").Observe(float64(nodes))
	graphSize.WithLabelValues("edges").Observe(float64(edges))
}

// RecordR0Calculation records an R0 estimation
func RecordR0Calculation() {
	r0Calculations.Inc()
}

// RecordClusterDetected records a newly created epidemic cluster
func RecordClusterDetected(disease, alertLevel string) {
	clustersDetected.WithLabelValues(disease, alertLevel).Inc()
}

// RecordAlertPublished records an alert handed to the sink
func RecordAlertPublished(alertType, severity string) {
	alertsPublished.WithLabelValues(alertType, severity).Inc()
}

// RecordAnomalyFinding records one anomaly finding
func RecordAnomalyFinding(findingType, severity string) {
	anomalyFindings.WithLabelValues(findingType, severity).Inc()
}

// RecordForecast records a trend forecast computation
func RecordForecast() {
	forecastRequests.Inc()
}

// RecordEventIngested records one event consumed from an ingest source
func RecordEventIngested(source, result string) {
	eventsIngested.WithLabelValues(source, result).Inc()
}

// RecordEventStoreQuery records an event store query duration
func RecordEventStoreQuery(operation string, duration time.Duration) {
	eventStoreQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
