package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - HTTP API request rates and latencies
//   - Database query performance
//   - Experiment lifecycle transitions and the running-experiment count
//   - Result ingestion volume per goal metric
//   - Analysis report build times
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordHTTPRequest("GET", "/api/ab-tests", "200", time.Since(start).Seconds())
type Metrics struct {
	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// DatabaseQueryDuration measures database query latency.
	// Labels: operation (select|insert|update|delete), table
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	DatabaseQueryDuration *prometheus.HistogramVec

	// DatabaseQueryCounter counts database queries.
	// Labels: operation, table, status (success|error)
	DatabaseQueryCounter *prometheus.CounterVec

	// ExperimentTransitions counts lifecycle transitions.
	// Labels: from (draft|running), to (running|completed|stopped)
	ExperimentTransitions *prometheus.CounterVec

	// RunningExperiments is a gauge tracking experiments currently running.
	RunningExperiments prometheus.Gauge

	// ResultsRecorded counts ingested result records.
	// Labels: goal_metric (user_rating|cost|success_rate|response_time)
	ResultsRecorded *prometheus.CounterVec

	// ReportBuildDuration measures analysis report build time in seconds.
	// Buckets: 0.0001s, 0.001s, 0.01s, 0.05s, 0.1s, 0.5s, 1s
	ReportBuildDuration prometheus.Histogram

	// ErrorCounter tracks errors by component and error type.
	// Labels: component (web|storage|experiments), error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the default
// registry. This should be called once at application startup; the metrics
// become available at the /metrics endpoint.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the metrics with the given registerer. Tests use
// this with a fresh prometheus.NewRegistry to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "promptminder_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptminder_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		DatabaseQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "promptminder_database_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "table"},
		),

		DatabaseQueryCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptminder_database_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"operation", "table", "status"},
		),

		ExperimentTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptminder_experiment_transitions_total",
				Help: "Total number of experiment lifecycle transitions",
			},
			[]string{"from", "to"},
		),

		RunningExperiments: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "promptminder_running_experiments",
				Help: "Current number of running experiments",
			},
		),

		ResultsRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptminder_results_recorded_total",
				Help: "Total number of result records ingested by goal metric",
			},
			[]string{"goal_metric"},
		),

		ReportBuildDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "promptminder_report_build_duration_seconds",
				Help:    "Duration of analysis report builds in seconds",
				Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1},
			},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptminder_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// RecordHTTPRequest records metrics for an HTTP request.
//
// Example:
//
//	start := time.Now()
//	// ... handle HTTP request ...
//	metrics.RecordHTTPRequest("GET", "/api/ab-tests", "200", time.Since(start).Seconds())
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordDatabaseQuery records metrics for a database query.
//
// Example:
//
//	start := time.Now()
//	// ... execute database query ...
//	metrics.RecordDatabaseQuery("select", "ab_test_experiments", "success", time.Since(start).Seconds())
func (m *Metrics) RecordDatabaseQuery(operation, table, status string, durationSeconds float64) {
	m.DatabaseQueryCounter.WithLabelValues(operation, table, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and error type.
//
// Example:
//
//	metrics.RecordError("storage", "conflict")
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
