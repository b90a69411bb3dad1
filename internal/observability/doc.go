// Package observability provides monitoring and debugging capabilities for
// Prompt Minder through Prometheus metrics and structured logging.
//
// # Metrics
//
// Metrics are implemented using the Prometheus client libraries and track:
//   - HTTP API request rates and latencies
//   - Database query performance
//   - Experiment lifecycle transitions and the running-experiment count
//   - Result record ingestion volume per goal metric
//   - Analysis report build times
//   - Error rates by component and type
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	start := time.Now()
//	// ... handle request ...
//	metrics.RecordHTTPRequest("GET", "/api/ab-tests", "200", time.Since(start).Seconds())
//
//	metrics.ExperimentTransitions.WithLabelValues("draft", "running").Inc()
//	metrics.RunningExperiments.Inc()
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic request, user, team, and experiment ID correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//
//	ctx := observability.AddRequestID(ctx, requestID)
//	ctx = observability.AddExperimentID(ctx, exp.ID)
//
//	logger.Info(ctx, "experiment started", "goal_metric", exp.GoalMetric)
//
//	// Error logging with automatic redaction
//	logger.Error(ctx, "token validation failed",
//	    "error", err,
//	    "api_key", apiKey, // redacted before emission
//	)
//
// # Security Considerations
//
// The logging component automatically redacts:
//   - API keys and bearer tokens
//   - Passwords and secrets
//   - JWT tokens
//   - Custom patterns via configuration
//
// Sensitive fields in maps are also redacted:
//   - password, passwd, pwd
//   - secret, api_key, apikey
//   - token, auth, authorization
//   - private_key, privatekey
//
// # Testing
//
// Both components provide testable entry points:
//   - NewMetricsWith accepts a fresh prometheus.NewRegistry, and values can
//     be verified using prometheus/testutil
//   - NewLogger can write to a bytes.Buffer for assertions
//
// # Monitoring
//
// The exposed metrics support the usual dashboard queries:
//
//	# Request throughput
//	rate(promptminder_http_requests_total[5m])
//
//	# Report build latency (95th percentile)
//	histogram_quantile(0.95, rate(promptminder_report_build_duration_seconds_bucket[5m]))
//
//	# Error rate
//	rate(promptminder_errors_total[5m])
//
//	# Currently running experiments
//	promptminder_running_experiments
package observability
