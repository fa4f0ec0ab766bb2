// Package observability provides structured logging, Prometheus
// metrics, OpenTelemetry tracing, and dependency health checks for
// the billing engine.
//
// # Logging
//
// Logger wraps log/slog with a JSON handler and field-chaining
// helpers. Request-scoped loggers carry a request id and flow through
// context:
//
//	logger := observability.NewLogger(observability.LogLevelInfo)
//	logger.WithField("user_id", id).Info("subscription updated")
//
// # Metrics
//
// NewMetrics registers counters and histograms for webhook
// processing, reconcile transitions, entitlement decisions, ledger
// operations, and HTTP traffic on a caller-supplied registry. Expose
// them with MetricsHandler.
//
// # Tracing
//
// InitTracing installs a global OTLP gRPC trace exporter. Disabled
// configurations get a no-op provider so call sites never branch.
//
// # Health
//
// HealthChecker probes Postgres and Redis with a bounded timeout and
// serves liveness and readiness endpoints for orchestration.
package observability
