package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

// HealthStatus represents the health of a single dependency
type HealthStatus struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// HealthReport is the aggregate health of the service
type HealthReport struct {
	Status string                  `json:"status"`
	Checks map[string]HealthStatus `json:"checks"`
}

// HealthChecker probes the service's backing dependencies
type HealthChecker struct {
	db      *sql.DB
	redis   *redis.Client
	timeout time.Duration
}

// NewHealthChecker creates a health checker. redis may be nil when
// caching is disabled.
func NewHealthChecker(db *sql.DB, redis *redis.Client) *HealthChecker {
	return &HealthChecker{
		db:      db,
		redis:   redis,
		timeout: 2 * time.Second,
	}
}

// Check probes each dependency and returns an aggregate report
func (h *HealthChecker) Check(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	report := HealthReport{
		Status: "ok",
		Checks: make(map[string]HealthStatus),
	}

	if err := h.db.PingContext(ctx); err != nil {
		report.Checks["postgres"] = HealthStatus{Healthy: false, Error: err.Error()}
		report.Status = "degraded"
	} else {
		report.Checks["postgres"] = HealthStatus{Healthy: true}
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			report.Checks["redis"] = HealthStatus{Healthy: false, Error: err.Error()}
			report.Status = "degraded"
		} else {
			report.Checks["redis"] = HealthStatus{Healthy: true}
		}
	}

	return report
}

// LivenessHandler responds 200 as long as the process is serving
func (h *HealthChecker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

// ReadinessHandler responds 200 when all dependencies are reachable,
// 503 otherwise
func (h *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if report.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(report)
	}
}
