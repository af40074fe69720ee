package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// HealthChecker provides liveness and readiness probes
type HealthChecker struct {
	db    *sql.DB
	redis *redis.Client
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(db *sql.DB, redisClient *redis.Client) *HealthChecker {
	return &HealthChecker{db: db, redis: redisClient}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Liveness returns 200 whenever the process is serving requests
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	})
}

// Readiness checks Postgres and Redis and reports 503 if either is down.
// The rate limiter fails closed when Redis is unreachable, so an unhealthy
// Redis takes the instance out of rotation rather than serving 503s.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Dependencies: make(map[string]DependencyStatus),
	}

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			status.Status = StatusUnhealthy
			status.Dependencies["postgres"] = DependencyStatus{Status: StatusUnhealthy, Message: err.Error()}
		} else {
			status.Dependencies["postgres"] = DependencyStatus{Status: StatusHealthy}
		}
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			status.Status = StatusUnhealthy
			status.Dependencies["redis"] = DependencyStatus{Status: StatusUnhealthy, Message: err.Error()}
		} else {
			status.Dependencies["redis"] = DependencyStatus{Status: StatusHealthy}
		}
	}

	code := http.StatusOK
	if status.Status != StatusHealthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
