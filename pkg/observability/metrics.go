package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication pipeline metrics
	AuthRejectionsTotal *prometheus.CounterVec
	AuthSuccessTotal    prometheus.Counter

	// CSRF metrics
	CSRFRejectionsTotal *prometheus.CounterVec

	// Rate limit metrics
	RateLimitExceededTotal *prometheus.CounterVec
	CounterStoreErrors     prometheus.Counter

	// Tenant cache metrics
	TenantCacheHitsTotal   prometheus.Counter
	TenantCacheMissesTotal prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_http_requests_total",
				Help: "Total HTTP requests by method, path, and status code",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		AuthRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_auth_rejections_total",
				Help: "Authentication pipeline rejections by reason",
			},
			[]string{"reason"},
		),
		AuthSuccessTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_auth_success_total",
				Help: "Requests that passed the full authentication pipeline",
			},
		),
		CSRFRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_csrf_rejections_total",
				Help: "CSRF guard rejections by reason",
			},
			[]string{"reason"},
		),
		RateLimitExceededTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_ratelimit_exceeded_total",
				Help: "Rate limit rejections by tier",
			},
			[]string{"tier"},
		),
		CounterStoreErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_counter_store_errors_total",
				Help: "Counter store failures that caused fail-closed rejections",
			},
		),
		TenantCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_tenant_cache_hits_total",
				Help: "Tenant mapping cache hits",
			},
		),
		TenantCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_tenant_cache_misses_total",
				Help: "Tenant mapping cache misses",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthRejectionsTotal,
		m.AuthSuccessTotal,
		m.CSRFRejectionsTotal,
		m.RateLimitExceededTotal,
		m.CounterStoreErrors,
		m.TenantCacheHitsTotal,
		m.TenantCacheMissesTotal,
	)

	return m
}

// Handler returns the /metrics HTTP handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one completed HTTP request
func (m *Metrics) ObserveRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
