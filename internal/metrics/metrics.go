package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the fixed instance-metric set FS9 exposes (§6.5), registered
// against a private registry so more than one instance can run in the same
// process without name collisions.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	tokenCacheHits      prometheus.Counter
	tokenCacheMisses    prometheus.Counter
	tokenRevocations    prometheus.Counter
	rateLimitRejections *prometheus.CounterVec
	circuitBreakerTrips *prometheus.CounterVec
	activeHandles       *prometheus.GaugeVec
}

// New creates a Metrics instance with every collector registered under the
// given namespace.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path, status and tenant.",
		}, []string{"method", "path", "status", "tenant"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		tokenCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_cache_hits_total",
			Help:      "Verification cache hits.",
		}),
		tokenCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_cache_misses_total",
			Help:      "Verification cache misses.",
		}),
		tokenRevocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_revocations_total",
			Help:      "Tokens explicitly revoked.",
		}),
		rateLimitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by the per-tenant/user rate limiter.",
		}, []string{"tenant"}),
		circuitBreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_trips_total",
			Help:      "Circuit breaker transitions into the open state.",
		}, []string{"breaker"}),
		activeHandles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_handles",
			Help:      "Currently open file handles by tenant.",
		}, []string{"tenant"}),
	}

	registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.tokenCacheHits,
		m.tokenCacheMisses,
		m.tokenRevocations,
		m.rateLimitRejections,
		m.circuitBreakerTrips,
		m.activeHandles,
	)

	return m
}

// Handler returns the HTTP handler that serves this instance's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(method, path, status, tenant string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, status, tenant).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *Metrics) RecordCacheHit()    { m.tokenCacheHits.Inc() }
func (m *Metrics) RecordCacheMiss()   { m.tokenCacheMisses.Inc() }
func (m *Metrics) RecordRevocation()  { m.tokenRevocations.Inc() }

func (m *Metrics) RecordRateLimitRejection(tenant string) {
	m.rateLimitRejections.WithLabelValues(tenant).Inc()
}

func (m *Metrics) RecordCircuitBreakerTrip(breaker string) {
	m.circuitBreakerTrips.WithLabelValues(breaker).Inc()
}

// SetActiveHandles updates the open-handle gauge for a tenant.
func (m *Metrics) SetActiveHandles(tenant string, count int) {
	m.activeHandles.WithLabelValues(tenant).Set(float64(count))
}
