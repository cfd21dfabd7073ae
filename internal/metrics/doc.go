/*
Package metrics exposes FS9's instance metrics via Prometheus.

# Overview

The package wraps a small, fixed set of Prometheus collectors — the minimum
instance metric set FS9 requires — and registers them against a private
registry so a server process can host more than one FS9 instance without
metric name collisions.

# Metrics

Counters:

	fs9_http_requests_total{method,path,status,tenant}
	fs9_token_cache_hits_total
	fs9_token_cache_misses_total
	fs9_token_revocations_total
	fs9_rate_limit_rejections_total{tenant}
	fs9_circuit_breaker_trips_total{breaker}

Histograms:

	fs9_http_request_duration_seconds{method,path}

Gauges:

	fs9_active_handles{tenant}

# Usage

	m := metrics.New("fs9")
	mux.Handle("/metrics", m.Handler())

	m.ObserveRequest(method, path, status, tenant, duration)
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.SetActiveHandles(tenant, count)
	m.RecordRevocation()
	m.RecordRateLimitRejection(tenant)
	m.RecordCircuitBreakerTrip("meta")

# See Also

  - internal/circuit: circuit breaker whose trips this package counts
  - internal/ratelimit: rate limiter whose rejections this package counts
  - internal/tokencache, internal/revocation: token caches this package counts
*/
package metrics
