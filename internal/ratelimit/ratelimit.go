// Package ratelimit implements FS9's per-tenant and per-user request
// throttling on top of a token bucket, keyed independently so one noisy
// user cannot exhaust another user's share of their shared tenant's quota.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config configures one dimension's limiter (tenant or user).
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// Limiter holds a per-key set of token-bucket limiters, creating one lazily
// the first time a key is seen.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	cfg      Config
}

// New creates a Limiter applying cfg to every key. A zero
// RequestsPerSecond means unlimited: Allow always returns true without
// consulting a real limiter, avoiding the cost of an always-permitting
// token bucket on a hot path that doesn't need one.
func New(cfg Config) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		cfg:      cfg,
	}
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)
		l.limiters[key] = lim
	}
	return lim
}

// Allow reports whether one request for key may proceed now.
func (l *Limiter) Allow(key string) bool {
	if l.cfg.RequestsPerSecond <= 0 {
		return true
	}
	return l.get(key).Allow()
}

// Reserve returns how long the caller must wait before one request for key
// would be allowed, for building a Retry-After response on rejection.
func (l *Limiter) Reserve(key string) (ok bool, retryAfterSeconds float64) {
	if l.cfg.RequestsPerSecond <= 0 {
		return true, 0
	}
	r := l.get(key).Reserve()
	if !r.OK() {
		return false, 0
	}
	delay := r.Delay()
	if delay <= 0 {
		return true, 0
	}
	r.Cancel()
	return false, delay.Seconds()
}

// Limiters composes an independent tenant-scoped and user-scoped Limiter:
// a request must pass both before it proceeds, so a busy tenant's overall
// budget and one user's individual share are both enforced.
type Limiters struct {
	Tenant *Limiter
	User   *Limiter
}

// NewLimiters creates tenant and user limiters from the given configs.
func NewLimiters(tenantCfg, userCfg Config) *Limiters {
	return &Limiters{
		Tenant: New(tenantCfg),
		User:   New(userCfg),
	}
}

// Allow reports whether a request from (tenant, user) may proceed. Both
// dimensions must allow it.
func (l *Limiters) Allow(tenant, user string) bool {
	return l.Tenant.Allow(tenant) && l.User.Allow(user)
}
