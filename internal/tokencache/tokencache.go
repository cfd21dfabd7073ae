// Package tokencache implements the bounded, TTL'd cache of positive
// token-validation results that sits in front of the metadata-service
// client so a hot token isn't re-validated over the network on every
// request.
package tokencache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Claims is the subset of a validated token's claims worth caching.
type Claims struct {
	Tenant  string
	User    string
	Roles   []string
	Expires time.Time
}

// Cache caches Claims by token hash. Entries never outlive the shorter of
// the cache's own TTL and the claim's own expiry — Get discards an entry
// whose Expires has passed even if the LRU itself hasn't evicted it yet.
type Cache struct {
	lru *lru.LRU[string, Claims]
}

// New creates a Cache holding up to size entries, each evicted after ttl
// regardless of its own claim expiry (an upper bound in case a claim's
// Expires is implausibly far in the future).
func New(size int, ttl time.Duration) *Cache {
	return &Cache{lru: lru.NewLRU[string, Claims](size, nil, ttl)}
}

// Get returns the cached claims for tokenHash, if present and not expired.
func (c *Cache) Get(tokenHash string) (Claims, bool) {
	claims, ok := c.lru.Get(tokenHash)
	if !ok {
		return Claims{}, false
	}
	if !claims.Expires.IsZero() && time.Now().After(claims.Expires) {
		c.lru.Remove(tokenHash)
		return Claims{}, false
	}
	return claims, true
}

// Put caches claims under tokenHash.
func (c *Cache) Put(tokenHash string, claims Claims) {
	c.lru.Add(tokenHash, claims)
}

// Invalidate removes a cached entry, used when a token is explicitly
// revoked so a cached positive result can't outlive the revocation.
func (c *Cache) Invalidate(tokenHash string) {
	c.lru.Remove(tokenHash)
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int {
	return c.lru.Len()
}
