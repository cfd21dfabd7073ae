// Package revocation implements the token revocation set: a bounded, TTL'd
// set of token hashes that the auth middleware consults before even
// checking the verification cache, so a revoked token is rejected
// immediately regardless of its remaining lifetime.
package revocation

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// ttl bounds how long a revocation entry is retained. It only needs to
// outlive the longest token lifetime the metadata service issues; 25 hours
// comfortably covers a 24-hour token plus clock skew.
const ttl = 25 * time.Hour

// Hash returns the revocation-set key for a raw bearer token: the first 16
// bytes of its SHA-256 digest, hex-encoded. Truncating keeps the set's
// memory footprint small while remaining collision-safe for this purpose.
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:16])
}

// Set is a concurrency-safe, TTL'd set of revoked token hashes.
type Set struct {
	lru *lru.LRU[string, struct{}]
}

// New creates a Set that can hold up to maxEntries revoked token hashes.
func New(maxEntries int) *Set {
	return &Set{lru: lru.NewLRU[string, struct{}](maxEntries, nil, ttl)}
}

// Revoke marks token as revoked.
func (s *Set) Revoke(token string) {
	s.lru.Add(Hash(token), struct{}{})
}

// IsRevoked reports whether token has been revoked.
func (s *Set) IsRevoked(token string) bool {
	_, ok := s.lru.Get(Hash(token))
	return ok
}

// Len returns the number of currently tracked revocations.
func (s *Set) Len() int {
	return s.lru.Len()
}
