// Package auth implements FS9's authentication middleware (§4.7): extract
// the bearer token, reject it immediately if revoked, serve a cached
// positive validation if one exists, otherwise call out to the metadata
// service and cache the result, then attach a RequestContext to the
// request for every downstream handler.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/fs9/fs9/internal/metaclient"
	"github.com/fs9/fs9/internal/metrics"
	"github.com/fs9/fs9/internal/revocation"
	"github.com/fs9/fs9/internal/tokencache"
	"github.com/fs9/fs9/pkg/fsprovider"
	"github.com/fs9/fs9/pkg/utils"
)

// RequestContext is the authenticated identity attached to every request
// past the auth middleware (§3).
type RequestContext struct {
	Tenant    string
	UserID    string
	Roles     map[string]bool
	TokenHash string
}

// HasRole reports whether the request carries role.
func (rc RequestContext) HasRole(role string) bool {
	return rc.Roles[role]
}

// HasAnyRole reports whether the request carries any of roles.
func (rc RequestContext) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if rc.Roles[r] {
			return true
		}
	}
	return false
}

type ctxKey struct{}

// WithContext returns ctx annotated with rc.
func WithContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, rc)
}

// FromContext retrieves the RequestContext attached by the middleware.
func FromContext(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(ctxKey{}).(RequestContext)
	return rc, ok
}

// Authenticator wires together the revocation set, verification cache, and
// metadata client into the auth middleware.
type Authenticator struct {
	Enabled    bool
	revocation *revocation.Set
	cache      *tokencache.Cache
	meta       *metaclient.Client
	cacheMaxTTL int64 // seconds
	metrics    *metrics.Metrics
	log        *utils.StructuredLogger
}

// New creates an Authenticator. How long a positive result stays cached is
// decided by cache itself (its own TTL and each claim's expiry).
func New(enabled bool, rev *revocation.Set, cache *tokencache.Cache, meta *metaclient.Client, m *metrics.Metrics, log *utils.StructuredLogger) *Authenticator {
	return &Authenticator{
		Enabled:    enabled,
		revocation: rev,
		cache:      cache,
		meta:       meta,
		metrics:    m,
		log:        log.WithComponent("auth"),
	}
}

// authError carries the HTTP status the middleware should respond with.
type authError struct {
	status  int
	message string
}

func (e *authError) Error() string { return e.message }

func unauthorized(msg string) *authError  { return &authError{status: http.StatusUnauthorized, message: msg} }
func serviceDown(msg string) *authError   { return &authError{status: http.StatusServiceUnavailable, message: msg} }

// Authenticate validates the bearer token carried by r and returns the
// resulting RequestContext, or an *authError describing the HTTP response
// to send instead.
func (a *Authenticator) Authenticate(r *http.Request) (RequestContext, error) {
	if !a.Enabled {
		return RequestContext{Tenant: "default", UserID: "anonymous", Roles: map[string]bool{"admin": true}}, nil
	}

	token := bearerToken(r)
	if token == "" {
		return RequestContext{}, unauthorized("missing bearer token")
	}

	if a.revocation.IsRevoked(token) {
		return RequestContext{}, unauthorized("token has been revoked")
	}

	tokenHash := revocation.Hash(token)

	if claims, ok := a.cache.Get(tokenHash); ok {
		if a.metrics != nil {
			a.metrics.RecordCacheHit()
		}
		return toContext(claims, tokenHash), nil
	}
	if a.metrics != nil {
		a.metrics.RecordCacheMiss()
	}

	claims, err := a.meta.ValidateToken(r.Context(), token)
	if err != nil {
		if err == metaclient.ErrCircuitOpen {
			return RequestContext{}, serviceDown("metadata service unavailable")
		}
		a.log.Warn("token validation failed", map[string]interface{}{"error": err.Error()})
		return RequestContext{}, unauthorized("token validation failed")
	}

	a.cache.Put(tokenHash, claims)
	return toContext(claims, tokenHash), nil
}

func toContext(claims tokencache.Claims, tokenHash string) RequestContext {
	roles := make(map[string]bool, len(claims.Roles))
	for _, r := range claims.Roles {
		roles[r] = true
	}
	return RequestContext{
		Tenant:    claims.Tenant,
		UserID:    claims.User,
		Roles:     roles,
		TokenHash: tokenHash,
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

// Middleware wraps next, rejecting unauthenticated requests and attaching
// a RequestContext to authenticated ones.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc, err := a.Authenticate(r)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), rc)))
	})
}

func writeAuthError(w http.ResponseWriter, err error) {
	ae, ok := err.(*authError)
	status := http.StatusUnauthorized
	msg := err.Error()
	if ok {
		status = ae.status
		msg = ae.message
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

// Revoke adds token to the revocation set and evicts any cached positive
// validation result for it, so a revoked token is rejected on its very
// next use even if its verification-cache entry hasn't expired yet.
func (a *Authenticator) Revoke(token string) {
	a.revocation.Revoke(token)
	a.cache.Invalidate(revocation.Hash(token))
	if a.metrics != nil {
		a.metrics.RecordRevocation()
	}
}

// RequireRole wraps next so it only runs if the authenticated request
// carries at least one of the given roles; otherwise it responds 403.
func RequireRole(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc, ok := FromContext(r.Context())
		if !ok || !rc.HasAnyRole(roles...) {
			err := fsprovider.PermissionDenied("insufficient role")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			body, _ := err.JSON()
			_, _ = w.Write(body)
			return
		}
		next(w, r)
	}
}
