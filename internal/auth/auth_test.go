package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fs9/fs9/internal/metaclient"
	"github.com/fs9/fs9/internal/revocation"
	"github.com/fs9/fs9/internal/tokencache"
	"github.com/fs9/fs9/pkg/utils"
)

func testLogger(t *testing.T) *utils.StructuredLogger {
	t.Helper()
	l, err := utils.NewStructuredLogger(utils.DefaultStructuredLoggerConfig())
	require.NoError(t, err)
	return l
}

func newMetaServer(t *testing.T, tenant, user string, roles []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"tenant": tenant, "user": user, "roles": roles,
			"expiry": time.Now().Add(time.Hour).Unix(),
		})
	}))
}

func newAuthenticator(t *testing.T, server *httptest.Server) *Authenticator {
	t.Helper()
	meta := metaclient.New(metaclient.Config{BaseURL: server.URL})
	return New(true, revocation.New(1000), tokencache.New(1000, time.Hour), meta, nil, testLogger(t))
}

func TestAuthenticate_Success(t *testing.T) {
	server := newMetaServer(t, "t1", "alice", []string{"admin"})
	defer server.Close()

	a := newAuthenticator(t, server)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stat?path=/", nil)
	req.Header.Set("Authorization", "Bearer good-token")

	rc, err := a.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "t1", rc.Tenant)
	assert.Equal(t, "alice", rc.UserID)
	assert.True(t, rc.HasRole("admin"))
}

func TestAuthenticate_MissingToken(t *testing.T) {
	server := newMetaServer(t, "t1", "alice", nil)
	defer server.Close()

	a := newAuthenticator(t, server)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stat?path=/", nil)

	_, err := a.Authenticate(req)
	require.Error(t, err)
	ae, ok := err.(*authError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, ae.status)
}

func TestAuthenticate_Revoked(t *testing.T) {
	server := newMetaServer(t, "t1", "alice", nil)
	defer server.Close()

	a := newAuthenticator(t, server)
	a.revocation.Revoke("good-token")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stat?path=/", nil)
	req.Header.Set("Authorization", "Bearer good-token")

	_, err := a.Authenticate(req)
	require.Error(t, err)
}

func TestAuthenticate_CachesResult(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"tenant": "t1", "user": "alice", "roles": []string{},
			"expiry": time.Now().Add(time.Hour).Unix(),
		})
	}))
	defer server.Close()

	a := newAuthenticator(t, server)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stat?path=/", nil)
	req.Header.Set("Authorization", "Bearer good-token")

	_, err := a.Authenticate(req)
	require.NoError(t, err)
	_, err = a.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestAuthenticate_CircuitOpenFailsFast(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	meta := metaclient.New(metaclient.Config{
		BaseURL:          server.URL,
		FailureThreshold: 1,
		MaxRetryAttempts: 1,
	})
	a := New(true, revocation.New(1000), tokencache.New(1000, time.Hour), meta, nil, testLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stat?path=/", nil)
	req.Header.Set("Authorization", "Bearer good-token")

	_, err := a.Authenticate(req)
	require.Error(t, err)

	_, err = a.Authenticate(req)
	require.Error(t, err)
	ae, ok := err.(*authError)
	require.True(t, ok)
	assert.Equal(t, http.StatusServiceUnavailable, ae.status)
}

func TestRequireRole(t *testing.T) {
	called := false
	h := RequireRole(func(w http.ResponseWriter, r *http.Request) { called = true }, "admin")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/mount", nil)
	req = req.WithContext(WithContext(req.Context(), RequestContext{Roles: map[string]bool{"user": true}}))
	rec := httptest.NewRecorder()
	h(rec, req)
	assert.False(t, called)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/mount", nil)
	req2 = req2.WithContext(WithContext(req2.Context(), RequestContext{Roles: map[string]bool{"admin": true}}))
	rec2 := httptest.NewRecorder()
	h(rec2, req2)
	assert.True(t, called)
}
