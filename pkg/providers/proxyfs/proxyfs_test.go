package proxyfs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fs9/fs9/internal/vfs"
	"github.com/fs9/fs9/pkg/fsprovider"
)

func TestStat_ForwardsIncrementedHopHeader(t *testing.T) {
	var gotHops string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHops = r.Header.Get(HopHeader)
		_ = json.NewEncoder(w).Encode(fsprovider.FileInfo{Path: "/x"})
	}))
	defer server.Close()

	p := New(Config{BaseURL: server.URL})
	ctx := vfs.WithHopCount(context.Background(), 3)
	_, err := p.Stat(ctx, "/x")
	require.NoError(t, err)
	assert.Equal(t, "4", gotHops)
}

func TestStat_MapsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	p := New(Config{BaseURL: server.URL})
	_, err := p.Stat(context.Background(), "/missing")
	require.Error(t, err)
	fe, ok := err.(*fsprovider.FsError)
	require.True(t, ok)
	assert.Equal(t, fsprovider.CodeNotFound, fe.Code)
}

func TestStat_MapsLoopDetected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusLoopDetected)
	}))
	defer server.Close()

	p := New(Config{BaseURL: server.URL})
	_, err := p.Stat(context.Background(), "/x")
	require.Error(t, err)
	fe, ok := err.(*fsprovider.FsError)
	require.True(t, ok)
	assert.Equal(t, fsprovider.CodeTooManyHops, fe.Code)
}

func TestCapabilities_IsAll(t *testing.T) {
	p := New(Config{BaseURL: "http://unused"})
	assert.Equal(t, fsprovider.AllCapabilities, p.Capabilities())
}
