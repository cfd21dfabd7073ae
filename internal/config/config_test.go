package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Server.RequestTimeoutSecs)
	assert.Equal(t, 1000, cfg.Server.MaxConcurrentRequests)
	assert.Equal(t, int64(2*1024*1024), cfg.Server.MaxBodySizeBytes)
	assert.Equal(t, int64(256*1024*1024), cfg.Server.MaxWriteSizeBytes)
	assert.False(t, cfg.Server.RateLimit.Enabled)
	assert.Equal(t, 5, cfg.Server.MetaResilience.FailureThreshold)
	assert.Equal(t, []string{"./plugins"}, cfg.Server.Plugins.Directories)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fs9.yaml")
	yaml := `
server:
  host: 127.0.0.1
  port: 8081
  meta_url: "https://meta.internal"
  rate_limit:
    enabled: true
    namespace_qps: 50
mounts:
  - path: /
    provider: memfs
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))

	cfg := NewDefault()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.True(t, cfg.Server.RateLimit.Enabled)
	assert.Equal(t, float64(50), cfg.Server.RateLimit.NamespaceQPS)
	require.Len(t, cfg.Mounts, 1)
	assert.Equal(t, "memfs", cfg.Mounts[0].Provider)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FS9_HOST", "10.0.0.5")
	t.Setenv("FS9_PORT", "7000")
	t.Setenv("FS9_AUTH_ENABLED", "false")
	t.Setenv("FS9_RATE_LIMIT_ENABLED", "true")

	cfg := NewDefault()
	cfg.Server.Plugins.Directories = nil
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "10.0.0.5", cfg.Server.Host)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.False(t, cfg.Server.Auth.Enabled)
	assert.True(t, cfg.Server.RateLimit.Enabled)
}

func TestLoadFromEnv_PluginDirFallback(t *testing.T) {
	t.Setenv(pluginDirEnvVar, "/opt/fs9/plugins")

	cfg := NewDefault()
	cfg.Server.Plugins.Directories = nil
	require.NoError(t, cfg.LoadFromEnv())
	assert.Equal(t, []string{"/opt/fs9/plugins"}, cfg.Server.Plugins.Directories)

	// The env var is ignored when the config list is already populated.
	cfg2 := NewDefault()
	require.NoError(t, cfg2.LoadFromEnv())
	assert.Equal(t, []string{"./plugins"}, cfg2.Server.Plugins.Directories)
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Configuration)
	}{
		{"zero concurrency", func(c *Configuration) { c.Server.MaxConcurrentRequests = 0 }},
		{"zero timeout", func(c *Configuration) { c.Server.RequestTimeoutSecs = 0 }},
		{"bad port", func(c *Configuration) { c.Server.Port = 0 }},
		{"auth without meta_url", func(c *Configuration) {
			c.Server.Auth.Enabled = true
			c.Server.MetaURL = ""
		}},
		{"unknown log level", func(c *Configuration) { c.Server.LogLevel = "TRACE_XYZ" }},
		{"mount missing provider", func(c *Configuration) {
			c.Mounts = []Mount{{Path: "/x"}}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefault()
			tc.mut(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roundtrip.yaml")

	cfg := NewDefault()
	cfg.Server.Port = 12345
	require.NoError(t, cfg.SaveToFile(path))

	reloaded := &Configuration{}
	require.NoError(t, reloaded.LoadFromFile(path))
	assert.Equal(t, 12345, reloaded.Server.Port)
}
