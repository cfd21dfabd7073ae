// Package config loads and validates FS9's configuration surface (§6.4):
// server networking, resilience, rate limiting, plugin directories, and
// preloaded mounts. It follows the teacher's LoadFromFile/LoadFromEnv/
// Validate shape, rebuilt around FS9's own option set.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/fs9/fs9/pkg/utils"
)

// Configuration is FS9's complete configuration surface. Every field is
// optional; NewDefault fills in the §6.4 defaults before a file or the
// environment is consulted.
type Configuration struct {
	Server Server  `yaml:"server"`
	Mounts []Mount `yaml:"mounts"`
}

// Server groups every `server.*` option of §6.4.
type Server struct {
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	RequestTimeoutSecs    int    `yaml:"request_timeout_secs"`
	MaxConcurrentRequests int    `yaml:"max_concurrent_requests"`
	MaxBodySizeBytes      int64  `yaml:"max_body_size_bytes"`
	MaxWriteSizeBytes     int64  `yaml:"max_write_size_bytes"`
	ShutdownTimeoutSecs   int    `yaml:"shutdown_timeout_secs"`
	LogLevel              string `yaml:"log_level"`
	LogFile               string `yaml:"log_file"`
	EnableProfiling       bool   `yaml:"enable_profiling"`

	RateLimit      RateLimit      `yaml:"rate_limit"`
	Metrics        Metrics        `yaml:"metrics"`
	MetaURL        string         `yaml:"meta_url"`
	MetaKey        string         `yaml:"meta_key"`
	MetaResilience MetaResilience `yaml:"meta_resilience"`
	Auth           Auth           `yaml:"auth"`
	Plugins        Plugins        `yaml:"plugins"`

	HandleTTLSecs        int `yaml:"handle_ttl_secs"`
	HandleCleanupSecs    int `yaml:"handle_cleanup_interval_secs"`
	TokenCacheSize       int `yaml:"token_cache_size"`
	TokenCacheMaxTTLSecs int `yaml:"token_cache_max_ttl_secs"`
	RevocationCapacity   int `yaml:"revocation_capacity"`
}

// RateLimit groups `server.rate_limit.*`.
type RateLimit struct {
	Enabled      bool    `yaml:"enabled"`
	NamespaceQPS float64 `yaml:"namespace_qps"`
	UserQPS      float64 `yaml:"user_qps"`
}

// Metrics groups `server.metrics.*`.
type Metrics struct {
	Enabled bool `yaml:"enabled"`
}

// MetaResilience groups `server.meta_resilience.*`.
type MetaResilience struct {
	FailureThreshold    int `yaml:"failure_threshold"`
	RecoveryTimeoutSecs int `yaml:"recovery_timeout_secs"`
	MaxRetryAttempts    int `yaml:"max_retry_attempts"`
	BaseDelayMs         int `yaml:"base_delay_ms"`
}

// Auth groups `server.auth.*`.
type Auth struct {
	Enabled bool `yaml:"enabled"`
}

// Plugins groups `server.plugins.*`.
type Plugins struct {
	Directories []string `yaml:"directories"`
}

// Mount is one entry of the top-level `mounts[]` list: a preloaded mount
// for the default tenant.
type Mount struct {
	Path     string                 `yaml:"path"`
	Provider string                 `yaml:"provider"`
	Config   map[string]interface{} `yaml:"config"`
}

// NewDefault returns a Configuration with every §6.4 default applied.
func NewDefault() *Configuration {
	return &Configuration{
		Server: Server{
			Host:                  "0.0.0.0",
			Port:                  9999,
			RequestTimeoutSecs:    30,
			MaxConcurrentRequests: 1000,
			MaxBodySizeBytes:      2 * 1024 * 1024,
			MaxWriteSizeBytes:     256 * 1024 * 1024,
			ShutdownTimeoutSecs:   30,
			LogLevel:              "INFO",
			RateLimit: RateLimit{
				Enabled:      false,
				NamespaceQPS: 1000,
				UserQPS:      100,
			},
			Metrics: Metrics{Enabled: true},
			MetaResilience: MetaResilience{
				FailureThreshold:    5,
				RecoveryTimeoutSecs: 30,
				MaxRetryAttempts:    3,
				BaseDelayMs:         100,
			},
			Auth:    Auth{Enabled: true},
			Plugins: Plugins{Directories: []string{"./plugins"}},

			HandleTTLSecs:        300,
			HandleCleanupSecs:    60,
			TokenCacheSize:       100_000,
			TokenCacheMaxTTLSecs: 3600,
			RevocationCapacity:   500_000,
		},
	}
}

// LoadFromFile loads and merges a YAML configuration file into c.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// pluginDirEnvVar is the fallback plugin directory source. Resolution order
// (DESIGN.md Open Question 1): the config list is authoritative; this
// variable is consulted only when the config list is empty. NewDefault
// fills the list with "./plugins", so the variable takes effect only when
// the configuration sets the list to empty.
const pluginDirEnvVar = "FS9_PLUGIN_DIR"

// LoadFromEnv overlays environment variables onto c, following the same
// prefixed-variable convention the teacher used (OBJECTFS_*), renamed to
// FS9_* for this service.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("FS9_HOST"); val != "" {
		c.Server.Host = val
	}
	if val := os.Getenv("FS9_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Server.Port = port
		}
	}
	if val := os.Getenv("FS9_LOG_LEVEL"); val != "" {
		c.Server.LogLevel = val
	}
	if val := os.Getenv("FS9_LOG_FILE"); val != "" {
		c.Server.LogFile = val
	}
	if val := os.Getenv("FS9_META_URL"); val != "" {
		c.Server.MetaURL = val
	}
	if val := os.Getenv("FS9_META_KEY"); val != "" {
		c.Server.MetaKey = val
	}
	if val := os.Getenv("FS9_AUTH_ENABLED"); val != "" {
		c.Server.Auth.Enabled = strings.EqualFold(val, "true")
	}
	if val := os.Getenv("FS9_RATE_LIMIT_ENABLED"); val != "" {
		c.Server.RateLimit.Enabled = strings.EqualFold(val, "true")
	}
	if val := os.Getenv("FS9_MAX_CONCURRENT_REQUESTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Server.MaxConcurrentRequests = n
		}
	}
	if val := os.Getenv("FS9_REQUEST_TIMEOUT_SECS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Server.RequestTimeoutSecs = n
		}
	}
	if val := os.Getenv("FS9_MAX_WRITE_SIZE"); val != "" {
		if n, err := utils.ParseBytes(val); err == nil {
			c.Server.MaxWriteSizeBytes = n
		}
	}

	// Plugin directory resolution order (DESIGN.md Open Question 1).
	if len(c.Server.Plugins.Directories) == 0 {
		if dir := os.Getenv(pluginDirEnvVar); dir != "" {
			c.Server.Plugins.Directories = []string{dir}
		}
	}

	return nil
}

// SaveToFile writes c to filename as YAML with restrictive permissions.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate rejects configuration combinations that cannot run.
func (c *Configuration) Validate() error {
	if c.Server.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("server.max_concurrent_requests must be greater than 0")
	}
	if c.Server.RequestTimeoutSecs <= 0 {
		return fmt.Errorf("server.request_timeout_secs must be greater than 0")
	}
	if c.Server.MaxBodySizeBytes <= 0 {
		return fmt.Errorf("server.max_body_size_bytes must be greater than 0")
	}
	if c.Server.MaxWriteSizeBytes <= 0 {
		return fmt.Errorf("server.max_write_size_bytes must be greater than 0")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.Auth.Enabled && c.Server.MetaURL == "" {
		return fmt.Errorf("server.meta_url is required when server.auth.enabled is true")
	}
	if c.Server.MetaResilience.FailureThreshold <= 0 {
		return fmt.Errorf("server.meta_resilience.failure_threshold must be greater than 0")
	}
	if c.Server.MetaResilience.MaxRetryAttempts <= 0 {
		return fmt.Errorf("server.meta_resilience.max_retry_attempts must be greater than 0")
	}
	if _, err := utils.ParseLogLevel(c.Server.LogLevel); err != nil {
		return fmt.Errorf("invalid server.log_level: %w", err)
	}
	for _, m := range c.Mounts {
		if m.Path == "" {
			return fmt.Errorf("mounts[]: path is required")
		}
		if m.Provider == "" {
			return fmt.Errorf("mounts[]: provider is required for mount %q", m.Path)
		}
	}
	return nil
}

// RequestTimeout returns server.request_timeout_secs as a time.Duration.
func (c *Configuration) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSecs) * time.Second
}

// ShutdownTimeout returns server.shutdown_timeout_secs as a time.Duration.
func (c *Configuration) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSecs) * time.Second
}

// HandleTTL returns the handle registry's reclamation TTL as a duration.
func (c *Configuration) HandleTTL() time.Duration {
	return time.Duration(c.Server.HandleTTLSecs) * time.Second
}

// HandleCleanupInterval returns the handle registry sweep interval.
func (c *Configuration) HandleCleanupInterval() time.Duration {
	return time.Duration(c.Server.HandleCleanupSecs) * time.Second
}

// MetaRecoveryTimeout returns the circuit breaker's OPEN->HALF_OPEN delay.
func (c *Configuration) MetaRecoveryTimeout() time.Duration {
	return time.Duration(c.Server.MetaResilience.RecoveryTimeoutSecs) * time.Second
}

// MetaBaseDelay returns the retry loop's base exponential-backoff delay.
func (c *Configuration) MetaBaseDelay() time.Duration {
	return time.Duration(c.Server.MetaResilience.BaseDelayMs) * time.Millisecond
}

// TokenCacheMaxTTL returns the verification cache's upper-bound TTL.
func (c *Configuration) TokenCacheMaxTTL() time.Duration {
	return time.Duration(c.Server.TokenCacheMaxTTLSecs) * time.Second
}

// Addr returns the host:port the HTTP server should bind.
func (c *Configuration) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
