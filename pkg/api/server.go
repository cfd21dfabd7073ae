// Package api implements FS9's HTTP surface: the nine-operation REST API,
// streaming download/upload, plugin and mount administration, health and
// metrics, wired over the namespace manager, auth middleware, and rate
// limiters.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fs9/fs9/internal/auth"
	"github.com/fs9/fs9/internal/config"
	"github.com/fs9/fs9/internal/metaclient"
	"github.com/fs9/fs9/internal/metrics"
	"github.com/fs9/fs9/internal/namespace"
	"github.com/fs9/fs9/internal/plugin"
	"github.com/fs9/fs9/internal/ratelimit"
	"github.com/fs9/fs9/internal/revocation"
	"github.com/fs9/fs9/internal/tokencache"
	"github.com/fs9/fs9/pkg/fsprovider"
	"github.com/fs9/fs9/pkg/health"
	"github.com/fs9/fs9/pkg/providers"
	"github.com/fs9/fs9/pkg/utils"
)

// Server is a single FS9 instance: one HTTP listener fronting a namespace
// manager, auth pipeline, plugin manager, and provider registry.
type Server struct {
	cfg *config.Configuration
	log *utils.StructuredLogger

	instanceID string
	startedAt  time.Time

	namespaces *namespace.Manager
	providers  *providers.Registry
	plugins    *plugin.Manager
	auth       *auth.Authenticator
	limiters   *ratelimit.Limiters
	metrics    *metrics.Metrics
	health     *health.Tracker
	meta       *metaclient.Client

	httpServer *http.Server
	sem        chan struct{}
}

// New builds a Server from cfg. It does not start listening; call Start or
// StartBackground.
func New(cfg *config.Configuration, log *utils.StructuredLogger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("api: invalid configuration: %w", err)
	}

	log = log.WithComponent("api")

	healthTracker := health.NewTracker(health.DefaultConfig())
	healthTracker.RegisterComponent("meta-service")

	var meta *metaclient.Client
	if cfg.Server.MetaURL != "" {
		meta = metaclient.New(metaclient.Config{
			BaseURL:          cfg.Server.MetaURL,
			APIKey:           cfg.Server.MetaKey,
			FailureThreshold: cfg.Server.MetaResilience.FailureThreshold,
			RecoveryTimeout:  cfg.MetaRecoveryTimeout(),
			MaxRetryAttempts: cfg.Server.MetaResilience.MaxRetryAttempts,
			BaseDelay:        cfg.MetaBaseDelay(),
		})
	}

	m := metrics.New("fs9")

	authenticator := auth.New(
		cfg.Server.Auth.Enabled,
		revocation.New(cfg.Server.RevocationCapacity),
		tokencache.New(cfg.Server.TokenCacheSize, cfg.TokenCacheMaxTTL()),
		meta,
		m,
		log,
	)

	s := &Server{
		cfg:        cfg,
		log:        log,
		instanceID: newInstanceID(),
		startedAt:  time.Now().UTC(),
		namespaces: namespace.NewManager(cfg.HandleTTL(), cfg.HandleCleanupInterval()),
		providers:  providers.Default(),
		plugins:    plugin.New(32, log),
		auth:       authenticator,
		limiters: ratelimit.NewLimiters(
			ratelimit.Config{RequestsPerSecond: tenantQPS(cfg), Burst: tenantBurst(cfg)},
			ratelimit.Config{RequestsPerSecond: userQPS(cfg), Burst: userBurst(cfg)},
		),
		metrics: m,
		health:  healthTracker,
		meta:    meta,
		sem:     make(chan struct{}, cfg.Server.MaxConcurrentRequests),
	}

	s.plugins.LoadDirectories(cfg.Server.Plugins.Directories)

	if err := s.applyPreloadedMounts(); err != nil {
		return nil, err
	}

	s.httpServer = &http.Server{
		Addr:    cfg.Addr(),
		Handler: s.routes(),
	}

	return s, nil
}

func tenantQPS(cfg *config.Configuration) float64 {
	if !cfg.Server.RateLimit.Enabled {
		return 0
	}
	return cfg.Server.RateLimit.NamespaceQPS
}

func userQPS(cfg *config.Configuration) float64 {
	if !cfg.Server.RateLimit.Enabled {
		return 0
	}
	return cfg.Server.RateLimit.UserQPS
}

func tenantBurst(cfg *config.Configuration) int {
	b := int(cfg.Server.RateLimit.NamespaceQPS)
	if b < 1 {
		b = 1
	}
	return b
}

func userBurst(cfg *config.Configuration) int {
	b := int(cfg.Server.RateLimit.UserQPS)
	if b < 1 {
		b = 1
	}
	return b
}

func (s *Server) applyPreloadedMounts() error {
	for _, mnt := range s.cfg.Mounts {
		router, err := s.namespaces.GetOrCreate(namespace.DefaultNamespace, "system")
		if err != nil {
			return err
		}
		provider, err := s.providers.Create(mnt.Provider, providers.Config{Options: mnt.Config})
		if err != nil {
			return fmt.Errorf("api: preloaded mount %q: %w", mnt.Path, err)
		}
		router.Mount(mnt.Path, provider)
	}
	return nil
}

// Start runs the HTTP server until it is shut down, blocking the caller.
func (s *Server) Start() error {
	s.log.Info("fs9 listening", map[string]interface{}{"addr": s.httpServer.Addr})
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// StartBackground runs Start in a goroutine, logging a fatal-looking error
// if the listener ever exits unexpectedly.
func (s *Server) StartBackground() {
	go func() {
		if err := s.Start(); err != nil {
			s.log.Error("fs9 server exited", map[string]interface{}{"error": err.Error()})
		}
	}()
}

// Shutdown implements §4.12's sequencing: stop accepting connections, allow
// in-flight requests to drain, then close every open handle in every
// namespace and release plugins that have gone idle.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("fs9 shutting down", nil)

	drainCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout())
	defer cancel()

	err := s.httpServer.Shutdown(drainCtx)

	s.namespaces.Shutdown()
	s.namespaces.DrainAll(drainCtx)

	for _, name := range s.plugins.List() {
		if unloadErr := s.plugins.Unload(name); unloadErr != nil {
			s.log.Warn("plugin left loaded at shutdown", map[string]interface{}{
				"plugin": name, "error": unloadErr.Error(),
			})
		}
	}

	return err
}

func newInstanceID() string {
	return fmt.Sprintf("fs9-%d", time.Now().UnixNano())
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondEmpty(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte("{}"))
}

func respondFsError(w http.ResponseWriter, err error) {
	status := fsprovider.HTTPStatus(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if fe, ok := err.(*fsprovider.FsError); ok {
		body, _ := fe.JSON()
		_, _ = w.Write(body)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"code": "INTERNAL", "message": err.Error()})
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func queryPath(r *http.Request) (string, error) {
	path := r.URL.Query().Get("path")
	if path == "" {
		return "", fsprovider.InvalidInput("missing required \"path\" query parameter")
	}
	return path, nil
}
