package api

import (
	"context"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/fs9/fs9/internal/auth"
	"github.com/fs9/fs9/pkg/utils"
)

// routes builds the full mux: §6.1's open endpoints plus the protected
// surface, each wrapped in the backpressure chain described in §4.10 and
// the auth/rate-limit pipeline of §4.7/§4.10.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	if s.cfg.Server.Metrics.Enabled {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	if s.cfg.Server.EnableProfiling {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	mux.HandleFunc("/api/v1/stat", s.protect(s.handleStat, s.cfg.Server.MaxBodySizeBytes))
	mux.HandleFunc("/api/v1/wstat", s.protect(s.handleWstat, s.cfg.Server.MaxBodySizeBytes))
	mux.HandleFunc("/api/v1/statfs", s.protect(s.handleStatfs, s.cfg.Server.MaxBodySizeBytes))
	mux.HandleFunc("/api/v1/open", s.protect(s.handleOpen, s.cfg.Server.MaxBodySizeBytes))
	mux.HandleFunc("/api/v1/read", s.protect(s.handleRead, s.cfg.Server.MaxBodySizeBytes))
	mux.HandleFunc("/api/v1/write", s.protect(s.handleWrite, s.cfg.Server.MaxWriteSizeBytes))
	mux.HandleFunc("/api/v1/close", s.protect(s.handleClose, s.cfg.Server.MaxBodySizeBytes))
	mux.HandleFunc("/api/v1/readdir", s.protect(s.handleReaddir, s.cfg.Server.MaxBodySizeBytes))
	mux.HandleFunc("/api/v1/remove", s.protect(s.handleRemove, s.cfg.Server.MaxBodySizeBytes))
	mux.HandleFunc("/api/v1/capabilities", s.protect(s.handleCapabilities, s.cfg.Server.MaxBodySizeBytes))
	mux.HandleFunc("/api/v1/mounts", s.protect(s.handleMounts, s.cfg.Server.MaxBodySizeBytes))
	mux.HandleFunc("/api/v1/mount", s.protect(auth.RequireRole(s.handleMount, "operator", "admin"), s.cfg.Server.MaxBodySizeBytes))
	mux.HandleFunc("/api/v1/download", s.protect(s.handleDownload, s.cfg.Server.MaxBodySizeBytes))
	mux.HandleFunc("/api/v1/upload", s.protect(s.handleUpload, s.cfg.Server.MaxWriteSizeBytes))
	mux.HandleFunc("/api/v1/plugin/list", s.protect(s.handlePluginList, s.cfg.Server.MaxBodySizeBytes))
	mux.HandleFunc("/api/v1/plugin/load", s.protect(auth.RequireRole(s.handlePluginLoad, "admin"), s.cfg.Server.MaxBodySizeBytes))
	mux.HandleFunc("/api/v1/plugin/unload", s.protect(auth.RequireRole(s.handlePluginUnload, "admin"), s.cfg.Server.MaxBodySizeBytes))
	mux.HandleFunc("/api/v1/auth/revoke", s.protect(auth.RequireRole(s.handleAuthRevoke, "admin"), s.cfg.Server.MaxBodySizeBytes))
	mux.HandleFunc("/api/v1/namespaces", s.protect(auth.RequireRole(s.handleNamespaces, "operator", "admin"), s.cfg.Server.MaxBodySizeBytes))

	return mux
}

// protect composes the backpressure and auth chain around a route handler,
// matching §2's data-flow order: body-size gate, then timeout envelope,
// then concurrency semaphore, then auth, then per-tenant/per-user rate
// limiting, then the handler itself.
func (s *Server) protect(next http.HandlerFunc, maxBody int64) http.HandlerFunc {
	h := s.withRateLimit(next)
	h = s.auth.Middleware(h).ServeHTTP
	h = s.withConcurrency(h)
	h = s.withTimeout(h)
	h = s.withBodyLimit(maxBody, h)
	h = s.withMetrics(h)
	return h
}

// statusRecorder captures the status code a handler writes so the outermost
// middleware can record it after the handler returns, without the handler
// itself needing to know about metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// withMetrics wraps next so every request — success or failure, at any
// layer of the protect chain — is recorded in the §6.5 metric set.
func (s *Server) withMetrics(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		tenant := "unknown"
		if rc, ok := auth.FromContext(r.Context()); ok {
			tenant = rc.Tenant
		}
		s.observeOutcome(r, strconv.Itoa(rec.status), tenant, start)
	}
}

func (s *Server) withBodyLimit(max int64, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > max {
			s.log.WithField("path", r.URL.Path).
				WithField("content_length", utils.FormatBytes(r.ContentLength)).
				WithField("limit", utils.FormatBytes(max)).
				Warn("rejecting request: body exceeds limit")
			respondError(w, http.StatusRequestEntityTooLarge, "request body exceeds limit")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, max)
		next(w, r)
	}
}

func (s *Server) withTimeout(next http.HandlerFunc) http.HandlerFunc {
	timeout := s.cfg.RequestTimeout()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) withConcurrency(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case s.sem <- struct{}{}:
		default:
			respondError(w, http.StatusServiceUnavailable, "server at capacity")
			return
		}
		defer func() { <-s.sem }()
		next(w, r)
	}
}

func (s *Server) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc, ok := auth.FromContext(r.Context())
		if !ok {
			next(w, r)
			return
		}

		if okTenant, retryAfter := s.limiters.Tenant.Reserve(rc.Tenant); !okTenant {
			s.metrics.RecordRateLimitRejection(rc.Tenant)
			w.Header().Set("Retry-After", strconv.FormatFloat(retryAfter, 'f', 0, 64))
			respondError(w, http.StatusTooManyRequests, "tenant rate limit exceeded")
			return
		}
		if okUser, retryAfter := s.limiters.User.Reserve(rc.UserID); !okUser {
			s.metrics.RecordRateLimitRejection(rc.Tenant)
			w.Header().Set("Retry-After", strconv.FormatFloat(retryAfter, 'f', 0, 64))
			respondError(w, http.StatusTooManyRequests, "user rate limit exceeded")
			return
		}

		next(w, r)
	}
}

// observeOutcome records the request in the metrics registry, called at
// the end of every handler.
func (s *Server) observeOutcome(r *http.Request, status string, tenant string, start time.Time) {
	s.metrics.ObserveRequest(r.Method, r.URL.Path, status, tenant, time.Since(start))
}
