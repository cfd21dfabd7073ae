package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fs9/fs9/internal/auth"
	"github.com/fs9/fs9/internal/vfs"
	"github.com/fs9/fs9/pkg/fsprovider"
	"github.com/fs9/fs9/pkg/providers"
)

// streamChunkSize is the chunk size used for both chunked download/read
// responses and streamed upload/write request bodies (§4.11).
const streamChunkSize = 256 * 1024

// singleResponseThreshold is the largest read served as one response body
// before the handler switches to chunked transfer encoding (§4.11).
const singleResponseThreshold = 1024 * 1024

// vfsRouterHandle bundles a tenant's router with the request-scoped context
// carrying its hop count, so every handler below has one thing to thread
// through instead of re-deriving both each time.
type vfsRouterHandle struct {
	router *vfs.Router
	ctx    context.Context
	tenant string
}

// reqRouter resolves the authenticated request's tenant namespace and
// returns its router, annotating ctx with any inbound proxy hop count so a
// chain of proxyfs-mounted FS9 instances can detect loops (§4.5).
func (s *Server) reqRouter(r *http.Request) (*vfsRouterHandle, error) {
	rc, ok := auth.FromContext(r.Context())
	if !ok {
		return nil, fsprovider.PermissionDenied("no request context")
	}
	router, err := s.namespaces.GetOrCreate(rc.Tenant, rc.UserID)
	if err != nil {
		return nil, err
	}

	hops := 0
	if h := r.Header.Get(vfsHopHeader); h != "" {
		if n, err := strconv.Atoi(h); err == nil {
			hops = n
		}
	}
	ctx := vfs.WithHopCount(r.Context(), hops)
	return &vfsRouterHandle{router: router, ctx: ctx, tenant: rc.Tenant}, nil
}

// vfsHopHeader carries the accumulated proxy hop count into the router,
// matching proxyfs's own outbound header of the same name.
const vfsHopHeader = "X-Fs9-Hops"

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fsprovider.InvalidInput("malformed JSON body: " + err.Error())
	}
	return nil
}

func handleIDFromString(s string) (fsprovider.Handle, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fsprovider.InvalidInput("malformed handle_id: " + s)
	}
	return fsprovider.Handle(n), nil
}

// --- stat / wstat / statfs / readdir / remove / capabilities ---

func (s *Server) handleStat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	path, err := queryPath(r)
	if err != nil {
		respondFsError(w, err)
		return
	}
	rh, err := s.reqRouter(r)
	if err != nil {
		respondFsError(w, err)
		return
	}
	info, err := rh.router.Stat(rh.ctx, path)
	if err != nil {
		respondFsError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

type wstatRequest struct {
	Path    string                 `json:"path"`
	Changes fsprovider.StatChanges `json:"changes"`
}

func (s *Server) handleWstat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req wstatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondFsError(w, err)
		return
	}
	rh, err := s.reqRouter(r)
	if err != nil {
		respondFsError(w, err)
		return
	}
	if err := rh.router.Wstat(rh.ctx, req.Path, req.Changes); err != nil {
		respondFsError(w, err)
		return
	}
	respondEmpty(w, http.StatusOK)
}

func (s *Server) handleStatfs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	path, err := queryPath(r)
	if err != nil {
		respondFsError(w, err)
		return
	}
	rh, err := s.reqRouter(r)
	if err != nil {
		respondFsError(w, err)
		return
	}
	stats, err := rh.router.Statfs(rh.ctx, path)
	if err != nil {
		respondFsError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleReaddir(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	path, err := queryPath(r)
	if err != nil {
		respondFsError(w, err)
		return
	}
	rh, err := s.reqRouter(r)
	if err != nil {
		respondFsError(w, err)
		return
	}
	entries, err := rh.router.Readdir(rh.ctx, path)
	if err != nil {
		respondFsError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		respondError(w, http.StatusMethodNotAllowed, "DELETE required")
		return
	}
	path, err := queryPath(r)
	if err != nil {
		respondFsError(w, err)
		return
	}
	rh, err := s.reqRouter(r)
	if err != nil {
		respondFsError(w, err)
		return
	}
	if err := rh.router.Remove(rh.ctx, path); err != nil {
		respondFsError(w, err)
		return
	}
	respondEmpty(w, http.StatusOK)
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	path, err := queryPath(r)
	if err != nil {
		respondFsError(w, err)
		return
	}
	rh, err := s.reqRouter(r)
	if err != nil {
		respondFsError(w, err)
		return
	}
	caps, err := rh.router.CapabilitiesAt(rh.ctx, path)
	if err != nil {
		respondFsError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"capabilities": caps})
}

// --- open / read / write / close ---

type openRequest struct {
	Path  string               `json:"path"`
	Flags fsprovider.OpenFlags `json:"flags"`
}

type openResponse struct {
	HandleID string              `json:"handle_id"`
	Info     fsprovider.FileInfo `json:"info"`
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req openRequest
	if err := decodeJSON(r, &req); err != nil {
		respondFsError(w, err)
		return
	}
	rh, err := s.reqRouter(r)
	if err != nil {
		respondFsError(w, err)
		return
	}
	handleID, info, err := rh.router.Open(rh.ctx, req.Path, req.Flags)
	if err != nil {
		respondFsError(w, err)
		return
	}
	s.metrics.SetActiveHandles(rh.tenant, rh.router.HandleCount())
	respondJSON(w, http.StatusOK, openResponse{
		HandleID: strconv.FormatUint(uint64(handleID), 10),
		Info:     info,
	})
}

type readRequest struct {
	HandleID string `json:"handle_id"`
	Offset   uint64 `json:"offset"`
	Size     uint32 `json:"size"`
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req readRequest
	if err := decodeJSON(r, &req); err != nil {
		respondFsError(w, err)
		return
	}
	h, err := handleIDFromString(req.HandleID)
	if err != nil {
		respondFsError(w, err)
		return
	}
	rh, err := s.reqRouter(r)
	if err != nil {
		respondFsError(w, err)
		return
	}
	data, err := rh.router.Read(rh.ctx, h, req.Offset, req.Size)
	if err != nil {
		respondFsError(w, err)
		return
	}
	streamBytes(w, r, data)
}

// streamBytes writes data as a single response body when it is small, or
// in streamChunkSize chunks under chunked transfer encoding otherwise,
// aborting early if the client disconnects (§4.11).
func streamBytes(w http.ResponseWriter, r *http.Request, data []byte) {
	w.Header().Set("Content-Type", "application/octet-stream")
	if len(data) <= singleResponseThreshold {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	for off := 0; off < len(data); off += streamChunkSize {
		select {
		case <-r.Context().Done():
			return
		default:
		}
		end := off + streamChunkSize
		if end > len(data) {
			end = len(data)
		}
		if _, err := w.Write(data[off:end]); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	h, err := handleIDFromString(r.URL.Query().Get("handle_id"))
	if err != nil {
		respondFsError(w, err)
		return
	}
	offset, err := strconv.ParseUint(r.URL.Query().Get("offset"), 10, 64)
	if err != nil {
		respondFsError(w, fsprovider.InvalidInput("malformed offset"))
		return
	}
	rh, err := s.reqRouter(r)
	if err != nil {
		respondFsError(w, err)
		return
	}

	var total uint32
	buf := make([]byte, streamChunkSize)
	defer r.Body.Close()
	for {
		n, readErr := r.Body.Read(buf)
		if n > 0 {
			written, writeErr := rh.router.Write(rh.ctx, h, offset, buf[:n])
			if writeErr != nil {
				respondFsError(w, writeErr)
				return
			}
			offset += uint64(written)
			total += written
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			respondFsError(w, fsprovider.Internal(readErr.Error()))
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]uint32{"bytes_written": total})
}

type closeRequest struct {
	HandleID string `json:"handle_id"`
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req closeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondFsError(w, err)
		return
	}
	h, err := handleIDFromString(req.HandleID)
	if err != nil {
		respondFsError(w, err)
		return
	}
	rh, err := s.reqRouter(r)
	if err != nil {
		respondFsError(w, err)
		return
	}
	closeErr := rh.router.Close(rh.ctx, h)
	s.metrics.SetActiveHandles(rh.tenant, rh.router.HandleCount())
	if closeErr != nil {
		respondFsError(w, closeErr)
		return
	}
	respondEmpty(w, http.StatusOK)
}

// --- mounts / mount ---

func (s *Server) handleMounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	rh, err := s.reqRouter(r)
	if err != nil {
		respondFsError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rh.router.ListMounts())
}

type mountRequest struct {
	Path     string                 `json:"path"`
	Provider string                 `json:"provider"`
	Config   map[string]interface{} `json:"config"`
}

func (s *Server) handleMount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req mountRequest
	if err := decodeJSON(r, &req); err != nil {
		respondFsError(w, err)
		return
	}
	if req.Path == "" || req.Provider == "" {
		respondFsError(w, fsprovider.InvalidInput("path and provider are required"))
		return
	}
	rh, err := s.reqRouter(r)
	if err != nil {
		respondFsError(w, err)
		return
	}

	var provider fsprovider.FsProvider
	if s.providers.Has(req.Provider) {
		provider, err = s.providers.Create(req.Provider, providers.Config{Options: req.Config})
	} else if p, pluginErr := s.plugins.Acquire(req.Provider, req.Config); pluginErr == nil {
		provider = p
	} else {
		err = pluginErr
	}
	if err != nil {
		respondFsError(w, err)
		return
	}

	rh.router.Mount(req.Path, provider)
	rc, _ := auth.FromContext(r.Context())
	s.log.Info("mount added", map[string]interface{}{
		"tenant": rh.tenant, "path": req.Path, "provider": req.Provider, "actor": rc.UserID,
	})
	respondEmpty(w, http.StatusOK)
}

// --- download / upload ---

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	path, err := queryPath(r)
	if err != nil {
		respondFsError(w, err)
		return
	}
	rh, err := s.reqRouter(r)
	if err != nil {
		respondFsError(w, err)
		return
	}

	h, info, err := rh.router.Open(rh.ctx, path, fsprovider.OpenFlags{Read: true})
	if err != nil {
		respondFsError(w, err)
		return
	}
	defer rh.router.Close(rh.ctx, h)

	start, end, status, err := parseRange(r.Header.Get("Range"), info.Size)
	if err != nil {
		respondFsError(w, err)
		return
	}

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", "application/octet-stream")
	length := end - start + 1
	w.Header().Set("Content-Length", strconv.FormatUint(length, 10))
	if status == http.StatusPartialContent {
		w.Header().Set("Content-Range", rangeHeader(start, end, info.Size))
	}
	w.WriteHeader(status)

	flusher, _ := w.(http.Flusher)
	offset := start
	for offset <= end {
		select {
		case <-r.Context().Done():
			return
		default:
		}
		chunkSize := uint32(streamChunkSize)
		if remaining := end - offset + 1; remaining < uint64(chunkSize) {
			chunkSize = uint32(remaining)
		}
		data, readErr := rh.router.Read(rh.ctx, h, offset, chunkSize)
		if readErr != nil || len(data) == 0 {
			return
		}
		if _, writeErr := w.Write(data); writeErr != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		offset += uint64(len(data))
	}
}

// parseRange interprets an HTTP Range header against a file of the given
// size, implementing the three forms §4.11 requires: "bytes=a-b",
// "bytes=a-", and "bytes=-n". No Range header yields the full file at 200.
func parseRange(header string, size uint64) (start, end uint64, status int, err error) {
	if header == "" {
		if size == 0 {
			return 0, 0, http.StatusOK, nil
		}
		return 0, size - 1, http.StatusOK, nil
	}
	spec := strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, 0, fsprovider.InvalidInput("malformed Range header")
	}

	if parts[0] == "" {
		n, perr := strconv.ParseUint(parts[1], 10, 64)
		if perr != nil {
			return 0, 0, 0, fsprovider.InvalidInput("malformed Range header")
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, http.StatusPartialContent, nil
	}

	a, perr := strconv.ParseUint(parts[0], 10, 64)
	if perr != nil {
		return 0, 0, 0, fsprovider.InvalidInput("malformed Range header")
	}
	if parts[1] == "" {
		if size == 0 {
			return 0, 0, http.StatusPartialContent, nil
		}
		return a, size - 1, http.StatusPartialContent, nil
	}
	b, perr := strconv.ParseUint(parts[1], 10, 64)
	if perr != nil {
		return 0, 0, 0, fsprovider.InvalidInput("malformed Range header")
	}
	if b >= size {
		b = size - 1
	}
	return a, b, http.StatusPartialContent, nil
}

func rangeHeader(start, end, size uint64) string {
	return "bytes " + strconv.FormatUint(start, 10) + "-" + strconv.FormatUint(end, 10) + "/" + strconv.FormatUint(size, 10)
}

type uploadResponse struct {
	Path         string `json:"path"`
	BytesWritten uint32 `json:"bytes_written"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		respondError(w, http.StatusMethodNotAllowed, "PUT required")
		return
	}
	path, err := queryPath(r)
	if err != nil {
		respondFsError(w, err)
		return
	}
	rh, err := s.reqRouter(r)
	if err != nil {
		respondFsError(w, err)
		return
	}

	h, _, err := rh.router.Open(rh.ctx, path, fsprovider.OpenFlags{Write: true, Create: true, Truncate: true})
	if err != nil {
		respondFsError(w, err)
		return
	}
	defer rh.router.Close(rh.ctx, h)

	var total uint32
	var offset uint64
	buf := make([]byte, streamChunkSize)
	defer r.Body.Close()
	for {
		n, readErr := r.Body.Read(buf)
		if n > 0 {
			written, writeErr := rh.router.Write(rh.ctx, h, offset, buf[:n])
			if writeErr != nil {
				respondFsError(w, writeErr)
				return
			}
			offset += uint64(written)
			total += written
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			respondFsError(w, fsprovider.Internal(readErr.Error()))
			return
		}
	}

	respondJSON(w, http.StatusOK, uploadResponse{Path: path, BytesWritten: total})
}

// --- plugins ---

func (s *Server) handlePluginList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	respondJSON(w, http.StatusOK, s.plugins.List())
}

type pluginLoadRequest struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

func (s *Server) handlePluginLoad(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req pluginLoadRequest
	if err := decodeJSON(r, &req); err != nil {
		respondFsError(w, err)
		return
	}
	if err := s.plugins.Load(req.Name, req.Path); err != nil {
		respondFsError(w, fsprovider.Internal(err.Error()))
		return
	}
	rc, _ := auth.FromContext(r.Context())
	s.log.Info("plugin loaded via API", map[string]interface{}{"name": req.Name, "actor": rc.UserID})
	respondEmpty(w, http.StatusOK)
}

type pluginUnloadRequest struct {
	Name string `json:"name"`
}

func (s *Server) handlePluginUnload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req pluginUnloadRequest
	if err := decodeJSON(r, &req); err != nil {
		respondFsError(w, err)
		return
	}
	if err := s.plugins.Unload(req.Name); err != nil {
		respondFsError(w, err)
		return
	}
	rc, _ := auth.FromContext(r.Context())
	s.log.Info("plugin unloaded via API", map[string]interface{}{"name": req.Name, "actor": rc.UserID})
	respondEmpty(w, http.StatusOK)
}

// --- auth administration ---

type revokeRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleAuthRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req revokeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondFsError(w, err)
		return
	}
	if req.Token == "" {
		respondFsError(w, fsprovider.InvalidInput("token is required"))
		return
	}
	s.auth.Revoke(req.Token)
	rc, _ := auth.FromContext(r.Context())
	s.log.Info("token revoked", map[string]interface{}{"actor": rc.UserID})
	w.WriteHeader(http.StatusNoContent)
}

// --- namespaces (supplemented admin surface) ---

func (s *Server) handleNamespaces(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	respondJSON(w, http.StatusOK, s.namespaces.List())
}

// --- health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	status := "healthy"
	if s.health != nil {
		switch s.health.GetOverallHealth().String() {
		case "degraded":
			status = "degraded"
		case "read-only":
			status = "read-only"
		case "unavailable":
			status = "unavailable"
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      status,
		"instance_id": s.instanceID,
		"uptime_secs": int(time.Since(s.startedAt).Seconds()),
	})
}
