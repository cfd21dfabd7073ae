// Package proxyfs implements an FsProvider that forwards every operation to
// another FS9 instance's HTTP API over the wire, letting one FS9 server
// mount a remote FS9 server's namespace as if it were a local backend.
package proxyfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/fs9/fs9/internal/vfs"
	"github.com/fs9/fs9/pkg/fsprovider"
)

// HopHeader carries the accumulated router hop count across a chain of
// proxied FS9 instances, so a loop of proxies pointing back at each other
// is caught by the remote's own hop-limit check instead of recursing
// forever.
const HopHeader = "X-Fs9-Hops"

// Config configures a remote FS9 endpoint to proxy to.
type Config struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// Provider proxies the nine-operation contract to a remote FS9 instance.
// The remote server applies its own hop-limit check; this provider merely
// forwards the X-Fs9-Hops header so loops are detected there too.
type Provider struct {
	cfg Config
}

// New creates a proxy provider targeting cfg.BaseURL.
func New(cfg Config) *Provider {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	return &Provider{cfg: cfg}
}

func (p *Provider) do(ctx context.Context, method, path string, body io.Reader, query string) (*http.Response, error) {
	url := p.cfg.BaseURL + path
	if query != "" {
		url += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fsprovider.Internal(err.Error())
	}
	if p.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.Token)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HopHeader, strconv.Itoa(vfs.HopCount(ctx)+1))

	resp, err := p.cfg.Client.Do(req)
	if err != nil {
		return nil, fsprovider.Internal("proxy request failed: " + err.Error())
	}
	return resp, nil
}

func errFromStatus(status int, path string) error {
	switch status {
	case http.StatusNotFound:
		return fsprovider.NotFound(path)
	case http.StatusConflict:
		return fsprovider.AlreadyExists(path)
	case http.StatusForbidden:
		return fsprovider.PermissionDenied(path)
	case http.StatusLoopDetected, 508:
		return fsprovider.TooManyHops()
	case http.StatusNotImplemented:
		return fsprovider.NotImplemented(path)
	default:
		return fsprovider.Internal(fmt.Sprintf("remote returned status %d for %s", status, path))
	}
}

func (p *Provider) Stat(ctx context.Context, path string) (fsprovider.FileInfo, error) {
	resp, err := p.do(ctx, http.MethodGet, "/stat", nil, "path="+path)
	if err != nil {
		return fsprovider.FileInfo{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fsprovider.FileInfo{}, errFromStatus(resp.StatusCode, path)
	}
	var info fsprovider.FileInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return fsprovider.FileInfo{}, fsprovider.Internal(err.Error())
	}
	return info, nil
}

func (p *Provider) Wstat(ctx context.Context, path string, changes fsprovider.StatChanges) error {
	payload, _ := json.Marshal(changes)
	resp, err := p.do(ctx, http.MethodPost, "/wstat", bytes.NewReader(payload), "path="+path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return errFromStatus(resp.StatusCode, path)
	}
	return nil
}

func (p *Provider) Statfs(ctx context.Context, path string) (fsprovider.FsStats, error) {
	resp, err := p.do(ctx, http.MethodGet, "/statfs", nil, "path="+path)
	if err != nil {
		return fsprovider.FsStats{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fsprovider.FsStats{}, errFromStatus(resp.StatusCode, path)
	}
	var stats fsprovider.FsStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fsprovider.FsStats{}, fsprovider.Internal(err.Error())
	}
	return stats, nil
}

type openResponse struct {
	HandleID uint64              `json:"handle_id"`
	Info     fsprovider.FileInfo `json:"info"`
}

func (p *Provider) Open(ctx context.Context, path string, flags fsprovider.OpenFlags) (fsprovider.Handle, fsprovider.FileInfo, error) {
	payload, _ := json.Marshal(map[string]interface{}{"path": path, "flags": flags})
	resp, err := p.do(ctx, http.MethodPost, "/open", bytes.NewReader(payload), "")
	if err != nil {
		return 0, fsprovider.FileInfo{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fsprovider.FileInfo{}, errFromStatus(resp.StatusCode, path)
	}
	var out openResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fsprovider.FileInfo{}, fsprovider.Internal(err.Error())
	}
	return fsprovider.Handle(out.HandleID), out.Info, nil
}

func (p *Provider) Read(ctx context.Context, h fsprovider.Handle, offset uint64, size uint32) ([]byte, error) {
	q := "handle_id=" + strconv.FormatUint(uint64(h), 10) +
		"&offset=" + strconv.FormatUint(offset, 10) +
		"&size=" + strconv.FormatUint(uint64(size), 10)
	resp, err := p.do(ctx, http.MethodGet, "/read", nil, q)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errFromStatus(resp.StatusCode, "")
	}
	return io.ReadAll(resp.Body)
}

func (p *Provider) Write(ctx context.Context, h fsprovider.Handle, offset uint64, data []byte) (uint32, error) {
	q := "handle_id=" + strconv.FormatUint(uint64(h), 10) +
		"&offset=" + strconv.FormatUint(offset, 10)
	resp, err := p.do(ctx, http.MethodPost, "/write", bytes.NewReader(data), q)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, errFromStatus(resp.StatusCode, "")
	}
	var out struct {
		BytesWritten uint32 `json:"bytes_written"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fsprovider.Internal(err.Error())
	}
	return out.BytesWritten, nil
}

func (p *Provider) Close(ctx context.Context, h fsprovider.Handle) error {
	payload, _ := json.Marshal(map[string]uint64{"handle_id": uint64(h)})
	resp, err := p.do(ctx, http.MethodPost, "/close", bytes.NewReader(payload), "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return errFromStatus(resp.StatusCode, "")
	}
	return nil
}

func (p *Provider) Readdir(ctx context.Context, path string) ([]fsprovider.FileInfo, error) {
	resp, err := p.do(ctx, http.MethodGet, "/readdir", nil, "path="+path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errFromStatus(resp.StatusCode, path)
	}
	var entries []fsprovider.FileInfo
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fsprovider.Internal(err.Error())
	}
	return entries, nil
}

func (p *Provider) Remove(ctx context.Context, path string) error {
	resp, err := p.do(ctx, http.MethodPost, "/remove", nil, "path="+path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return errFromStatus(resp.StatusCode, path)
	}
	return nil
}

// Capabilities is conservative: a proxy declares everything so the remote
// instance's own capability gating (not a second local guess) is what
// decides whether an operation is supported.
func (p *Provider) Capabilities() fsprovider.Capabilities {
	return fsprovider.AllCapabilities
}

var _ fsprovider.FsProvider = (*Provider)(nil)
