// Package vfs implements the per-tenant VFS router: it resolves a request
// path against the tenant's mount table, checks the mounted provider's
// declared capabilities before forwarding, and rewrites every path a
// provider returns back to VFS-absolute form.
package vfs

import (
	"context"
	"strings"

	"github.com/fs9/fs9/internal/handle"
	"github.com/fs9/fs9/internal/mount"
	"github.com/fs9/fs9/pkg/fsprovider"
)

// maxHops bounds proxyfs recursion: a proxy provider forwarding to another
// FS9 instance that itself proxies back must not recurse forever.
const maxHops = 8

// hopKey is the context key carrying the current hop count across a chain
// of router calls triggered by a recursive proxy provider.
type hopKey struct{}

// WithHopCount returns ctx annotated with a hop count, used by proxyfs to
// propagate how many router hops a request has already taken.
func WithHopCount(ctx context.Context, hops int) context.Context {
	return context.WithValue(ctx, hopKey{}, hops)
}

func hopCount(ctx context.Context) int {
	if v, ok := ctx.Value(hopKey{}).(int); ok {
		return v
	}
	return 0
}

// HopCount returns the number of router hops ctx has already taken,
// exported so the HTTP layer can read an inbound X-Fs9-Hops header into
// the context and proxyfs can read it back out to forward to the next hop.
func HopCount(ctx context.Context) int {
	return hopCount(ctx)
}

// Router dispatches the nine-operation contract for one tenant by composing
// its mount table and handle registry. It implements fsprovider.FsProvider
// itself (AllCapabilities) so proxyfs can mount a Router's HTTP surface
// transparently, mirroring the contract's uniform polymorphism.
type Router struct {
	mounts  *mount.Table
	handles *handle.Registry
}

// New creates a Router over the given mount table and handle registry.
func New(mounts *mount.Table, handles *handle.Registry) *Router {
	return &Router{mounts: mounts, handles: handles}
}

func (r *Router) resolve(ctx context.Context, path string) (fsprovider.FsProvider, string, error) {
	if hopCount(ctx) > maxHops {
		return nil, "", fsprovider.TooManyHops()
	}
	provider, rel, ok := r.mounts.Resolve(path)
	if !ok {
		return nil, "", fsprovider.NotFound(path)
	}
	return provider, rel, nil
}

// rewrite replaces a provider-relative path in a FileInfo with the
// VFS-absolute path the caller asked about, since providers only ever see
// paths relative to their own mount point.
func rewrite(info fsprovider.FileInfo, absPath string) fsprovider.FileInfo {
	info.Path = absPath
	return info
}

func (r *Router) Stat(ctx context.Context, path string) (fsprovider.FileInfo, error) {
	p, rel, err := r.resolve(ctx, path)
	if err != nil {
		return fsprovider.FileInfo{}, err
	}
	info, err := p.Stat(ctx, rel)
	if err != nil {
		return fsprovider.FileInfo{}, err
	}
	return rewrite(info, path), nil
}

func (r *Router) Wstat(ctx context.Context, path string, changes fsprovider.StatChanges) error {
	p, rel, err := r.resolve(ctx, path)
	if err != nil {
		return err
	}
	if changes.NewPath != nil && !p.Capabilities().Has(fsprovider.CapRename) {
		return fsprovider.NotImplemented("wstat.new_path")
	}
	if changes.Mode != nil && !p.Capabilities().Has(fsprovider.CapChmod) {
		return fsprovider.NotImplemented("wstat.mode")
	}
	if (changes.UID != nil || changes.GID != nil) && !p.Capabilities().Has(fsprovider.CapChown) {
		return fsprovider.NotImplemented("wstat.owner")
	}
	if (changes.Mtime != nil || changes.Atime != nil) && !p.Capabilities().Has(fsprovider.CapUtime) {
		return fsprovider.NotImplemented("wstat.time")
	}
	if changes.Size != nil && !p.Capabilities().Has(fsprovider.CapTruncate) {
		return fsprovider.NotImplemented("wstat.size")
	}

	// A rename target arrives VFS-absolute; re-resolve it through the mount
	// table the same way the request path itself was resolved, reject the
	// rename if it crosses onto a different provider, and rewrite it to the
	// provider-relative form before forwarding — a bare pass-through would
	// hand the provider a path it can't interpret relative to its own root.
	if changes.NewPath != nil {
		targetProvider, targetRel, ok := r.mounts.Resolve(*changes.NewPath)
		if !ok {
			return fsprovider.NotFound(*changes.NewPath)
		}
		if targetProvider != p {
			return fsprovider.InvalidInput("cannot rename across mount points")
		}
		changes.NewPath = &targetRel
	}

	return p.Wstat(ctx, rel, changes)
}

func (r *Router) Statfs(ctx context.Context, path string) (fsprovider.FsStats, error) {
	p, rel, err := r.resolve(ctx, path)
	if err != nil {
		return fsprovider.FsStats{}, err
	}
	if !p.Capabilities().Has(fsprovider.CapStatfs) {
		return fsprovider.FsStats{}, nil
	}
	return p.Statfs(ctx, rel)
}

func (r *Router) Open(ctx context.Context, path string, flags fsprovider.OpenFlags) (fsprovider.Handle, fsprovider.FileInfo, error) {
	p, rel, err := r.resolve(ctx, path)
	if err != nil {
		return 0, fsprovider.FileInfo{}, err
	}
	caps := p.Capabilities()
	if flags.Write && !caps.Has(fsprovider.CapWrite) {
		return 0, fsprovider.FileInfo{}, fsprovider.NotImplemented("open.write")
	}
	if flags.Create && !caps.Has(fsprovider.CapCreate) {
		return 0, fsprovider.FileInfo{}, fsprovider.NotImplemented("open.create")
	}
	if flags.Truncate && !caps.Has(fsprovider.CapTruncate) {
		return 0, fsprovider.FileInfo{}, fsprovider.NotImplemented("open.truncate")
	}
	if flags.Directory && !caps.Has(fsprovider.CapDirectory) {
		return 0, fsprovider.FileInfo{}, fsprovider.NotImplemented("open.directory")
	}
	if !flags.Directory && (flags.Write || flags.Truncate) {
		if existing, serr := p.Stat(ctx, rel); serr == nil && existing.FileType == fsprovider.Directory {
			return 0, fsprovider.FileInfo{}, fsprovider.IsDirectory(path)
		}
	}

	providerHandle, info, err := p.Open(ctx, rel, flags)
	if err != nil {
		return 0, fsprovider.FileInfo{}, err
	}

	vfsHandle := r.handles.Insert(p, providerHandle, path)
	return vfsHandle, rewrite(info, path), nil
}

func (r *Router) Read(ctx context.Context, h fsprovider.Handle, offset uint64, size uint32) ([]byte, error) {
	e, ok := r.handles.Lookup(h)
	if !ok {
		return nil, fsprovider.InvalidHandle(h)
	}
	return e.Provider.Read(ctx, e.ProviderH, offset, size)
}

func (r *Router) Write(ctx context.Context, h fsprovider.Handle, offset uint64, data []byte) (uint32, error) {
	e, ok := r.handles.Lookup(h)
	if !ok {
		return 0, fsprovider.InvalidHandle(h)
	}
	return e.Provider.Write(ctx, e.ProviderH, offset, data)
}

func (r *Router) Close(ctx context.Context, h fsprovider.Handle) error {
	e, ok := r.handles.Remove(h)
	if !ok {
		return fsprovider.InvalidHandle(h)
	}
	// The registry entry is already gone at this point, so a slow or failing
	// provider close never prevents handle reclamation; the provider's error
	// is still returned to the caller.
	return e.Provider.Close(ctx, e.ProviderH)
}

func (r *Router) Readdir(ctx context.Context, path string) ([]fsprovider.FileInfo, error) {
	p, rel, err := r.resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	if !p.Capabilities().Has(fsprovider.CapDirectory) {
		return nil, fsprovider.NotImplemented("readdir")
	}
	entries, err := p.Readdir(ctx, rel)
	if err != nil {
		return nil, err
	}

	// Providers only know their own mount-relative namespace, so each
	// entry's Path comes back relative to rel, not to the VFS-absolute
	// path the caller asked about — rewrite it the same way Stat/Open do
	// via rewrite(), just per-entry with the child's own name appended.
	base := path
	if base == "/" {
		base = ""
	}
	out := make([]fsprovider.FileInfo, len(entries))
	for i, e := range entries {
		name := e.Path
		if idx := strings.LastIndex(name, "/"); idx >= 0 {
			name = name[idx+1:]
		}
		e.Path = base + "/" + name
		out[i] = e
	}
	return out, nil
}

func (r *Router) Remove(ctx context.Context, path string) error {
	p, rel, err := r.resolve(ctx, path)
	if err != nil {
		return err
	}
	if !p.Capabilities().Has(fsprovider.CapDelete) {
		return fsprovider.NotImplemented("remove")
	}
	return p.Remove(ctx, rel)
}

// Capabilities reports AllCapabilities: the router forwards every operation
// after its own gating, so the real capability gate is the mounted
// provider's own declared set, checked per-call above.
func (r *Router) Capabilities() fsprovider.Capabilities {
	return fsprovider.AllCapabilities
}

// HandleCount returns the number of currently open handles for this
// tenant, used to drive the active_handles gauge (§6.5).
func (r *Router) HandleCount() int {
	return r.handles.Count()
}

// Mount binds a provider at path within this tenant.
func (r *Router) Mount(path string, provider fsprovider.FsProvider) {
	r.mounts.Mount(path, provider)
}

// Unmount removes the mount at path.
func (r *Router) Unmount(path string) bool {
	return r.mounts.Unmount(path)
}

// Mounts lists the currently mounted paths.
func (r *Router) Mounts() []string {
	return r.mounts.List()
}

// MountEntry describes one mount for the GET /api/v1/mounts listing.
type MountEntry struct {
	Path         string                 `json:"path"`
	Capabilities fsprovider.Capabilities `json:"capabilities"`
}

// ListMounts returns every mount this tenant's router currently serves,
// paired with its provider's declared capability set.
func (r *Router) ListMounts() []MountEntry {
	paths := r.mounts.List()
	out := make([]MountEntry, 0, len(paths))
	for _, p := range paths {
		provider, ok := r.mounts.Get(p)
		if !ok {
			continue
		}
		out = append(out, MountEntry{Path: p, Capabilities: provider.Capabilities()})
	}
	return out
}

// CapabilitiesAt resolves path through the mount table and returns the
// capability set of the provider that would serve it.
func (r *Router) CapabilitiesAt(ctx context.Context, path string) (fsprovider.Capabilities, error) {
	p, _, err := r.resolve(ctx, path)
	if err != nil {
		return 0, err
	}
	return p.Capabilities(), nil
}

var _ fsprovider.FsProvider = (*Router)(nil)
