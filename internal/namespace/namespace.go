// Package namespace implements per-tenant isolation: each namespace owns
// its own mount table, handle registry, and VFS router, so no operation in
// one tenant can ever observe another tenant's files or handles.
package namespace

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/fs9/fs9/internal/handle"
	"github.com/fs9/fs9/internal/mount"
	"github.com/fs9/fs9/internal/vfs"
	"github.com/fs9/fs9/pkg/fsprovider"
)

// DefaultNamespace is the name every tenant without an explicit namespace
// is assigned to.
const DefaultNamespace = "default"

var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateName reports whether name is a legal namespace name: lowercase
// alphanumeric plus '_'/'-', 1-64 characters, starting with an alphanumeric.
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return fsprovider.InvalidInput("invalid namespace name: " + name)
	}
	return nil
}

// Status describes a namespace's lifecycle state.
type Status string

const (
	StatusActive  Status = "active"
	StatusDeleted Status = "deleted"
)

// Info is the metadata record for a namespace, returned by admin listing
// endpoints.
type Info struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
	Status    Status    `json:"status"`
}

// namespace bundles one tenant's isolated runtime state.
type namespace struct {
	info    Info
	router  *vfs.Router
	mounts  *mount.Table
	handles *handle.Registry
}

// Manager owns the full set of namespaces a server instance hosts. Lookup
// and creation are lock-free on the hot path via sync.Map; creation uses a
// double-checked lock to resolve the race where two requests try to create
// the same new namespace concurrently.
type Manager struct {
	namespaces      sync.Map // name -> *namespace
	createMu        sync.Mutex
	handleTTL       time.Duration
	cleanupInterval time.Duration

	cleanerCtx    context.Context
	cancelCleaner context.CancelFunc
}

// NewManager creates a Manager whose handle registries reclaim handles
// after handleTTL of inactivity, swept every cleanupInterval. Each
// namespace gets its own cleaner goroutine, started when the namespace is
// created and stopped by Shutdown.
func NewManager(handleTTL, cleanupInterval time.Duration) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		handleTTL:       handleTTL,
		cleanupInterval: cleanupInterval,
		cleanerCtx:      ctx,
		cancelCleaner:   cancel,
	}
	m.createLocked(DefaultNamespace, "system")
	return m
}

// Shutdown stops every namespace's handle-cleaner goroutine. It does not
// close handles; call DrainAll for that.
func (m *Manager) Shutdown() {
	m.cancelCleaner()
}

func (m *Manager) createLocked(name, createdBy string) *namespace {
	ns := &namespace{
		info: Info{
			Name:      name,
			CreatedAt: time.Now().UTC(),
			CreatedBy: createdBy,
			Status:    StatusActive,
		},
		mounts:  mount.New(),
		handles: handle.New(m.handleTTL),
	}
	ns.router = vfs.New(ns.mounts, ns.handles)
	m.namespaces.Store(name, ns)
	if m.cleanupInterval > 0 {
		go ns.handles.RunCleaner(m.cleanerCtx, m.cleanupInterval)
	}
	return ns
}

// GetOrCreate returns the router for name, creating the namespace (with
// createdBy recorded as its creator) if it doesn't already exist.
func (m *Manager) GetOrCreate(name, createdBy string) (*vfs.Router, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	if v, ok := m.namespaces.Load(name); ok {
		return v.(*namespace).router, nil
	}

	m.createMu.Lock()
	defer m.createMu.Unlock()

	// Re-check now that we hold the lock: another goroutine may have
	// created it while we were waiting.
	if v, ok := m.namespaces.Load(name); ok {
		return v.(*namespace).router, nil
	}

	ns := m.createLocked(name, createdBy)
	return ns.router, nil
}

// Get returns the router for an existing namespace, or ok=false if it
// doesn't exist.
func (m *Manager) Get(name string) (*vfs.Router, bool) {
	v, ok := m.namespaces.Load(name)
	if !ok {
		return nil, false
	}
	return v.(*namespace).router, true
}

// Exists reports whether a namespace has been created.
func (m *Manager) Exists(name string) bool {
	_, ok := m.namespaces.Load(name)
	return ok
}

// Info returns the metadata record for a namespace.
func (m *Manager) Info(name string) (Info, bool) {
	v, ok := m.namespaces.Load(name)
	if !ok {
		return Info{}, false
	}
	return v.(*namespace).info, true
}

// List returns the metadata for every namespace the manager currently owns.
func (m *Manager) List() []Info {
	var out []Info
	m.namespaces.Range(func(_, v interface{}) bool {
		out = append(out, v.(*namespace).info)
		return true
	})
	return out
}

// DrainAll closes every handle in every namespace, used during graceful
// shutdown so in-flight provider resources are released deterministically.
func (m *Manager) DrainAll(ctx context.Context) {
	m.namespaces.Range(func(_, v interface{}) bool {
		v.(*namespace).handles.DrainAll(ctx)
		return true
	})
}
