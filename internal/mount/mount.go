// Package mount implements the per-tenant mount table: a sorted set of
// absolute path prefixes, each bound to a provider instance, resolved by
// longest-prefix match.
package mount

import (
	"sort"
	"strings"
	"sync"

	"github.com/fs9/fs9/pkg/fsprovider"
)

// Entry binds one mount path to the provider instance serving it.
type Entry struct {
	Path     string
	Provider fsprovider.FsProvider
}

// Table is a per-tenant mount table. Paths are normalized (trailing slashes
// trimmed except for the root "/") and kept sorted so resolution can binary
// search instead of scanning, preserving O(log N) lookup in the mount count.
type Table struct {
	mu      sync.RWMutex
	paths   []string // sorted ascending
	entries map[string]fsprovider.FsProvider
}

// New creates an empty mount table.
func New() *Table {
	return &Table{
		entries: make(map[string]fsprovider.FsProvider),
	}
}

func normalize(path string) string {
	if path == "" {
		return "/"
	}
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// Mount binds path to provider, replacing any existing binding at the exact
// same path.
func (t *Table) Mount(path string, provider fsprovider.FsProvider) {
	path = normalize(path)

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[path]; !exists {
		idx := sort.SearchStrings(t.paths, path)
		t.paths = append(t.paths, "")
		copy(t.paths[idx+1:], t.paths[idx:])
		t.paths[idx] = path
	}
	t.entries[path] = provider
}

// Unmount removes the binding at path, if any. It reports whether a mount
// was actually removed.
func (t *Table) Unmount(path string) bool {
	path = normalize(path)

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[path]; !exists {
		return false
	}
	delete(t.entries, path)

	idx := sort.SearchStrings(t.paths, path)
	if idx < len(t.paths) && t.paths[idx] == path {
		t.paths = append(t.paths[:idx], t.paths[idx+1:]...)
	}
	return true
}

// Resolve finds the mount whose path is the longest prefix of the request
// path and returns the provider plus the path rewritten relative to that
// mount (always starting with "/"). Resolve reports ok=false if no mount
// covers the request path.
func (t *Table) Resolve(path string) (provider fsprovider.FsProvider, rewritten string, ok bool) {
	path = normalize(path)

	t.mu.RLock()
	defer t.mu.RUnlock()

	// Binary search for the insertion point of path, then scan backward:
	// the longest-prefix match is the closest mount path at or before path
	// in sort order that is either equal to path or a proper path-segment
	// prefix of it.
	idx := sort.Search(len(t.paths), func(i int) bool { return t.paths[i] > path })
	for i := idx - 1; i >= 0; i-- {
		mp := t.paths[i]
		if mp == path {
			return t.entries[mp], "/", true
		}
		if isPathPrefix(mp, path) {
			rel := path
			if mp != "/" {
				rel = strings.TrimPrefix(path, mp)
			}
			if rel == "" {
				rel = "/"
			}
			return t.entries[mp], rel, true
		}
	}
	return nil, "", false
}

// isPathPrefix reports whether mountPath is a path-segment prefix of path
// (e.g. "/a" is a prefix of "/a/b" but not of "/ab").
func isPathPrefix(mountPath, path string) bool {
	if mountPath == "/" {
		return true
	}
	if !strings.HasPrefix(path, mountPath) {
		return false
	}
	return len(path) == len(mountPath) || path[len(mountPath)] == '/'
}

// List returns a copy of the currently mounted paths, sorted.
func (t *Table) List() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, len(t.paths))
	copy(out, t.paths)
	return out
}

// Has reports whether a mount exists at exactly path.
func (t *Table) Has(path string) bool {
	path = normalize(path)
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[path]
	return ok
}

// Get returns the provider mounted at exactly path (no prefix matching).
func (t *Table) Get(path string) (fsprovider.FsProvider, bool) {
	path = normalize(path)
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.entries[path]
	return p, ok
}
