// Package handle implements FS9's sharded handle registry: the VFS router
// mints a HandleID for every successful open and owns its lifetime from
// there, including TTL-based expiry of handles a client forgets to close.
package handle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fs9/fs9/pkg/fsprovider"
)

const shardCount = 64

// Entry records everything the registry needs to route a later read, write,
// or close call back to the provider that owns the underlying handle.
type Entry struct {
	Provider     fsprovider.FsProvider
	ProviderH    fsprovider.Handle
	Path         string
	LastAccessed int64 // unix nanos, accessed atomically
}

type shard struct {
	mu      sync.RWMutex
	entries map[fsprovider.Handle]*Entry
}

// Registry is a 64-shard concurrent map from a VFS-minted HandleID to the
// Entry describing which provider handle it represents. Sharding bounds the
// critical section any one goroutine holds, and keeps the TTL sweep from
// blocking unrelated handle traffic.
type Registry struct {
	shards  [shardCount]*shard
	counter atomic.Uint64
	ttl     time.Duration
}

// New creates a Registry whose handles are reclaimed after ttl of inactivity.
func New(ttl time.Duration) *Registry {
	r := &Registry{ttl: ttl}
	for i := range r.shards {
		r.shards[i] = &shard{entries: make(map[fsprovider.Handle]*Entry)}
	}
	return r
}

func (r *Registry) shardFor(h fsprovider.Handle) *shard {
	return r.shards[uint64(h)%shardCount]
}

// Insert mints a new VFS handle ID and registers it.
func (r *Registry) Insert(provider fsprovider.FsProvider, providerHandle fsprovider.Handle, path string) fsprovider.Handle {
	id := fsprovider.Handle(r.counter.Add(1))
	s := r.shardFor(id)

	s.mu.Lock()
	s.entries[id] = &Entry{
		Provider:     provider,
		ProviderH:    providerHandle,
		Path:         path,
		LastAccessed: time.Now().UnixNano(),
	}
	s.mu.Unlock()

	return id
}

// Lookup returns the entry for a handle and touches its last-accessed time.
// ok is false if the handle is unknown (already closed, expired, or never
// minted — the caller should translate this to InvalidHandle).
func (r *Registry) Lookup(h fsprovider.Handle) (Entry, bool) {
	s := r.shardFor(h)

	s.mu.RLock()
	e, ok := s.entries[h]
	s.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}

	atomic.StoreInt64(&e.LastAccessed, time.Now().UnixNano())
	return *e, true
}

// Remove deletes a handle from the registry and returns its entry so the
// caller can invoke the provider's Close exactly once, outside any registry
// lock (a slow provider close must never block other handles' traffic).
func (r *Registry) Remove(h fsprovider.Handle) (Entry, bool) {
	s := r.shardFor(h)

	s.mu.Lock()
	e, ok := s.entries[h]
	if ok {
		delete(s.entries, h)
	}
	s.mu.Unlock()

	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Count returns the number of currently registered handles.
func (r *Registry) Count() int {
	total := 0
	for _, s := range r.shards {
		s.mu.RLock()
		total += len(s.entries)
		s.mu.RUnlock()
	}
	return total
}

// expired is one phase-one candidate: a handle ID plus the entry snapshot,
// collected without holding a provider Close call under the shard lock.
type expired struct {
	id    fsprovider.Handle
	entry Entry
}

// Sweep runs one pass of the three-phase TTL cleanup: (1) scan each shard
// under a read lock to find candidates past ttl, (2) remove each candidate
// from its shard under a write lock (re-checking LastAccessed in case it was
// touched since phase one), (3) call provider.Close for each actually-removed
// handle outside of any registry lock. It returns the number of handles
// reclaimed.
func (r *Registry) Sweep(ctx context.Context) int {
	cutoff := time.Now().Add(-r.ttl).UnixNano()
	var candidates []expired

	for _, s := range r.shards {
		s.mu.RLock()
		for id, e := range s.entries {
			if atomic.LoadInt64(&e.LastAccessed) < cutoff {
				candidates = append(candidates, expired{id: id, entry: *e})
			}
		}
		s.mu.RUnlock()
	}

	var reclaimed []expired
	for _, c := range candidates {
		s := r.shardFor(c.id)
		s.mu.Lock()
		if e, ok := s.entries[c.id]; ok && atomic.LoadInt64(&e.LastAccessed) < cutoff {
			delete(s.entries, c.id)
			reclaimed = append(reclaimed, expired{id: c.id, entry: *e})
		}
		s.mu.Unlock()
	}

	for _, c := range reclaimed {
		_ = c.entry.Provider.Close(ctx, c.entry.ProviderH)
	}

	return len(reclaimed)
}

// RunCleaner runs Sweep on interval until ctx is done.
func (r *Registry) RunCleaner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// DrainAll removes and closes every handle, used during namespace teardown.
func (r *Registry) DrainAll(ctx context.Context) {
	for _, s := range r.shards {
		s.mu.Lock()
		entries := s.entries
		s.entries = make(map[fsprovider.Handle]*Entry)
		s.mu.Unlock()

		for _, e := range entries {
			_ = e.Provider.Close(ctx, e.ProviderH)
		}
	}
}
