// Package memfs implements a built-in, purely in-memory FsProvider. It is
// registered as the "memfs" kind in the default provider registry and is
// the simplest reference for how every other provider implements the
// nine-operation contract.
package memfs

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fs9/fs9/pkg/fsprovider"
)

type node struct {
	mu       sync.RWMutex
	info     fsprovider.FileInfo
	data     []byte
	children map[string]*node // only populated for directories
}

func newDirNode(path string) *node {
	now := time.Now()
	return &node{
		info: fsprovider.FileInfo{
			Path:     path,
			FileType: fsprovider.Directory,
			Mode:     0755,
			Atime:    now,
			Mtime:    now,
			Ctime:    now,
			Nlink:    2,
		},
		children: make(map[string]*node),
	}
}

// openFile tracks a provider-local handle. FS9's memfs keeps it trivial:
// the handle just remembers which node it points at.
type openFile struct {
	n *node
}

// Provider is an in-memory filesystem tree. The zero value is not usable;
// use New.
type Provider struct {
	root    *node
	mu      sync.RWMutex // guards handles map and the counter
	handles map[fsprovider.Handle]*openFile
	counter atomic.Uint64
}

// New creates an empty in-memory filesystem, initially containing only the
// root directory.
func New() *Provider {
	return &Provider{
		root:    newDirNode("/"),
		handles: make(map[fsprovider.Handle]*openFile),
	}
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// lookup returns the node at path. Intermediate directories are never
// created here — callers that need creation semantics handle it explicitly.
func (p *Provider) lookup(path string) (*node, bool) {
	segs := splitPath(path)
	cur := p.root
	for _, s := range segs {
		cur.mu.RLock()
		next, ok := cur.children[s]
		cur.mu.RUnlock()
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func (p *Provider) lookupParent(path string) (*node, string, bool) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return nil, "", false // root has no parent
	}
	cur := p.root
	for _, s := range segs[:len(segs)-1] {
		cur.mu.RLock()
		next, ok := cur.children[s]
		cur.mu.RUnlock()
		if !ok {
			return nil, "", false
		}
		cur = next
	}
	return cur, segs[len(segs)-1], true
}

func (p *Provider) Stat(ctx context.Context, path string) (fsprovider.FileInfo, error) {
	n, ok := p.lookup(path)
	if !ok {
		return fsprovider.FileInfo{}, fsprovider.NotFound(path)
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	info := n.info
	info.Path = path
	return info, nil
}

func (p *Provider) Wstat(ctx context.Context, path string, changes fsprovider.StatChanges) error {
	n, ok := p.lookup(path)
	if !ok {
		return fsprovider.NotFound(path)
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	if changes.Mode != nil {
		n.info.Mode = *changes.Mode
	}
	if changes.UID != nil {
		n.info.UID = *changes.UID
	}
	if changes.GID != nil {
		n.info.GID = *changes.GID
	}
	if changes.Mtime != nil {
		n.info.Mtime = *changes.Mtime
	}
	if changes.Atime != nil {
		n.info.Atime = *changes.Atime
	}
	if changes.Size != nil {
		if n.info.FileType == fsprovider.Directory {
			return fsprovider.IsDirectory(path)
		}
		n.data = resize(n.data, int(*changes.Size))
		n.info.Size = *changes.Size
	}
	return nil
}

func resize(b []byte, n int) []byte {
	if n <= len(b) {
		return b[:n]
	}
	grown := make([]byte, n)
	copy(grown, b)
	return grown
}

func (p *Provider) Statfs(ctx context.Context, path string) (fsprovider.FsStats, error) {
	return fsprovider.FsStats{}, nil
}

func (p *Provider) Open(ctx context.Context, path string, flags fsprovider.OpenFlags) (fsprovider.Handle, fsprovider.FileInfo, error) {
	n, ok := p.lookup(path)
	if !ok {
		if !flags.Create {
			return 0, fsprovider.FileInfo{}, fsprovider.NotFound(path)
		}
		parent, name, pok := p.lookupParent(path)
		if !pok {
			return 0, fsprovider.FileInfo{}, fsprovider.NotFound(path)
		}
		now := time.Now()
		newNode := &node{
			info: fsprovider.FileInfo{
				Path:     path,
				FileType: fsprovider.Regular,
				Mode:     0644,
				Atime:    now,
				Mtime:    now,
				Ctime:    now,
				Nlink:    1,
			},
		}
		if flags.Directory {
			newNode = newDirNode(path)
		}
		parent.mu.Lock()
		if _, exists := parent.children[name]; exists {
			parent.mu.Unlock()
			return 0, fsprovider.FileInfo{}, fsprovider.AlreadyExists(path)
		}
		parent.children[name] = newNode
		parent.mu.Unlock()
		n = newNode
	} else if flags.Create && flags.Exclusive {
		return 0, fsprovider.FileInfo{}, fsprovider.AlreadyExists(path)
	}

	n.mu.Lock()
	if flags.Directory && n.info.FileType != fsprovider.Directory {
		n.mu.Unlock()
		return 0, fsprovider.FileInfo{}, fsprovider.NotDirectory(path)
	}
	if n.info.FileType == fsprovider.Directory && (flags.Write || flags.Truncate) {
		n.mu.Unlock()
		return 0, fsprovider.FileInfo{}, fsprovider.IsDirectory(path)
	}
	if flags.Truncate {
		n.data = nil
		n.info.Size = 0
	}
	info := n.info
	info.Path = path
	n.mu.Unlock()

	h := fsprovider.Handle(p.counter.Add(1))
	p.mu.Lock()
	p.handles[h] = &openFile{n: n}
	p.mu.Unlock()

	return h, info, nil
}

func (p *Provider) Read(ctx context.Context, h fsprovider.Handle, offset uint64, size uint32) ([]byte, error) {
	p.mu.RLock()
	of, ok := p.handles[h]
	p.mu.RUnlock()
	if !ok {
		return nil, fsprovider.InvalidHandle(h)
	}

	of.n.mu.RLock()
	defer of.n.mu.RUnlock()

	if offset >= uint64(len(of.n.data)) {
		return nil, nil
	}
	end := offset + uint64(size)
	if end > uint64(len(of.n.data)) {
		end = uint64(len(of.n.data))
	}
	out := make([]byte, end-offset)
	copy(out, of.n.data[offset:end])
	return out, nil
}

func (p *Provider) Write(ctx context.Context, h fsprovider.Handle, offset uint64, data []byte) (uint32, error) {
	p.mu.RLock()
	of, ok := p.handles[h]
	p.mu.RUnlock()
	if !ok {
		return 0, fsprovider.InvalidHandle(h)
	}

	of.n.mu.Lock()
	defer of.n.mu.Unlock()

	end := offset + uint64(len(data))
	if end > uint64(len(of.n.data)) {
		of.n.data = resize(of.n.data, int(end))
	}
	copy(of.n.data[offset:end], data)
	if end > uint64(of.n.info.Size) {
		of.n.info.Size = end
	}
	of.n.info.Mtime = time.Now()
	return uint32(len(data)), nil
}

func (p *Provider) Close(ctx context.Context, h fsprovider.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.handles[h]; !ok {
		return fsprovider.InvalidHandle(h)
	}
	delete(p.handles, h)
	return nil
}

func (p *Provider) Readdir(ctx context.Context, path string) ([]fsprovider.FileInfo, error) {
	n, ok := p.lookup(path)
	if !ok {
		return nil, fsprovider.NotFound(path)
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.info.FileType != fsprovider.Directory {
		return nil, fsprovider.NotDirectory(path)
	}

	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)

	base := strings.TrimSuffix(path, "/")
	out := make([]fsprovider.FileInfo, 0, len(names))
	for _, name := range names {
		child := n.children[name]
		child.mu.RLock()
		info := child.info
		info.Path = base + "/" + name
		child.mu.RUnlock()
		out = append(out, info)
	}
	return out, nil
}

func (p *Provider) Remove(ctx context.Context, path string) error {
	parent, name, ok := p.lookupParent(path)
	if !ok {
		return fsprovider.NotFound(path)
	}
	parent.mu.Lock()
	defer parent.mu.Unlock()

	target, exists := parent.children[name]
	if !exists {
		return fsprovider.NotFound(path)
	}
	target.mu.RLock()
	isDir := target.info.FileType == fsprovider.Directory
	hasChildren := len(target.children) > 0
	target.mu.RUnlock()
	if isDir && hasChildren {
		return fsprovider.DirectoryNotEmpty(path)
	}

	delete(parent.children, name)
	return nil
}

// Mkdir creates an empty directory at path. It is not part of the
// fsprovider.FsProvider contract (there, directory creation rides on Open
// with OpenFlags{Create:true, Directory:true}), but memfs exposes it
// directly since it is the simplest way to seed a tree in tests.
func (p *Provider) Mkdir(path string) error {
	parent, name, ok := p.lookupParent(path)
	if !ok {
		return fsprovider.NotFound(path)
	}
	parent.mu.Lock()
	defer parent.mu.Unlock()
	if _, exists := parent.children[name]; exists {
		return fsprovider.AlreadyExists(path)
	}
	parent.children[name] = newDirNode(path)
	return nil
}

func (p *Provider) Capabilities() fsprovider.Capabilities {
	return fsprovider.CapRead | fsprovider.CapWrite | fsprovider.CapCreate |
		fsprovider.CapDelete | fsprovider.CapDirectory | fsprovider.CapTruncate |
		fsprovider.CapChmod | fsprovider.CapChown | fsprovider.CapUtime
}

var _ fsprovider.FsProvider = (*Provider)(nil)
