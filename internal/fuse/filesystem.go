// Package fuse exposes an fsprovider.FsProvider as a local FUSE mount. It
// is grounded on the teacher's internal/fuse filesystem, but where that
// implementation drove an S3 Backend/Cache/WriteBuffer trio directly, this
// one drives any FS9 provider through the same nine-operation contract the
// HTTP API uses — including a proxyfs.Provider pointed at a remote FS9
// instance, so a namespace served over HTTP can be mounted locally without
// a second storage-specific code path.
package fuse

import (
	"context"
	"log"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/fs9/fs9/pkg/fsprovider"
)

// Config controls the mount's behavior and default attribute values. Unlike
// the teacher's Config it carries no cache/read-ahead tuning: caching, if
// any, belongs to the fsprovider implementation being mounted (proxyfs
// forwards every call, memfs and localfs already hold their data locally).
type Config struct {
	MountPoint   string
	ReadOnly     bool
	AllowOther   bool
	DefaultUID   uint32
	DefaultGID   uint32
	FileMode     uint32
	DirMode      uint32
	AttrTimeout  time.Duration
	EntryTimeout time.Duration
}

// DefaultConfig returns sane attribute defaults; MountPoint is left empty
// for the caller to fill in.
func DefaultConfig() *Config {
	return &Config{
		FileMode:     0644,
		DirMode:      0755,
		AttrTimeout:  time.Second,
		EntryTimeout: time.Second,
	}
}

// Stats accumulates operation counters for the mounted filesystem's
// lifetime, mirroring the subset of the teacher's Stats that does not
// depend on a local cache.
type Stats struct {
	mu           sync.RWMutex
	Lookups      int64
	Opens        int64
	Reads        int64
	Writes       int64
	Creates      int64
	Removes      int64
	Errors       int64
	BytesRead    int64
	BytesWritten int64
}

func (s *Stats) snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Lookups: s.Lookups, Opens: s.Opens, Reads: s.Reads, Writes: s.Writes,
		Creates: s.Creates, Removes: s.Removes, Errors: s.Errors,
		BytesRead: s.BytesRead, BytesWritten: s.BytesWritten,
	}
}

// FileSystem adapts an fsprovider.FsProvider to go-fuse's node API.
type FileSystem struct {
	provider fsprovider.FsProvider
	config   *Config
	stats    *Stats
}

// NewFileSystem builds a FileSystem over provider. config may be nil, in
// which case DefaultConfig is used.
func NewFileSystem(provider fsprovider.FsProvider, config *Config) *FileSystem {
	if config == nil {
		config = DefaultConfig()
	}
	return &FileSystem{provider: provider, config: config, stats: &Stats{}}
}

// Root returns the root inode of the mount.
func (fsys *FileSystem) Root() fs.InodeEmbedder {
	return &Node{fsys: fsys, path: "/"}
}

// GetStats returns a snapshot of the accumulated operation counters.
func (fsys *FileSystem) GetStats() Stats {
	return fsys.stats.snapshot()
}

func (fsys *FileSystem) incr(field *int64, delta int64) {
	fsys.stats.mu.Lock()
	*field += delta
	fsys.stats.mu.Unlock()
}

// Node represents one path in the mounted namespace. Unlike the teacher's
// split between DirectoryNode and FileNode, a single node type covers both:
// fsprovider.Stat already tells us a path's FileType on every Lookup, so
// there is no S3-style "probe by listing" fallback to special-case.
type Node struct {
	fs.Inode
	fsys *FileSystem
	path string
}

func joinPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

func attrFromInfo(cfg *Config, info fsprovider.FileInfo, out *fuse.Attr) {
	out.Mode = uint32(info.Mode)
	switch info.FileType {
	case fsprovider.Directory:
		out.Mode |= fuse.S_IFDIR
	case fsprovider.Symlink:
		out.Mode |= fuse.S_IFLNK
	default:
		out.Mode |= fuse.S_IFREG
	}
	out.Size = info.Size
	out.Uid = cfg.DefaultUID
	out.Gid = cfg.DefaultGID
	out.Nlink = info.Nlink
	if out.Nlink == 0 {
		out.Nlink = 1
	}
	out.Mtime = uint64(info.Mtime.Unix())
	out.Atime = uint64(info.Atime.Unix())
	out.Ctime = uint64(info.Ctime.Unix())
}

func errnoFromErr(err error) syscall.Errno {
	fsErr, ok := err.(*fsprovider.FsError)
	if !ok {
		return syscall.EIO
	}
	switch fsErr.Code {
	case fsprovider.CodeNotFound:
		return syscall.ENOENT
	case fsprovider.CodeAlreadyExists:
		return syscall.EEXIST
	case fsprovider.CodePermissionDenied:
		return syscall.EACCES
	case fsprovider.CodeIsDirectory:
		return syscall.EISDIR
	case fsprovider.CodeNotDirectory:
		return syscall.ENOTDIR
	case fsprovider.CodeDirectoryNotEmpty:
		return syscall.ENOTEMPTY
	case fsprovider.CodeInvalidHandle, fsprovider.CodeInvalidInput:
		return syscall.EINVAL
	case fsprovider.CodeNotImplemented:
		return syscall.ENOSYS
	default:
		return syscall.EIO
	}
}

// Lookup resolves a child path by stat'ing it through the provider.
func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.fsys.incr(&n.fsys.stats.Lookups, 1)

	childPath := joinPath(n.path, name)
	info, err := n.fsys.provider.Stat(ctx, childPath)
	if err != nil {
		n.fsys.incr(&n.fsys.stats.Errors, 1)
		return nil, errnoFromErr(err)
	}

	attrFromInfo(n.fsys.config, info, &out.Attr)
	out.SetEntryTimeout(n.fsys.config.EntryTimeout)
	out.SetAttrTimeout(n.fsys.config.AttrTimeout)

	mode := uint32(fuse.S_IFREG)
	if info.FileType == fsprovider.Directory {
		mode = fuse.S_IFDIR
	}
	child := &Node{fsys: n.fsys, path: childPath}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: mode}), 0
}

// Getattr stats the node's own path.
func (n *Node) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	info, err := n.fsys.provider.Stat(ctx, n.path)
	if err != nil {
		return errnoFromErr(err)
	}
	attrFromInfo(n.fsys.config, info, &out.Attr)
	out.SetTimeout(n.fsys.config.AttrTimeout)
	return 0
}

// Setattr maps truncate/chmod/chown/utime requests onto a single wstat
// call, since StatChanges already models "change any subset of these
// fields" directly.
func (n *Node) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if n.fsys.config.ReadOnly {
		return syscall.EROFS
	}

	var changes fsprovider.StatChanges
	if size, ok := in.GetSize(); ok {
		changes.Size = &size
	}
	if mode, ok := in.GetMode(); ok {
		m := uint16(mode)
		changes.Mode = &m
	}
	if uid, ok := in.GetUID(); ok {
		changes.UID = &uid
	}
	if gid, ok := in.GetGID(); ok {
		changes.GID = &gid
	}
	if mtime, ok := in.GetMTime(); ok {
		changes.Mtime = &mtime
	}
	if atime, ok := in.GetATime(); ok {
		changes.Atime = &atime
	}

	if err := n.fsys.provider.Wstat(ctx, n.path, changes); err != nil {
		return errnoFromErr(err)
	}
	return n.Getattr(ctx, fh, out)
}

// Readdir lists the node's children via the provider's readdir op.
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := n.fsys.provider.Readdir(ctx, n.path)
	if err != nil {
		n.fsys.incr(&n.fsys.stats.Errors, 1)
		log.Printf("fs9fuse: readdir %s: %v", n.path, err)
		return nil, errnoFromErr(err)
	}

	out := make([]fuse.DirEntry, 0, len(entries))
	for _, info := range entries {
		name := info.Path
		if idx := strings.LastIndex(name, "/"); idx >= 0 {
			name = name[idx+1:]
		}
		if name == "" {
			continue
		}
		mode := uint32(fuse.S_IFREG)
		if info.FileType == fsprovider.Directory {
			mode = fuse.S_IFDIR
		}
		out = append(out, fuse.DirEntry{Name: name, Mode: mode})
	}
	return fs.NewListDirStream(out), 0
}

// Mkdir creates a directory through the provider's Open with Create
// together with Directory, immediately closed.
func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.fsys.config.ReadOnly {
		return nil, syscall.EROFS
	}

	childPath := joinPath(n.path, name)
	h, info, err := n.fsys.provider.Open(ctx, childPath, fsprovider.OpenFlags{Create: true, Directory: true})
	if err != nil {
		n.fsys.incr(&n.fsys.stats.Errors, 1)
		return nil, errnoFromErr(err)
	}
	_ = n.fsys.provider.Close(ctx, h)

	attrFromInfo(n.fsys.config, info, &out.Attr)
	child := &Node{fsys: n.fsys, path: childPath}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFDIR}), 0
}

// Create creates and opens a regular file in one step.
func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	if n.fsys.config.ReadOnly {
		return nil, nil, 0, syscall.EROFS
	}

	childPath := joinPath(n.path, name)
	h, info, err := n.fsys.provider.Open(ctx, childPath, fsprovider.OpenFlags{
		Read: true, Write: true, Create: true, Exclusive: flags&uint32(syscall.O_EXCL) != 0,
	})
	if err != nil {
		n.fsys.incr(&n.fsys.stats.Errors, 1)
		return nil, nil, 0, errnoFromErr(err)
	}
	n.fsys.incr(&n.fsys.stats.Creates, 1)

	attrFromInfo(n.fsys.config, info, &out.Attr)
	child := &Node{fsys: n.fsys, path: childPath}
	inode := n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFREG})
	return inode, &Handle{fsys: n.fsys, handle: h, path: childPath}, 0, 0
}

// Open opens the node's own path for read and/or write.
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	n.fsys.incr(&n.fsys.stats.Opens, 1)

	write := flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0
	if n.fsys.config.ReadOnly && write {
		return nil, 0, syscall.EROFS
	}

	h, _, err := n.fsys.provider.Open(ctx, n.path, fsprovider.OpenFlags{
		Read:     flags&syscall.O_WRONLY == 0,
		Write:    write,
		Truncate: flags&syscall.O_TRUNC != 0,
		Append:   flags&syscall.O_APPEND != 0,
	})
	if err != nil {
		n.fsys.incr(&n.fsys.stats.Errors, 1)
		return nil, 0, errnoFromErr(err)
	}
	return &Handle{fsys: n.fsys, handle: h, path: n.path}, 0, 0
}

// Unlink removes a file; Rmdir removes a directory. Both map to the same
// provider.Remove call, which itself returns DirectoryNotEmpty when asked
// to remove a non-empty directory.
func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	return n.remove(ctx, name)
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.remove(ctx, name)
}

func (n *Node) remove(ctx context.Context, name string) syscall.Errno {
	if n.fsys.config.ReadOnly {
		return syscall.EROFS
	}
	childPath := joinPath(n.path, name)
	if err := n.fsys.provider.Remove(ctx, childPath); err != nil {
		n.fsys.incr(&n.fsys.stats.Errors, 1)
		return errnoFromErr(err)
	}
	n.fsys.incr(&n.fsys.stats.Removes, 1)
	return 0
}

// Rename forwards to Wstat with a NewPath change, which the router rejects
// up front with NotImplemented for any provider lacking CapRename.
func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if n.fsys.config.ReadOnly {
		return syscall.EROFS
	}
	parent, ok := newParent.(*Node)
	if !ok {
		return syscall.EINVAL
	}
	oldPath := joinPath(n.path, name)
	newPath := joinPath(parent.path, newName)
	if err := n.fsys.provider.Wstat(ctx, oldPath, fsprovider.StatChanges{NewPath: &newPath}); err != nil {
		return errnoFromErr(err)
	}
	return 0
}

var (
	_ fs.NodeLookuper  = (*Node)(nil)
	_ fs.NodeGetattrer = (*Node)(nil)
	_ fs.NodeSetattrer = (*Node)(nil)
	_ fs.NodeReaddirer = (*Node)(nil)
	_ fs.NodeMkdirer   = (*Node)(nil)
	_ fs.NodeCreater   = (*Node)(nil)
	_ fs.NodeOpener    = (*Node)(nil)
	_ fs.NodeUnlinker  = (*Node)(nil)
	_ fs.NodeRmdirer   = (*Node)(nil)
	_ fs.NodeRenamer   = (*Node)(nil)
)

// Handle represents an open provider-side handle, keyed by the opaque
// fsprovider.Handle the backend issued.
type Handle struct {
	fsys   *FileSystem
	handle fsprovider.Handle
	path   string
}

// Read serves a read at the given offset straight from the provider.
func (h *Handle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h.fsys.incr(&h.fsys.stats.Reads, 1)

	data, err := h.fsys.provider.Read(ctx, h.handle, uint64(off), uint32(len(dest)))
	if err != nil {
		h.fsys.incr(&h.fsys.stats.Errors, 1)
		return nil, errnoFromErr(err)
	}
	h.fsys.incr(&h.fsys.stats.BytesRead, int64(len(data)))
	return fuse.ReadResultData(data), 0
}

// Write forwards a write at the given offset straight to the provider.
func (h *Handle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	if h.fsys.config.ReadOnly {
		return 0, syscall.EROFS
	}
	h.fsys.incr(&h.fsys.stats.Writes, 1)

	n, err := h.fsys.provider.Write(ctx, h.handle, uint64(off), data)
	if err != nil {
		h.fsys.incr(&h.fsys.stats.Errors, 1)
		return 0, errnoFromErr(err)
	}
	h.fsys.incr(&h.fsys.stats.BytesWritten, int64(n))
	return n, 0
}

// Release closes the provider-side handle. The provider owns any
// buffering or flush semantics (s3fs, for instance, flushes on Close).
func (h *Handle) Release(ctx context.Context) syscall.Errno {
	if err := h.fsys.provider.Close(ctx, h.handle); err != nil {
		return errnoFromErr(err)
	}
	return 0
}

var (
	_ fs.FileReader    = (*Handle)(nil)
	_ fs.FileWriter    = (*Handle)(nil)
	_ fs.FileReleaser  = (*Handle)(nil)
)
