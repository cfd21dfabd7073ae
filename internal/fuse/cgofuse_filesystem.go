//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"
	"strings"
	"sync"

	"github.com/winfsp/cgofuse/fuse"

	"github.com/fs9/fs9/pkg/fsprovider"
)

// CgoFuseFS adapts an fsprovider.FsProvider to cgofuse's FileSystemInterface,
// the winfsp-backed path needed to mount on Windows (hanwen/go-fuse, used by
// the default FileSystem in filesystem.go, only drives FUSE on Linux/macOS).
type CgoFuseFS struct {
	fuse.FileSystemBase

	provider fsprovider.FsProvider
	config   *Config
	stats    *Stats

	mu         sync.Mutex
	handles    map[uint64]fsprovider.Handle
	nextHandle uint64
}

// NewCgoFuseFS builds a cgofuse filesystem over provider.
func NewCgoFuseFS(provider fsprovider.FsProvider, config *Config) *CgoFuseFS {
	if config == nil {
		config = DefaultConfig()
	}
	return &CgoFuseFS{
		provider:   provider,
		config:     config,
		stats:      &Stats{},
		handles:    make(map[uint64]fsprovider.Handle),
		nextHandle: 1,
	}
}

// cgofuseErrno turns an fsprovider error into the negative errno cgofuse
// expects as a return value.
func cgofuseErrno(err error) int {
	return -int(errnoFromErr(err))
}

func (cfs *CgoFuseFS) trimPath(path string) string {
	if path == "/" {
		return "/"
	}
	return strings.TrimSuffix(path, "/")
}

// Getattr stats the path through the provider and fills stat directly,
// mirroring attrFromInfo's field mapping for the hanwen/go-fuse path.
func (cfs *CgoFuseFS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	info, err := cfs.provider.Stat(context.Background(), cfs.trimPath(path))
	if err != nil {
		cfs.stats.mu.Lock()
		cfs.stats.Errors++
		cfs.stats.mu.Unlock()
		return cgofuseErrno(err)
	}

	switch info.FileType {
	case fsprovider.Directory:
		stat.Mode = fuse.S_IFDIR | uint32(info.Mode)
		stat.Nlink = 2
	case fsprovider.Symlink:
		stat.Mode = fuse.S_IFLNK | uint32(info.Mode)
		stat.Nlink = 1
	default:
		stat.Mode = fuse.S_IFREG | uint32(info.Mode)
		stat.Nlink = 1
	}
	stat.Size = int64(info.Size)
	stat.Uid = cfs.config.DefaultUID
	stat.Gid = cfs.config.DefaultGID
	stat.Mtim.Sec = info.Mtime.Unix()
	stat.Atim.Sec = info.Atime.Unix()
	stat.Ctim.Sec = info.Ctime.Unix()
	return 0
}

// Open opens an existing path for read/write through the provider.
func (cfs *CgoFuseFS) Open(path string, flags int) (int, uint64) {
	write := flags&(fuse.O_WRONLY|fuse.O_RDWR) != 0
	if cfs.config.ReadOnly && write {
		return -int(fuse.EROFS), 0
	}

	h, _, err := cfs.provider.Open(context.Background(), cfs.trimPath(path), fsprovider.OpenFlags{
		Read:     flags&fuse.O_WRONLY == 0,
		Write:    write,
		Truncate: flags&fuse.O_TRUNC != 0,
		Append:   flags&fuse.O_APPEND != 0,
	})
	if err != nil {
		return cgofuseErrno(err), 0
	}

	cfs.mu.Lock()
	handle := cfs.nextHandle
	cfs.nextHandle++
	cfs.handles[handle] = h
	cfs.mu.Unlock()

	cfs.stats.mu.Lock()
	cfs.stats.Opens++
	cfs.stats.mu.Unlock()
	return 0, handle
}

// Create creates then opens a regular file.
func (cfs *CgoFuseFS) Create(path string, flags int, mode uint32) (int, uint64) {
	if cfs.config.ReadOnly {
		return -int(fuse.EROFS), 0
	}

	h, _, err := cfs.provider.Open(context.Background(), cfs.trimPath(path), fsprovider.OpenFlags{
		Read: true, Write: true, Create: true,
	})
	if err != nil {
		return cgofuseErrno(err), 0
	}

	cfs.mu.Lock()
	handle := cfs.nextHandle
	cfs.nextHandle++
	cfs.handles[handle] = h
	cfs.mu.Unlock()

	cfs.stats.mu.Lock()
	cfs.stats.Creates++
	cfs.stats.mu.Unlock()
	return 0, handle
}

func (cfs *CgoFuseFS) handleFor(fh uint64) (fsprovider.Handle, bool) {
	cfs.mu.Lock()
	defer cfs.mu.Unlock()
	h, ok := cfs.handles[fh]
	return h, ok
}

// Read reads at the given offset straight from the provider.
func (cfs *CgoFuseFS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	h, ok := cfs.handleFor(fh)
	if !ok {
		return -int(fuse.EBADF)
	}

	data, err := cfs.provider.Read(context.Background(), h, uint64(ofst), uint32(len(buff)))
	if err != nil {
		return cgofuseErrno(err)
	}
	copy(buff, data)

	cfs.stats.mu.Lock()
	cfs.stats.Reads++
	cfs.stats.BytesRead += int64(len(data))
	cfs.stats.mu.Unlock()
	return len(data)
}

// Write writes at the given offset straight to the provider.
func (cfs *CgoFuseFS) Write(path string, buff []byte, ofst int64, fh uint64) int {
	if cfs.config.ReadOnly {
		return -int(fuse.EROFS)
	}
	h, ok := cfs.handleFor(fh)
	if !ok {
		return -int(fuse.EBADF)
	}

	n, err := cfs.provider.Write(context.Background(), h, uint64(ofst), buff)
	if err != nil {
		return cgofuseErrno(err)
	}

	cfs.stats.mu.Lock()
	cfs.stats.Writes++
	cfs.stats.BytesWritten += int64(n)
	cfs.stats.mu.Unlock()
	return int(n)
}

// Release closes the provider-side handle.
func (cfs *CgoFuseFS) Release(path string, fh uint64) int {
	h, ok := cfs.handleFor(fh)
	if !ok {
		return -int(fuse.EBADF)
	}

	cfs.mu.Lock()
	delete(cfs.handles, fh)
	cfs.mu.Unlock()

	if err := cfs.provider.Close(context.Background(), h); err != nil {
		return cgofuseErrno(err)
	}
	return 0
}

// Mkdir creates a directory via Open(Create, Directory) immediately closed,
// the same pattern Node.Mkdir uses on the hanwen/go-fuse path.
func (cfs *CgoFuseFS) Mkdir(path string, mode uint32) int {
	if cfs.config.ReadOnly {
		return -int(fuse.EROFS)
	}
	ctx := context.Background()
	h, _, err := cfs.provider.Open(ctx, cfs.trimPath(path), fsprovider.OpenFlags{Create: true, Directory: true})
	if err != nil {
		return cgofuseErrno(err)
	}
	_ = cfs.provider.Close(ctx, h)
	return 0
}

// Unlink and Rmdir both forward to provider.Remove, which itself rejects a
// non-empty directory with DirectoryNotEmpty.
func (cfs *CgoFuseFS) Unlink(path string) int {
	return cfs.remove(path)
}

func (cfs *CgoFuseFS) Rmdir(path string) int {
	return cfs.remove(path)
}

func (cfs *CgoFuseFS) remove(path string) int {
	if cfs.config.ReadOnly {
		return -int(fuse.EROFS)
	}
	if err := cfs.provider.Remove(context.Background(), cfs.trimPath(path)); err != nil {
		return cgofuseErrno(err)
	}
	return 0
}

// Rename maps onto Wstat with a NewPath change.
func (cfs *CgoFuseFS) Rename(oldpath string, newpath string) int {
	if cfs.config.ReadOnly {
		return -int(fuse.EROFS)
	}
	np := cfs.trimPath(newpath)
	if err := cfs.provider.Wstat(context.Background(), cfs.trimPath(oldpath), fsprovider.StatChanges{NewPath: &np}); err != nil {
		return cgofuseErrno(err)
	}
	return 0
}

// Truncate maps onto Wstat with a Size change.
func (cfs *CgoFuseFS) Truncate(path string, size int64, fh uint64) int {
	if cfs.config.ReadOnly {
		return -int(fuse.EROFS)
	}
	usize := uint64(size)
	if err := cfs.provider.Wstat(context.Background(), cfs.trimPath(path), fsprovider.StatChanges{Size: &usize}); err != nil {
		return cgofuseErrno(err)
	}
	return 0
}

// Readdir lists the path's children via the provider's readdir op.
func (cfs *CgoFuseFS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	entries, err := cfs.provider.Readdir(context.Background(), cfs.trimPath(path))
	if err != nil {
		cfs.stats.mu.Lock()
		cfs.stats.Errors++
		cfs.stats.mu.Unlock()
		return cgofuseErrno(err)
	}

	fill(".", nil, 0)
	fill("..", nil, 0)

	for _, info := range entries {
		name := info.Path
		if idx := strings.LastIndex(name, "/"); idx >= 0 {
			name = name[idx+1:]
		}
		if name == "" {
			continue
		}
		stat := &fuse.Stat_t{}
		if info.FileType == fsprovider.Directory {
			stat.Mode = fuse.S_IFDIR | 0755
			stat.Nlink = 2
		} else {
			stat.Mode = fuse.S_IFREG | uint32(info.Mode)
			stat.Size = int64(info.Size)
			stat.Nlink = 1
		}
		if !fill(name, stat, 0) {
			break
		}
	}
	return 0
}

func (cfs *CgoFuseFS) GetStats() Stats {
	return cfs.stats.snapshot()
}

var _ fuse.FileSystemInterface = (*CgoFuseFS)(nil)
