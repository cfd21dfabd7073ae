// Package localfs implements an FsProvider backed by a directory on the
// local filesystem, mapping VFS-relative paths onto real files underneath a
// configured root while refusing any path that would escape it.
package localfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/fs9/fs9/pkg/fsprovider"
	"github.com/fs9/fs9/pkg/utils"
)

type openFile struct {
	f *os.File
}

// Provider maps every path it is given onto root, using utils.SecureJoin to
// guarantee the host OS never sees a path outside of it.
type Provider struct {
	root    string
	mu      sync.RWMutex
	handles map[fsprovider.Handle]*openFile
	counter atomic.Uint64
}

// New creates a Provider rooted at root. The directory must already exist.
func New(root string) (*Provider, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fsprovider.InvalidInput("invalid localfs root: " + err.Error())
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, fsprovider.InvalidInput("localfs root must be an existing directory: " + root)
	}
	return &Provider{
		root:    abs,
		handles: make(map[fsprovider.Handle]*openFile),
	}, nil
}

func (p *Provider) resolve(path string) (string, error) {
	full, err := utils.SecureJoin(p.root, path)
	if err != nil {
		return "", fsprovider.InvalidInput("path escapes provider root: " + path)
	}
	return full, nil
}

func toFileInfo(path string, fi os.FileInfo) fsprovider.FileInfo {
	ft := fsprovider.Regular
	if fi.IsDir() {
		ft = fsprovider.Directory
	} else if fi.Mode()&os.ModeSymlink != 0 {
		ft = fsprovider.Symlink
	}
	return fsprovider.FileInfo{
		Path:     path,
		FileType: ft,
		Size:     uint64(fi.Size()),
		Mode:     uint16(fi.Mode().Perm()),
		Mtime:    fi.ModTime(),
		Nlink:    1,
	}
}

func translateOSErr(err error, path string) error {
	if os.IsNotExist(err) {
		return fsprovider.NotFound(path)
	}
	if os.IsExist(err) {
		return fsprovider.AlreadyExists(path)
	}
	if os.IsPermission(err) {
		return fsprovider.PermissionDenied(path)
	}
	return fsprovider.Internal(err.Error())
}

func (p *Provider) Stat(ctx context.Context, path string) (fsprovider.FileInfo, error) {
	full, err := p.resolve(path)
	if err != nil {
		return fsprovider.FileInfo{}, err
	}
	fi, err := os.Stat(full)
	if err != nil {
		return fsprovider.FileInfo{}, translateOSErr(err, path)
	}
	return toFileInfo(path, fi), nil
}

func (p *Provider) Wstat(ctx context.Context, path string, changes fsprovider.StatChanges) error {
	full, err := p.resolve(path)
	if err != nil {
		return err
	}
	if changes.Mode != nil {
		if err := os.Chmod(full, os.FileMode(*changes.Mode)); err != nil {
			return translateOSErr(err, path)
		}
	}
	if changes.Size != nil {
		if err := os.Truncate(full, int64(*changes.Size)); err != nil {
			return translateOSErr(err, path)
		}
	}
	if changes.Mtime != nil {
		atime := *changes.Mtime
		if changes.Atime != nil {
			atime = *changes.Atime
		}
		if err := os.Chtimes(full, atime, *changes.Mtime); err != nil {
			return translateOSErr(err, path)
		}
	}
	if changes.NewPath != nil {
		newFull, err := p.resolve(*changes.NewPath)
		if err != nil {
			return err
		}
		if err := os.Rename(full, newFull); err != nil {
			return translateOSErr(err, path)
		}
	}
	return nil
}

func (p *Provider) Statfs(ctx context.Context, path string) (fsprovider.FsStats, error) {
	return fsprovider.FsStats{}, nil
}

func (p *Provider) Open(ctx context.Context, path string, flags fsprovider.OpenFlags) (fsprovider.Handle, fsprovider.FileInfo, error) {
	full, err := p.resolve(path)
	if err != nil {
		return 0, fsprovider.FileInfo{}, err
	}

	osFlags := os.O_RDONLY
	switch {
	case flags.Write && flags.Read:
		osFlags = os.O_RDWR
	case flags.Write:
		osFlags = os.O_WRONLY
	}
	if flags.Create {
		osFlags |= os.O_CREATE
	}
	if flags.Exclusive {
		osFlags |= os.O_EXCL
	}
	if flags.Truncate {
		osFlags |= os.O_TRUNC
	}
	if flags.Append {
		osFlags |= os.O_APPEND
	}
	if flags.Create && flags.Directory {
		if err := os.Mkdir(full, 0755); err != nil && (flags.Exclusive || !os.IsExist(err)) {
			return 0, fsprovider.FileInfo{}, translateOSErr(err, path)
		}
		osFlags = os.O_RDONLY
	}

	f, err := os.OpenFile(full, osFlags, 0644)
	if err != nil {
		return 0, fsprovider.FileInfo{}, translateOSErr(err, path)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return 0, fsprovider.FileInfo{}, translateOSErr(err, path)
	}
	if flags.Directory && !fi.IsDir() {
		f.Close()
		return 0, fsprovider.FileInfo{}, fsprovider.NotDirectory(path)
	}

	h := fsprovider.Handle(p.counter.Add(1))
	p.mu.Lock()
	p.handles[h] = &openFile{f: f}
	p.mu.Unlock()

	return h, toFileInfo(path, fi), nil
}

func (p *Provider) lookupHandle(h fsprovider.Handle) (*openFile, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	of, ok := p.handles[h]
	return of, ok
}

func (p *Provider) Read(ctx context.Context, h fsprovider.Handle, offset uint64, size uint32) ([]byte, error) {
	of, ok := p.lookupHandle(h)
	if !ok {
		return nil, fsprovider.InvalidHandle(h)
	}
	buf := make([]byte, size)
	n, err := of.f.ReadAt(buf, int64(offset))
	if err != nil && err != io.EOF {
		return nil, fsprovider.Internal(err.Error())
	}
	return buf[:n], nil
}

func (p *Provider) Write(ctx context.Context, h fsprovider.Handle, offset uint64, data []byte) (uint32, error) {
	of, ok := p.lookupHandle(h)
	if !ok {
		return 0, fsprovider.InvalidHandle(h)
	}
	n, err := of.f.WriteAt(data, int64(offset))
	if err != nil {
		return uint32(n), fsprovider.Internal(err.Error())
	}
	return uint32(n), nil
}

func (p *Provider) Close(ctx context.Context, h fsprovider.Handle) error {
	p.mu.Lock()
	of, ok := p.handles[h]
	if ok {
		delete(p.handles, h)
	}
	p.mu.Unlock()
	if !ok {
		return fsprovider.InvalidHandle(h)
	}
	return of.f.Close()
}

func (p *Provider) Readdir(ctx context.Context, path string) ([]fsprovider.FileInfo, error) {
	full, err := p.resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, translateOSErr(err, path)
	}

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.Strings(names)

	base := path
	if base != "/" {
		base = path
	}
	out := make([]fsprovider.FileInfo, 0, len(names))
	for _, name := range names {
		fi, err := os.Lstat(filepath.Join(full, name))
		if err != nil {
			continue
		}
		childPath := filepath.ToSlash(filepath.Join(base, name))
		out = append(out, toFileInfo(childPath, fi))
	}
	return out, nil
}

func (p *Provider) Remove(ctx context.Context, path string) error {
	full, err := p.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if pe, ok := err.(*os.PathError); ok && pe.Err.Error() == "directory not empty" {
			return fsprovider.DirectoryNotEmpty(path)
		}
		return translateOSErr(err, path)
	}
	return nil
}

func (p *Provider) Capabilities() fsprovider.Capabilities {
	return fsprovider.CapRead | fsprovider.CapWrite | fsprovider.CapCreate |
		fsprovider.CapDelete | fsprovider.CapDirectory | fsprovider.CapTruncate |
		fsprovider.CapRename | fsprovider.CapChmod | fsprovider.CapUtime
}

var _ fsprovider.FsProvider = (*Provider)(nil)
