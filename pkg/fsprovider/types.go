// Package fsprovider defines the nine-operation storage backend contract
// that every FS9 provider — built-in or loaded as a plugin — implements.
package fsprovider

import (
	"context"
	"time"
)

// FileType identifies the kind of filesystem entry a FileInfo describes.
type FileType int

const (
	Regular FileType = iota
	Directory
	Symlink
)

func (t FileType) String() string {
	switch t {
	case Regular:
		return "regular"
	case Directory:
		return "directory"
	case Symlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// FileInfo describes a filesystem entry. Path is always VFS-absolute: the
// router rewrites every path a provider returns before it reaches a caller.
type FileInfo struct {
	Path     string    `json:"path"`
	FileType FileType  `json:"file_type"`
	Size     uint64    `json:"size"`
	Mode     uint16    `json:"mode"`
	UID      uint32    `json:"uid"`
	GID      uint32    `json:"gid"`
	Atime    time.Time `json:"atime"`
	Mtime    time.Time `json:"mtime"`
	Ctime    time.Time `json:"ctime"`
	Nlink    uint32    `json:"nlink"`
}

// StatChanges is a Plan-9-style "wstat" record: any subset of fields may be
// present, and absent fields (nil pointers) mean "leave unchanged".
type StatChanges struct {
	Mode          *uint16    `json:"mode,omitempty"`
	UID           *uint32    `json:"uid,omitempty"`
	GID           *uint32    `json:"gid,omitempty"`
	Size          *uint64    `json:"size,omitempty"`
	Mtime         *time.Time `json:"mtime,omitempty"`
	Atime         *time.Time `json:"atime,omitempty"`
	NewPath       *string    `json:"new_path,omitempty"`
	SymlinkTarget *string    `json:"symlink_target,omitempty"`
}

// OpenFlags describes how a path should be opened or created.
type OpenFlags struct {
	Read      bool
	Write     bool
	Append    bool
	Create    bool
	Exclusive bool
	Truncate  bool
	Directory bool
}

// FsStats is the result of statfs: backend capacity and inode usage.
type FsStats struct {
	TotalBytes uint64 `json:"total_bytes"`
	FreeBytes  uint64 `json:"free_bytes"`
	TotalFiles uint64 `json:"total_files"`
	FreeFiles  uint64 `json:"free_files"`
}

// Handle is an opaque, provider-local file handle. Only the provider that
// issued it knows how to interpret the value; it never leaves the handle
// registry and is never exposed to a caller directly.
type Handle uint64

// Capabilities is a bitset over the optional abilities a provider declares.
// The router checks the relevant bit before invoking an operation that
// requires it, short-circuiting unsupported calls with NotImplemented
// before the provider is ever invoked.
type Capabilities uint32

const (
	CapRead Capabilities = 1 << iota
	CapWrite
	CapCreate
	CapDelete
	CapDirectory
	CapTruncate
	CapRename
	CapChmod
	CapChown
	CapUtime
	CapSymlink
	CapStatfs
)

// Has reports whether every bit in want is set in c.
func (c Capabilities) Has(want Capabilities) bool {
	return c&want == want
}

// AllCapabilities is the capability mask the VFS router declares for
// itself: it forwards every operation after its own gating, so from the
// outside it looks fully capable (the real gate is the mounted provider's
// own declared set).
const AllCapabilities Capabilities = CapRead | CapWrite | CapCreate | CapDelete |
	CapDirectory | CapTruncate | CapRename | CapChmod | CapChown | CapUtime |
	CapSymlink | CapStatfs

// FsProvider is the nine-operation contract every storage backend
// implements, whether built in or loaded dynamically from a plugin. All
// operations are context-aware so callers can cancel or time out a
// blocking provider call.
type FsProvider interface {
	Stat(ctx context.Context, path string) (FileInfo, error)
	Wstat(ctx context.Context, path string, changes StatChanges) error
	Statfs(ctx context.Context, path string) (FsStats, error)
	Open(ctx context.Context, path string, flags OpenFlags) (Handle, FileInfo, error)
	Read(ctx context.Context, h Handle, offset uint64, size uint32) ([]byte, error)
	Write(ctx context.Context, h Handle, offset uint64, data []byte) (uint32, error)
	Close(ctx context.Context, h Handle) error
	Readdir(ctx context.Context, path string) ([]FileInfo, error)
	Remove(ctx context.Context, path string) error
	Capabilities() Capabilities
}
