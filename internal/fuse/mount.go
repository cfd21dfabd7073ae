package fuse

import (
	"fmt"
	"log"
	"os"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// MountManager wraps a go-fuse server lifecycle around a FileSystem,
// grounded on the teacher's MountManager but trimmed to the options that
// make sense for an fsprovider-backed mount: there is no WriteBuffer or
// ReadAheadManager to configure here, since buffering (if any) lives inside
// whichever provider is mounted.
type MountManager struct {
	filesystem *FileSystem
	server     *fuse.Server
	mounted    bool
}

// NewMountManager creates a manager for filesystem. Call Mount to actually
// attach it to the kernel.
func NewMountManager(filesystem *FileSystem) *MountManager {
	return &MountManager{filesystem: filesystem}
}

// Mount attaches the filesystem at its configured MountPoint and starts
// serving FUSE requests in the background.
func (m *MountManager) Mount() error {
	if m.mounted {
		return fmt.Errorf("filesystem is already mounted")
	}
	if err := m.validateMountPoint(); err != nil {
		return fmt.Errorf("invalid mount point: %w", err)
	}

	cfg := m.filesystem.config
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			AllowOther: cfg.AllowOther,
			FsName:     "fs9",
			Name:       "fs9fuse",
		},
		EntryTimeout: &cfg.EntryTimeout,
		AttrTimeout:  &cfg.AttrTimeout,
	}
	if cfg.ReadOnly {
		opts.Options = append(opts.Options, "ro")
	}

	server, err := fs.Mount(cfg.MountPoint, m.filesystem.Root(), opts)
	if err != nil {
		return fmt.Errorf("failed to mount filesystem: %w", err)
	}

	m.server = server
	m.mounted = true

	log.Printf("fs9fuse: mounted at %s", cfg.MountPoint)

	go func() {
		m.server.Wait()
		m.mounted = false
		log.Printf("fs9fuse: server stopped")
	}()

	return nil
}

// Unmount detaches the filesystem from the kernel.
func (m *MountManager) Unmount() error {
	if !m.mounted || m.server == nil {
		return fmt.Errorf("filesystem is not mounted")
	}
	if err := m.server.Unmount(); err != nil {
		return fmt.Errorf("unmount failed: %w", err)
	}
	m.mounted = false
	m.server = nil
	return nil
}

// Wait blocks until the mount is unmounted, either by this process or
// externally (e.g. "fusermount -u").
func (m *MountManager) Wait() {
	if m.server != nil {
		m.server.Wait()
	}
}

// IsMounted reports whether the filesystem is currently attached.
func (m *MountManager) IsMounted() bool {
	return m.mounted
}

func (m *MountManager) validateMountPoint() error {
	mp := m.filesystem.config.MountPoint
	if mp == "" {
		return fmt.Errorf("mount point cannot be empty")
	}
	info, err := os.Stat(mp)
	if err != nil {
		return fmt.Errorf("cannot access mount point: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mount point is not a directory: %s", mp)
	}
	return nil
}
