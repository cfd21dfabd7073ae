//go:build cgofuse
// +build cgofuse

package fuse

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/winfsp/cgofuse/fuse"

	"github.com/fs9/fs9/pkg/fsprovider"
)

// CgoFuseMountManager manages a cgofuse-backed mount, the winfsp path
// NewPlatformMount selects under -tags cgofuse. It satisfies the same
// PlatformMount interface as MountManager so cmd/fs9fuse doesn't need to
// know which backend it got.
type CgoFuseMountManager struct {
	filesystem *CgoFuseFS
	config     *Config
	host       *fuse.FileSystemHost
	mounted    bool
}

// NewCgoFuseMountManager creates a manager for a provider-backed mount.
func NewCgoFuseMountManager(provider fsprovider.FsProvider, config *Config) *CgoFuseMountManager {
	if config == nil {
		config = DefaultConfig()
	}
	return &CgoFuseMountManager{
		filesystem: NewCgoFuseFS(provider, config),
		config:     config,
	}
}

// Mount attaches the filesystem at its configured MountPoint.
func (m *CgoFuseMountManager) Mount() error {
	if m.mounted {
		return fmt.Errorf("filesystem is already mounted")
	}
	if m.config.MountPoint == "" {
		return fmt.Errorf("mount point cannot be empty")
	}

	m.host = fuse.NewFileSystemHost(m.filesystem)

	options := []string{"-o", "fsname=fs9"}
	if m.config.ReadOnly {
		options = append(options, "-o", "ro")
	}
	if m.config.AllowOther {
		options = append(options, "-o", "allow_other")
	}
	if strings.Contains(m.config.MountPoint, ":") {
		// A drive letter (e.g. "X:") tells winfsp to mount as a drive
		// rather than at an existing directory.
		options = append(options, "-o", "VolumePrefix=fs9")
	}

	go func() {
		if !m.host.Mount(m.config.MountPoint, options) {
			log.Printf("fs9fuse: cgofuse mount returned failure")
		}
		m.mounted = false
	}()

	// Mount() blocks internally until unmount; give it a moment to attach
	// before reporting success, matching the teacher's fixed settle delay.
	time.Sleep(100 * time.Millisecond)
	m.mounted = true
	log.Printf("fs9fuse: mounted at %s (cgofuse)", m.config.MountPoint)
	return nil
}

// Unmount detaches the filesystem.
func (m *CgoFuseMountManager) Unmount() error {
	if !m.mounted || m.host == nil {
		return fmt.Errorf("filesystem is not mounted")
	}
	if !m.host.Unmount() {
		return fmt.Errorf("unmount failed")
	}
	m.mounted = false
	return nil
}

// Wait blocks until the mount is unmounted. cgofuse's Mount call already
// blocks the goroutine it runs in until that happens, so Wait here just
// polls the mounted flag that goroutine clears.
func (m *CgoFuseMountManager) Wait() {
	for m.mounted {
		time.Sleep(50 * time.Millisecond)
	}
}

// IsMounted reports whether the filesystem is currently attached.
func (m *CgoFuseMountManager) IsMounted() bool {
	return m.mounted
}

var _ PlatformMount = (*CgoFuseMountManager)(nil)

// NewPlatformMount is the cgofuse build's PlatformMount constructor; the
// default build gets its twin from platform_default.go instead.
func NewPlatformMount(provider fsprovider.FsProvider, config *Config) PlatformMount {
	return NewCgoFuseMountManager(provider, config)
}
