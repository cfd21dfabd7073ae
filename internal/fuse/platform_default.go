//go:build !cgofuse
// +build !cgofuse

package fuse

import "github.com/fs9/fs9/pkg/fsprovider"

// NewPlatformMount builds the default mount backend: hanwen/go-fuse, which
// covers Linux and macOS. Building with -tags cgofuse swaps this for the
// winfsp/cgofuse-backed implementation in cgofuse_mount.go, needed to mount
// on Windows.
func NewPlatformMount(provider fsprovider.FsProvider, config *Config) PlatformMount {
	return NewMountManager(NewFileSystem(provider, config))
}
