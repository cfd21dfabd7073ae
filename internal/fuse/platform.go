// PlatformMount is defined here; its constructor is build-tag-gated between
// platform_default.go (the default, hanwen/go-fuse-backed build) and
// cgofuse_mount.go (the winfsp/cgofuse-backed build under -tags cgofuse).
package fuse

// PlatformMount is the lifecycle surface cmd/fs9fuse drives, satisfied by
// whichever mount backend this build was compiled with.
type PlatformMount interface {
	Mount() error
	Unmount() error
	Wait()
	IsMounted() bool
}
