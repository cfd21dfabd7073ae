// Command fs9fuse mounts a remote FS9 namespace as a local FUSE filesystem.
// It talks to the remote server the same way proxyfs does: every path
// under the mount point turns into an HTTP call against the remote
// instance's nine-operation API, so the remote's own auth, rate limiting,
// and capability gating apply exactly as they would to any other client.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fs9/fs9/internal/fuse"
	"github.com/fs9/fs9/pkg/providers/proxyfs"
)

func main() {
	var (
		mountPoint   = flag.String("mount", "", "local directory to mount the remote namespace at")
		baseURL      = flag.String("url", "", "base URL of the remote FS9 server, e.g. http://localhost:8080/api/v1")
		token        = flag.String("token", "", "bearer token to authenticate to the remote server")
		readOnly     = flag.Bool("readonly", false, "mount read-only")
		allowOther   = flag.Bool("allow-other", false, "allow other users to access the mount")
		attrTimeout  = flag.Duration("attr-timeout", time.Second, "kernel attribute cache timeout")
		entryTimeout = flag.Duration("entry-timeout", time.Second, "kernel directory entry cache timeout")
	)
	flag.Parse()

	if *mountPoint == "" || *baseURL == "" {
		log.Fatal("fs9fuse: both -mount and -url are required")
	}

	provider := proxyfs.New(proxyfs.Config{BaseURL: *baseURL, Token: *token})

	cfg := fuse.DefaultConfig()
	cfg.MountPoint = *mountPoint
	cfg.ReadOnly = *readOnly
	cfg.AllowOther = *allowOther
	cfg.AttrTimeout = *attrTimeout
	cfg.EntryTimeout = *entryTimeout
	cfg.DefaultUID = uint32(os.Getuid())
	cfg.DefaultGID = uint32(os.Getgid())

	manager := fuse.NewPlatformMount(provider, cfg)

	if err := manager.Mount(); err != nil {
		log.Fatalf("fs9fuse: mount failed: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("fs9fuse: received shutdown signal, unmounting")
		if err := manager.Unmount(); err != nil {
			log.Printf("fs9fuse: unmount failed: %v", err)
		}
	}()

	manager.Wait()
}
