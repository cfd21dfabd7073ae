package handle

import (
	"context"
	"testing"
	"time"

	"github.com/fs9/fs9/pkg/fsprovider"
)

type countingProvider struct {
	closes int
}

func (c *countingProvider) Stat(ctx context.Context, path string) (fsprovider.FileInfo, error) {
	return fsprovider.FileInfo{}, nil
}
func (c *countingProvider) Wstat(ctx context.Context, path string, ch fsprovider.StatChanges) error {
	return nil
}
func (c *countingProvider) Statfs(ctx context.Context, path string) (fsprovider.FsStats, error) {
	return fsprovider.FsStats{}, nil
}
func (c *countingProvider) Open(ctx context.Context, path string, f fsprovider.OpenFlags) (fsprovider.Handle, fsprovider.FileInfo, error) {
	return 0, fsprovider.FileInfo{}, nil
}
func (c *countingProvider) Read(ctx context.Context, h fsprovider.Handle, offset uint64, size uint32) ([]byte, error) {
	return nil, nil
}
func (c *countingProvider) Write(ctx context.Context, h fsprovider.Handle, offset uint64, data []byte) (uint32, error) {
	return 0, nil
}
func (c *countingProvider) Close(ctx context.Context, h fsprovider.Handle) error {
	c.closes++
	return nil
}
func (c *countingProvider) Readdir(ctx context.Context, path string) ([]fsprovider.FileInfo, error) {
	return nil, nil
}
func (c *countingProvider) Remove(ctx context.Context, path string) error { return nil }
func (c *countingProvider) Capabilities() fsprovider.Capabilities         { return fsprovider.AllCapabilities }

func TestInsertLookupRemove(t *testing.T) {
	r := New(time.Hour)
	p := &countingProvider{}

	h := r.Insert(p, 7, "/a.txt")
	e, ok := r.Lookup(h)
	if !ok || e.ProviderH != 7 || e.Path != "/a.txt" {
		t.Fatalf("unexpected lookup result: %+v ok=%v", e, ok)
	}

	e, ok = r.Remove(h)
	if !ok {
		t.Fatal("expected remove to succeed")
	}
	if _, ok := r.Lookup(h); ok {
		t.Fatal("expected handle to be gone after remove")
	}

	_ = e.Provider.Close(context.Background(), e.ProviderH)
	if p.closes != 1 {
		t.Fatalf("expected 1 close, got %d", p.closes)
	}
}

func TestDoubleCloseIsInvalidHandle(t *testing.T) {
	r := New(time.Hour)
	p := &countingProvider{}
	h := r.Insert(p, 1, "/a")

	if _, ok := r.Remove(h); !ok {
		t.Fatal("first remove should succeed")
	}
	if _, ok := r.Remove(h); ok {
		t.Fatal("second remove should fail (InvalidHandle at the VFS layer)")
	}
}

func TestSweepReclaimsExpiredHandles(t *testing.T) {
	r := New(10 * time.Millisecond)
	p := &countingProvider{}
	r.Insert(p, 1, "/a")

	time.Sleep(30 * time.Millisecond)

	n := r.Sweep(context.Background())
	if n != 1 {
		t.Fatalf("expected 1 handle reclaimed, got %d", n)
	}
	if p.closes != 1 {
		t.Fatalf("expected provider Close called once, got %d", p.closes)
	}
	if r.Count() != 0 {
		t.Fatalf("expected registry empty after sweep, got %d", r.Count())
	}
}

func TestSweepSparesFreshHandles(t *testing.T) {
	r := New(time.Hour)
	p := &countingProvider{}
	r.Insert(p, 1, "/a")

	n := r.Sweep(context.Background())
	if n != 0 {
		t.Fatalf("expected 0 reclaimed, got %d", n)
	}
}

func TestDrainAll(t *testing.T) {
	r := New(time.Hour)
	p := &countingProvider{}
	r.Insert(p, 1, "/a")
	r.Insert(p, 2, "/b")

	r.DrainAll(context.Background())

	if r.Count() != 0 {
		t.Fatalf("expected 0 handles after drain, got %d", r.Count())
	}
	if p.closes != 2 {
		t.Fatalf("expected 2 closes, got %d", p.closes)
	}
}
