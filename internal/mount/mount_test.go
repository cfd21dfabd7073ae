package mount

import (
	"context"
	"testing"

	"github.com/fs9/fs9/pkg/fsprovider"
)

type stubProvider struct{ name string }

func (s *stubProvider) Stat(ctx context.Context, path string) (fsprovider.FileInfo, error) {
	return fsprovider.FileInfo{Path: path}, nil
}
func (s *stubProvider) Wstat(ctx context.Context, path string, c fsprovider.StatChanges) error {
	return nil
}
func (s *stubProvider) Statfs(ctx context.Context, path string) (fsprovider.FsStats, error) {
	return fsprovider.FsStats{}, nil
}
func (s *stubProvider) Open(ctx context.Context, path string, f fsprovider.OpenFlags) (fsprovider.Handle, fsprovider.FileInfo, error) {
	return 0, fsprovider.FileInfo{}, nil
}
func (s *stubProvider) Read(ctx context.Context, h fsprovider.Handle, offset uint64, size uint32) ([]byte, error) {
	return nil, nil
}
func (s *stubProvider) Write(ctx context.Context, h fsprovider.Handle, offset uint64, data []byte) (uint32, error) {
	return 0, nil
}
func (s *stubProvider) Close(ctx context.Context, h fsprovider.Handle) error { return nil }
func (s *stubProvider) Readdir(ctx context.Context, path string) ([]fsprovider.FileInfo, error) {
	return nil, nil
}
func (s *stubProvider) Remove(ctx context.Context, path string) error { return nil }
func (s *stubProvider) Capabilities() fsprovider.Capabilities         { return fsprovider.AllCapabilities }

func TestResolveRoot(t *testing.T) {
	tbl := New()
	root := &stubProvider{name: "root"}
	tbl.Mount("/", root)

	p, rel, ok := tbl.Resolve("/a/b")
	if !ok || p != root || rel != "/a/b" {
		t.Fatalf("unexpected resolve: ok=%v rel=%q", ok, rel)
	}
}

func TestResolveLongestPrefixWins(t *testing.T) {
	tbl := New()
	root := &stubProvider{name: "root"}
	sub := &stubProvider{name: "sub"}
	tbl.Mount("/", root)
	tbl.Mount("/sub", sub)

	p, rel, ok := tbl.Resolve("/sub/x")
	if !ok || p != sub || rel != "/x" {
		t.Fatalf("expected /sub mount to win, got provider=%v rel=%q", p, rel)
	}

	p, rel, ok = tbl.Resolve("/subway")
	if !ok || p != root || rel != "/subway" {
		t.Fatalf("expected root to win for /subway (not a path-segment match), got %v %q", p, rel)
	}
}

func TestUnmountFallsBackOrFails(t *testing.T) {
	tbl := New()
	root := &stubProvider{name: "root"}
	sub := &stubProvider{name: "sub"}
	tbl.Mount("/", root)
	tbl.Mount("/sub", sub)

	if !tbl.Unmount("/sub") {
		t.Fatal("expected unmount to report true")
	}

	p, _, ok := tbl.Resolve("/sub/x")
	if !ok || p != root {
		t.Fatalf("expected fallback to root mount after unmount, got ok=%v p=%v", ok, p)
	}
}

func TestResolveNoMount(t *testing.T) {
	tbl := New()
	_, _, ok := tbl.Resolve("/anything")
	if ok {
		t.Fatal("expected no mount to resolve")
	}
}

func TestListSorted(t *testing.T) {
	tbl := New()
	tbl.Mount("/b", &stubProvider{})
	tbl.Mount("/a", &stubProvider{})
	tbl.Mount("/", &stubProvider{})

	got := tbl.List()
	want := []string{"/", "/a", "/b"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
