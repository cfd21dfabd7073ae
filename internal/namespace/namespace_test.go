package namespace

import (
	"testing"
	"time"

	"github.com/fs9/fs9/pkg/providers/memfs"
)

func TestDefaultNamespaceExists(t *testing.T) {
	m := NewManager(time.Minute, time.Minute)
	if !m.Exists(DefaultNamespace) {
		t.Fatal("expected default namespace to exist on creation")
	}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	m := NewManager(time.Minute, time.Minute)

	r1, err := m.GetOrCreate("team-a", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r2, err := m.GetOrCreate("team-a", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r1 != r2 {
		t.Fatal("expected GetOrCreate to return the same router for an existing namespace")
	}
}

func TestInvalidNamespaceName(t *testing.T) {
	m := NewManager(time.Minute, time.Minute)
	if _, err := m.GetOrCreate("Invalid Name!", "alice"); err == nil {
		t.Fatal("expected error for invalid namespace name")
	}
}

func TestNamespaceIsolation(t *testing.T) {
	m := NewManager(time.Minute, time.Minute)

	r1, _ := m.GetOrCreate("t1", "alice")
	r2, _ := m.GetOrCreate("t2", "bob")

	if r1 == r2 {
		t.Fatal("expected distinct routers per namespace")
	}
}

func TestListIncludesCreated(t *testing.T) {
	m := NewManager(time.Minute, time.Minute)
	m.GetOrCreate("t1", "alice")

	found := false
	for _, info := range m.List() {
		if info.Name == "t1" {
			found = true
			if info.CreatedBy != "alice" {
				t.Errorf("expected CreatedBy=alice, got %s", info.CreatedBy)
			}
		}
	}
	if !found {
		t.Fatal("expected t1 in namespace list")
	}
}

func TestNamespaceCleanerReclaimsIdleHandles(t *testing.T) {
	m := NewManager(20*time.Millisecond, 10*time.Millisecond)
	defer m.Shutdown()

	v, ok := m.namespaces.Load(DefaultNamespace)
	if !ok {
		t.Fatal("expected default namespace to exist")
	}
	ns := v.(*namespace)

	h := ns.handles.Insert(memfs.New(), 0, "/foo")
	if ns.handles.Count() != 1 {
		t.Fatalf("expected 1 handle, got %d", ns.handles.Count())
	}

	deadline := time.Now().Add(2 * time.Second)
	for ns.handles.Count() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if _, ok := ns.handles.Lookup(h); ok {
		t.Fatal("expected the cleaner goroutine to reclaim the idle handle")
	}
}
