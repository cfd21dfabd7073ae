package fuse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fs9/fs9/pkg/fsprovider"
	"github.com/fs9/fs9/pkg/providers/memfs"
)

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "/a.txt", joinPath("/", "a.txt"))
	assert.Equal(t, "/sub/a.txt", joinPath("/sub", "a.txt"))
}

func TestErrnoFromErr(t *testing.T) {
	assert.Equal(t, uintptr(2), uintptr(errnoFromErr(fsprovider.NotFound("/x"))))
	assert.Equal(t, uintptr(17), uintptr(errnoFromErr(fsprovider.AlreadyExists("/x"))))
	assert.Equal(t, uintptr(13), uintptr(errnoFromErr(fsprovider.PermissionDenied("/x"))))
}

func TestRootNodeAndProviderStatOfRegularFile(t *testing.T) {
	provider := memfs.New()
	require.NoError(t, provider.Mkdir("/dir"))

	ctx := context.Background()
	h, _, err := provider.Open(ctx, "/dir/a.txt", fsprovider.OpenFlags{Create: true, Write: true})
	require.NoError(t, err)
	_, err = provider.Write(ctx, h, 0, []byte("hi"))
	require.NoError(t, err)
	require.NoError(t, provider.Close(ctx, h))

	fsys := NewFileSystem(provider, DefaultConfig())
	root := fsys.Root().(*Node)
	assert.Equal(t, "/", root.path)

	info, err := provider.Stat(ctx, "/dir/a.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.Size)
}

func TestReaddirListsChildren(t *testing.T) {
	provider := memfs.New()
	ctx := context.Background()
	require.NoError(t, provider.Mkdir("/sub"))
	h, _, err := provider.Open(ctx, "/sub/f.txt", fsprovider.OpenFlags{Create: true, Write: true})
	require.NoError(t, err)
	require.NoError(t, provider.Close(ctx, h))

	fsys := NewFileSystem(provider, DefaultConfig())
	n := &Node{fsys: fsys, path: "/sub"}
	stream, errno := n.Readdir(ctx)
	require.Equal(t, uint32(0), uint32(errno))
	require.NotNil(t, stream)

	var names []string
	for stream.HasNext() {
		e, _ := stream.Next()
		names = append(names, e.Name)
	}
	assert.Contains(t, names, "f.txt")
}

func TestHandleReadWriteRoundTrip(t *testing.T) {
	provider := memfs.New()
	ctx := context.Background()
	h, _, err := provider.Open(ctx, "/a.txt", fsprovider.OpenFlags{Create: true, Write: true, Read: true})
	require.NoError(t, err)

	fsys := NewFileSystem(provider, DefaultConfig())
	fh := &Handle{fsys: fsys, handle: h, path: "/a.txt"}

	n, errno := fh.Write(ctx, []byte("hello"), 0)
	require.Equal(t, uint32(0), uint32(errno))
	assert.Equal(t, uint32(5), n)

	buf := make([]byte, 5)
	res, errno := fh.Read(ctx, buf, 0)
	require.Equal(t, uint32(0), uint32(errno))
	data, status := res.Bytes(buf)
	require.True(t, status.Ok())
	assert.Equal(t, "hello", string(data))

	require.Equal(t, uint32(0), uint32(fh.Release(ctx)))
}

func TestWriteRejectedOnReadOnlyMount(t *testing.T) {
	provider := memfs.New()
	cfg := DefaultConfig()
	cfg.ReadOnly = true
	fsys := NewFileSystem(provider, cfg)

	fh := &Handle{fsys: fsys, handle: 1, path: "/a.txt"}
	_, errno := fh.Write(context.Background(), []byte("x"), 0)
	assert.Equal(t, uintptr(30), uintptr(errno))
}

func TestMkdirRejectedOnReadOnlyMount(t *testing.T) {
	provider := memfs.New()
	cfg := DefaultConfig()
	cfg.ReadOnly = true
	fsys := NewFileSystem(provider, cfg)
	root := &Node{fsys: fsys, path: "/"}

	_, errno := root.Mkdir(context.Background(), "sub", 0755, nil)
	assert.Equal(t, uintptr(30), uintptr(errno))
}
