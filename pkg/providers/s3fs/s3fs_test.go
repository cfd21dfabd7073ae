package s3fs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fs9/fs9/pkg/fsprovider"
)

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{Region: "us-east-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}

func TestKeyMapping(t *testing.T) {
	p := &Provider{prefix: "tenantdata"}
	assert.Equal(t, "tenantdata/a.txt", p.key("/a.txt"))
	assert.Equal(t, "tenantdata/sub/b.txt", p.key("/sub/b.txt"))

	unprefixed := &Provider{}
	assert.Equal(t, "a.txt", unprefixed.key("/a.txt"))
	assert.Equal(t, "", unprefixed.key("/"))
}

func TestCapabilitiesExcludePosixMetadataOps(t *testing.T) {
	p := &Provider{}
	caps := p.Capabilities()
	assert.True(t, caps.Has(fsprovider.CapRead))
	assert.True(t, caps.Has(fsprovider.CapWrite))
	assert.True(t, caps.Has(fsprovider.CapDirectory))
	assert.False(t, caps.Has(fsprovider.CapRename))
	assert.False(t, caps.Has(fsprovider.CapChmod))
	assert.False(t, caps.Has(fsprovider.CapStatfs))
}

func TestWstatNotImplemented(t *testing.T) {
	p := &Provider{}
	err := p.Wstat(context.Background(), "/a.txt", fsprovider.StatChanges{})
	var fsErr *fsprovider.FsError
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, fsprovider.CodeNotImplemented, fsErr.Code)
}

func TestItoa(t *testing.T) {
	assert.Equal(t, "0", itoa(0))
	assert.Equal(t, "42", itoa(42))
	assert.Equal(t, "-7", itoa(-7))
}

func TestWriteBuffersUntilClose(t *testing.T) {
	p := &Provider{handles: make(map[fsprovider.Handle]*handleState)}
	p.handles[1] = &handleState{key: "a.txt", write: true}

	n, err := p.Write(context.Background(), 1, 0, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, uint32(5), n)

	n, err = p.Write(context.Background(), 1, 5, []byte(" world"))
	require.NoError(t, err)
	assert.Equal(t, uint32(6), n)

	st, ok := p.lookup(1)
	require.True(t, ok)
	assert.Equal(t, "hello world", string(st.buf))
}

func TestWriteRejectsReadOnlyHandle(t *testing.T) {
	p := &Provider{handles: make(map[fsprovider.Handle]*handleState)}
	p.handles[1] = &handleState{key: "a.txt", write: false}

	_, err := p.Write(context.Background(), 1, 0, []byte("x"))
	require.Error(t, err)
	var fsErr *fsprovider.FsError
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, fsprovider.CodePermissionDenied, fsErr.Code)
}

func TestReadFromBufferedHandle(t *testing.T) {
	p := &Provider{handles: make(map[fsprovider.Handle]*handleState)}
	p.handles[1] = &handleState{key: "a.txt", write: true, buf: []byte("0123456789")}

	data, err := p.Read(context.Background(), 1, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, "3456", string(data))

	data, err = p.Read(context.Background(), 1, 20, 4)
	require.NoError(t, err)
	assert.Empty(t, data)
}
