// Package s3fs implements an FsProvider backed by an S3 (or S3-compatible)
// bucket: every VFS path below the mount maps onto one object key, reads use
// ranged GetObject requests, and writes are buffered per-handle and flushed
// with CargoShip's optimized transporter on close, mirroring the teacher's
// S3 storage backend (internal/storage/s3/backend.go) carried over to the
// nine-operation contract.
package s3fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssdkconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	awsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"

	"github.com/fs9/fs9/pkg/fsprovider"
)

// Config configures one s3fs mount.
type Config struct {
	Bucket             string
	Region             string
	Endpoint           string
	ForcePathStyle     bool
	Prefix             string
	EnableTransporter  bool
	MultipartThreshold int64
}

// handleState is the in-flight state of one open handle: a read handle
// needs only the key, a write handle accumulates bytes until Close flushes
// them in one upload (through the transporter when one is configured,
// otherwise or on its failure a single PutObject), since S3 objects cannot
// be partially updated.
type handleState struct {
	key     string
	write   bool
	create  bool
	buf     []byte
	existed bool
}

// Provider implements fsprovider.FsProvider over one S3 bucket/prefix.
type Provider struct {
	client      *s3.Client
	bucket      string
	prefix      string
	transporter *cargoships3.Transporter

	mu      sync.Mutex
	handles map[fsprovider.Handle]*handleState
	counter atomic.Uint64
}

// New builds a Provider, loading AWS credentials the standard SDK way
// (environment, shared config, instance role) and wiring CargoShip's
// accelerated uploader when cfg.EnableTransporter is set.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Bucket == "" {
		return nil, fsprovider.InvalidInput("s3fs requires a \"bucket\" option")
	}

	awsCfg, err := awssdkconfig.LoadDefaultConfig(ctx, awssdkconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fsprovider.Internal("s3fs: failed to load AWS config: " + err.Error())
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	var transporter *cargoships3.Transporter
	if cfg.EnableTransporter {
		threshold := cfg.MultipartThreshold
		if threshold <= 0 {
			threshold = 32 * 1024 * 1024
		}
		transporter = cargoships3.NewTransporter(client, awsconfig.S3Config{
			Bucket:             cfg.Bucket,
			StorageClass:       awsconfig.StorageClassStandard,
			MultipartThreshold: threshold,
			MultipartChunkSize: 16 * 1024 * 1024,
			Concurrency:        8,
		})
	}

	return &Provider{
		client:      client,
		bucket:      cfg.Bucket,
		prefix:      strings.Trim(cfg.Prefix, "/"),
		transporter: transporter,
		handles:     make(map[fsprovider.Handle]*handleState),
	}, nil
}

func (p *Provider) key(vfsPath string) string {
	clean := strings.TrimPrefix(path.Clean("/"+vfsPath), "/")
	if p.prefix == "" {
		return clean
	}
	if clean == "" {
		return p.prefix
	}
	return p.prefix + "/" + clean
}

func translateS3Err(err error, path string) error {
	var noSuchKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fsprovider.NotFound(path)
	}
	return fsprovider.Internal(err.Error())
}

func (p *Provider) Stat(ctx context.Context, vfsPath string) (fsprovider.FileInfo, error) {
	if vfsPath == "/" || vfsPath == "" {
		return fsprovider.FileInfo{Path: "/", FileType: fsprovider.Directory}, nil
	}
	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(vfsPath)),
	})
	if err != nil {
		return fsprovider.FileInfo{}, translateS3Err(err, vfsPath)
	}
	return fsprovider.FileInfo{
		Path:     vfsPath,
		FileType: fsprovider.Regular,
		Size:     uint64(aws.ToInt64(out.ContentLength)),
		Mtime:    aws.ToTime(out.LastModified),
		Nlink:    1,
	}, nil
}

// Wstat is unsupported: S3 objects carry no POSIX metadata to mutate in
// place, and renaming would require a copy-then-delete this provider does
// not implement. Capabilities omits CapRename/CapChmod/CapChown/CapUtime, so
// the router forwards here only a size change (CapTruncate is declared for
// truncating opens) or an empty change set, and both get NotImplemented.
func (p *Provider) Wstat(ctx context.Context, vfsPath string, changes fsprovider.StatChanges) error {
	return fsprovider.NotImplemented("s3fs.wstat")
}

func (p *Provider) Statfs(ctx context.Context, vfsPath string) (fsprovider.FsStats, error) {
	return fsprovider.FsStats{}, nil
}

func (p *Provider) Open(ctx context.Context, vfsPath string, flags fsprovider.OpenFlags) (fsprovider.Handle, fsprovider.FileInfo, error) {
	key := p.key(vfsPath)

	info, statErr := p.Stat(ctx, vfsPath)
	existed := statErr == nil

	if !existed && !flags.Create {
		return 0, fsprovider.FileInfo{}, fsprovider.NotFound(vfsPath)
	}
	if existed && flags.Create && flags.Exclusive {
		return 0, fsprovider.FileInfo{}, fsprovider.AlreadyExists(vfsPath)
	}

	st := &handleState{key: key, write: flags.Write, create: flags.Create, existed: existed}
	if flags.Write && !flags.Truncate && existed {
		data, err := p.getObject(ctx, key, 0, 0)
		if err != nil {
			return 0, fsprovider.FileInfo{}, err
		}
		st.buf = data
	}

	h := fsprovider.Handle(p.counter.Add(1))
	p.mu.Lock()
	p.handles[h] = st
	p.mu.Unlock()

	if !existed {
		info = fsprovider.FileInfo{Path: vfsPath, FileType: fsprovider.Regular}
	}
	return h, info, nil
}

func (p *Provider) getObject(ctx context.Context, key string, offset, size int64) ([]byte, error) {
	var rng *string
	if offset > 0 || size > 0 {
		if size > 0 {
			rng = aws.String("bytes=" + itoa(offset) + "-" + itoa(offset+size-1))
		} else {
			rng = aws.String("bytes=" + itoa(offset) + "-")
		}
	}
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
		Range:  rng,
	})
	if err != nil {
		return nil, translateS3Err(err, key)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fsprovider.Internal(err.Error())
	}
	return data, nil
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (p *Provider) lookup(h fsprovider.Handle) (*handleState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.handles[h]
	return st, ok
}

func (p *Provider) Read(ctx context.Context, h fsprovider.Handle, offset uint64, size uint32) ([]byte, error) {
	st, ok := p.lookup(h)
	if !ok {
		return nil, fsprovider.InvalidHandle(h)
	}
	if st.buf != nil {
		if offset >= uint64(len(st.buf)) {
			return nil, nil
		}
		end := offset + uint64(size)
		if end > uint64(len(st.buf)) {
			end = uint64(len(st.buf))
		}
		return st.buf[offset:end], nil
	}
	return p.getObject(ctx, st.key, int64(offset), int64(size))
}

func (p *Provider) Write(ctx context.Context, h fsprovider.Handle, offset uint64, data []byte) (uint32, error) {
	st, ok := p.lookup(h)
	if !ok {
		return 0, fsprovider.InvalidHandle(h)
	}
	if !st.write {
		return 0, fsprovider.PermissionDenied("handle not opened for write")
	}
	end := offset + uint64(len(data))
	if end > uint64(len(st.buf)) {
		grown := make([]byte, end)
		copy(grown, st.buf)
		st.buf = grown
	}
	copy(st.buf[offset:end], data)
	return uint32(len(data)), nil
}

func (p *Provider) Close(ctx context.Context, h fsprovider.Handle) error {
	p.mu.Lock()
	st, ok := p.handles[h]
	if ok {
		delete(p.handles, h)
	}
	p.mu.Unlock()
	if !ok {
		return fsprovider.InvalidHandle(h)
	}
	if !st.write {
		return nil
	}
	return p.flush(ctx, st)
}

func (p *Provider) flush(ctx context.Context, st *handleState) error {
	if p.transporter != nil {
		archive := cargoships3.Archive{
			Key:    st.key,
			Reader: bytes.NewReader(st.buf),
			Size:   int64(len(st.buf)),
		}
		if _, err := p.transporter.Upload(ctx, archive); err == nil {
			return nil
		}
	}
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(st.key),
		Body:          bytes.NewReader(st.buf),
		ContentLength: aws.Int64(int64(len(st.buf))),
	})
	if err != nil {
		return translateS3Err(err, st.key)
	}
	return nil
}

func (p *Provider) Readdir(ctx context.Context, vfsPath string) ([]fsprovider.FileInfo, error) {
	prefix := p.key(vfsPath)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	out, err := p.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(p.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	if err != nil {
		return nil, translateS3Err(err, vfsPath)
	}

	entries := make([]fsprovider.FileInfo, 0, len(out.Contents)+len(out.CommonPrefixes))
	for _, cp := range out.CommonPrefixes {
		name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
		if name == "" {
			continue
		}
		entries = append(entries, fsprovider.FileInfo{
			Path:     path.Join(vfsPath, name),
			FileType: fsprovider.Directory,
		})
	}
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		name := strings.TrimPrefix(key, prefix)
		if name == "" {
			continue
		}
		entries = append(entries, fsprovider.FileInfo{
			Path:     path.Join(vfsPath, name),
			FileType: fsprovider.Regular,
			Size:     uint64(aws.ToInt64(obj.Size)),
			Mtime:    aws.ToTime(obj.LastModified),
			Nlink:    1,
		})
	}
	return entries, nil
}

func (p *Provider) Remove(ctx context.Context, vfsPath string) error {
	key := p.key(vfsPath)
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return translateS3Err(err, vfsPath)
	}
	return nil
}

// Capabilities omits CapRename/CapChmod/CapChown/CapUtime/CapSymlink/CapStatfs:
// S3 objects have no POSIX metadata and no atomic rename primitive.
func (p *Provider) Capabilities() fsprovider.Capabilities {
	return fsprovider.CapRead | fsprovider.CapWrite | fsprovider.CapCreate |
		fsprovider.CapDelete | fsprovider.CapDirectory | fsprovider.CapTruncate
}

var _ fsprovider.FsProvider = (*Provider)(nil)
