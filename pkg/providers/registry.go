// Package providers ties together the built-in FsProvider implementations
// (memfs, localfs, proxyfs, s3fs) behind a single factory registry, the same
// role plugins fill for dynamically loaded providers.
package providers

import (
	"context"

	"github.com/fs9/fs9/pkg/fsprovider"
	"github.com/fs9/fs9/pkg/providers/localfs"
	"github.com/fs9/fs9/pkg/providers/memfs"
	"github.com/fs9/fs9/pkg/providers/proxyfs"
	"github.com/fs9/fs9/pkg/providers/s3fs"
)

// Config carries the options a factory needs to build one provider
// instance. It is intentionally a loose untyped map — mirroring the
// original's per-provider option bag — since each provider kind has its own
// option shape (localfs wants "root", proxyfs wants "base_url"/"token").
type Config struct {
	Options map[string]interface{}
}

func (c Config) str(key string) (string, bool) {
	v, ok := c.Options[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (c Config) boolOr(key string, def bool) bool {
	v, ok := c.Options[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// Factory builds one FsProvider instance from a Config.
type Factory func(Config) (fsprovider.FsProvider, error)

// Registry maps a provider kind name ("memfs", "localfs", "proxyfs", or a
// plugin's declared name) to the factory that constructs it.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for kind.
func (r *Registry) Register(kind string, factory Factory) {
	r.factories[kind] = factory
}

// Create builds a provider of the given kind.
func (r *Registry) Create(kind string, cfg Config) (fsprovider.FsProvider, error) {
	factory, ok := r.factories[kind]
	if !ok {
		return nil, fsprovider.InvalidInput("unknown provider kind: " + kind)
	}
	return factory(cfg)
}

// Has reports whether kind is registered.
func (r *Registry) Has(kind string) bool {
	_, ok := r.factories[kind]
	return ok
}

// List returns the registered provider kind names.
func (r *Registry) List() []string {
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	return out
}

// Default returns a Registry with the four built-in providers (memfs,
// localfs, proxyfs, s3fs) registered.
func Default() *Registry {
	r := NewRegistry()

	r.Register("memfs", func(cfg Config) (fsprovider.FsProvider, error) {
		return memfs.New(), nil
	})

	r.Register("localfs", func(cfg Config) (fsprovider.FsProvider, error) {
		root, ok := cfg.str("root")
		if !ok || root == "" {
			return nil, fsprovider.InvalidInput("localfs requires a \"root\" option")
		}
		return localfs.New(root)
	})

	r.Register("proxyfs", func(cfg Config) (fsprovider.FsProvider, error) {
		baseURL, ok := cfg.str("base_url")
		if !ok || baseURL == "" {
			return nil, fsprovider.InvalidInput("proxyfs requires a \"base_url\" option")
		}
		token, _ := cfg.str("token")
		return proxyfs.New(proxyfs.Config{BaseURL: baseURL, Token: token}), nil
	})

	r.Register("s3fs", func(cfg Config) (fsprovider.FsProvider, error) {
		bucket, ok := cfg.str("bucket")
		if !ok || bucket == "" {
			return nil, fsprovider.InvalidInput("s3fs requires a \"bucket\" option")
		}
		region, _ := cfg.str("region")
		endpoint, _ := cfg.str("endpoint")
		prefix, _ := cfg.str("prefix")
		return s3fs.New(context.Background(), s3fs.Config{
			Bucket:            bucket,
			Region:            region,
			Endpoint:          endpoint,
			ForcePathStyle:    cfg.boolOr("force_path_style", false),
			Prefix:            prefix,
			EnableTransporter: cfg.boolOr("enable_transporter", true),
		})
	})

	return r
}
