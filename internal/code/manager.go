package code

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Bundle is a configured group of resource types and the code behind them.
type Bundle struct {
	Name         string   `yaml:"name"`
	Runtime      string   `yaml:"runtime"`
	Requirements []string `yaml:"requirements"`
	Types        []string `yaml:"types"`
	// Sources are file paths, relative to the manager's base directory.
	Sources []string `yaml:"sources"`
}

// Source lists the bundles available to an environment at a model version.
type Source interface {
	Bundles(ctx context.Context, env string, version int64) ([]Bundle, error)
}

// StaticSource serves the same bundles to every environment and version.
type StaticSource []Bundle

// Bundles implements Source.
func (s StaticSource) Bundles(context.Context, string, int64) ([]Bundle, error) {
	return s, nil
}

// Resolution is the outcome of resolving a set of resource types.
type Resolution struct {
	Blueprints map[string]Blueprint
	// Failed lists resource types without resolvable code, sorted.
	Failed []string
}

// BlueprintFor returns the blueprint that serves typ.
func (r *Resolution) BlueprintFor(typ string) (Blueprint, bool) {
	bp, ok := r.Blueprints[typ]
	return bp, ok
}

const (
	defaultCacheEntries = 1024
	defaultCacheTTL     = 10 * time.Minute
)

// Option configures a Manager.
type Option func(*Manager)

// WithBaseDir sets the directory bundle source paths are relative to.
func WithBaseDir(dir string) Option {
	return func(m *Manager) {
		m.baseDir = dir
	}
}

// WithCacheEntries bounds the number of cached resolutions.
func WithCacheEntries(n int64) Option {
	return func(m *Manager) {
		if n > 0 {
			m.cacheEntries = n
		}
	}
}

// WithCacheTTL sets how long a resolution stays cached.
func WithCacheTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.ttl = ttl
	}
}

// Manager resolves blueprints and caches the results per
// (environment, version, types).
type Manager struct {
	source       Source
	baseDir      string
	cacheEntries int64
	ttl          time.Duration
	cache        *ristretto.Cache[string, *Resolution]
}

// NewManager returns a Manager reading bundles from src.
func NewManager(src Source, opts ...Option) (*Manager, error) {
	m := &Manager{
		source:       src,
		cacheEntries: defaultCacheEntries,
		ttl:          defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(m)
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, *Resolution]{
		NumCounters: m.cacheEntries * 10,
		MaxCost:     m.cacheEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("blueprint cache: %w", err)
	}
	m.cache = cache
	return m, nil
}

// Close releases the cache.
func (m *Manager) Close() {
	m.cache.Close()
}

// Resolve returns a blueprint for every resolvable type in types.
//
// Types not covered by any bundle, or whose bundle sources cannot be read,
// are reported in Resolution.Failed rather than as an error. An error is
// returned only when the bundle source itself fails.
func (m *Manager) Resolve(ctx context.Context, env string, version int64, types []string) (*Resolution, error) {
	wanted := sortedCopy(types)
	wanted = slices.Compact(wanted)

	key := cacheKey(env, version, wanted)
	if res, ok := m.cache.Get(key); ok {
		return res, nil
	}

	bundles, err := m.source.Bundles(ctx, env, version)
	if err != nil {
		return nil, fmt.Errorf("list code bundles for %s@%d: %w", env, version, err)
	}

	res := &Resolution{Blueprints: make(map[string]Blueprint, len(wanted))}
	built := make(map[string]*Blueprint)
	broken := make(map[string]bool)

	for _, typ := range wanted {
		b, ok := findBundle(bundles, typ)
		if !ok {
			res.Failed = append(res.Failed, typ)
			continue
		}
		if broken[b.Name] {
			res.Failed = append(res.Failed, typ)
			continue
		}
		bp, ok := built[b.Name]
		if !ok {
			blueprint, err := m.blueprint(b)
			if err != nil {
				slog.Warn("code bundle unusable", "env", env, "version", version, "bundle", b.Name, "error", err)
				broken[b.Name] = true
				res.Failed = append(res.Failed, typ)
				continue
			}
			bp = &blueprint
			built[b.Name] = bp
		}
		res.Blueprints[typ] = *bp
	}

	m.cache.SetWithTTL(key, res, 1, m.ttl)
	m.cache.Wait()
	return res, nil
}

func (m *Manager) blueprint(b Bundle) (Blueprint, error) {
	sources := make([]SourceFile, 0, len(b.Sources))
	for _, name := range b.Sources {
		path := name
		if !filepath.IsAbs(path) && m.baseDir != "" {
			path = filepath.Join(m.baseDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return Blueprint{}, fmt.Errorf("read source %s: %w", name, err)
		}
		sum := sha256.Sum256(data)
		sources = append(sources, SourceFile{Name: name, Hash: hex.EncodeToString(sum[:])})
	}
	return Blueprint{
		Bundle:       b.Name,
		Runtime:      b.Runtime,
		Requirements: b.Requirements,
		Sources:      sources,
		Types:        b.Types,
	}.Normalize(), nil
}

func findBundle(bundles []Bundle, typ string) (Bundle, bool) {
	for _, b := range bundles {
		if slices.Contains(b.Types, typ) {
			return b, true
		}
	}
	return Bundle{}, false
}

func cacheKey(env string, version int64, types []string) string {
	return env + "\x00" + strconv.FormatInt(version, 10) + "\x00" + strings.Join(types, "\x00")
}
