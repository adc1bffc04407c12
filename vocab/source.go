package vocab

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	toml "github.com/pelletier/go-toml/v2"
)

// Source returns a flat translation table for a plugin and locale.
type Source interface {
	Vocabulary(ctx context.Context, pluginID, locale string) (map[string]string, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, pluginID, locale string) (map[string]string, error)

// Vocabulary calls f.
func (f SourceFunc) Vocabulary(ctx context.Context, pluginID, locale string) (map[string]string, error) {
	return f(ctx, pluginID, locale)
}

// MapSource serves tables from memory, keyed by locale. It ignores the plugin.
type MapSource map[string]map[string]string

// Vocabulary returns a copy of the table for locale.
func (m MapSource) Vocabulary(_ context.Context, _ string, locale string) (map[string]string, error) {
	table := m[locale]
	out := make(map[string]string, len(table))
	for k, v := range table {
		out[k] = v
	}
	return out, nil
}

// BundleSource reads bundled tables from TOML files laid out as
// <dir>/<pluginID>/<locale>.toml. Nested tables are flattened into dotted
// keys; non-string leaves are formatted with fmt.
type BundleSource struct {
	Dir string
}

// Vocabulary reads and flattens the bundle file. A missing file is an empty table.
func (b BundleSource) Vocabulary(ctx context.Context, pluginID, locale string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.ContainsAny(pluginID, `/\`) || strings.ContainsAny(locale, `/\`) {
		return nil, fmt.Errorf("invalid bundle coordinates %q/%q", pluginID, locale)
	}
	path := filepath.Join(b.Dir, pluginID, locale+".toml")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read vocabulary bundle %s: %w", path, err)
	}
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode vocabulary bundle %s: %w", path, err)
	}
	out := make(map[string]string)
	flatten("", doc, out)
	return out, nil
}

func flatten(prefix string, doc map[string]any, out map[string]string) {
	for key, value := range doc {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		switch v := value.(type) {
		case map[string]any:
			flatten(full, v, out)
		case string:
			out[full] = v
		default:
			out[full] = fmt.Sprint(v)
		}
	}
}

type cacheKey struct {
	pluginID string
	locale   string
}

// CachedSource memoizes successful lookups of another Source. It replaces a
// process-wide cache: construct one per host and Reset it when bundles change.
type CachedSource struct {
	inner Source
	mu    sync.RWMutex
	cache map[cacheKey]map[string]string
}

// NewCachedSource wraps inner.
func NewCachedSource(inner Source) *CachedSource {
	return &CachedSource{inner: inner, cache: make(map[cacheKey]map[string]string)}
}

// Vocabulary returns the cached table or loads and caches it.
func (c *CachedSource) Vocabulary(ctx context.Context, pluginID, locale string) (map[string]string, error) {
	key := cacheKey{pluginID: pluginID, locale: locale}
	c.mu.RLock()
	table, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return copyTable(table), nil
	}

	table, err := c.inner.Vocabulary(ctx, pluginID, locale)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.cache[key] = copyTable(table)
	c.mu.Unlock()
	return table, nil
}

// Reset drops every cached table.
func (c *CachedSource) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[cacheKey]map[string]string)
}

func copyTable(table map[string]string) map[string]string {
	out := make(map[string]string, len(table))
	for k, v := range table {
		out[k] = v
	}
	return out
}
