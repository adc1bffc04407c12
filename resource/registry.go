// Package resource turns card-relative resource paths into short-lived URLs a
// sandboxed plugin can load, and releases them deterministically.
package resource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"
)

// ErrNotFound is returned by readers and minters for unknown paths.
var ErrNotFound = errors.New("resource not found")

// ErrOutsideCard is returned for relative paths that escape the card root.
var ErrOutsideCard = errors.New("resource path escapes card root")

// Minter issues a URL for a resource and can later revoke it.
type Minter interface {
	Mint(ctx context.Context, fullPath string) (string, error)
	Revoke(url string)
}

// Resolved is a resource the registry currently holds a URL for.
type Resolved struct {
	FullPath string
	URL      string
	Source   string // the path the caller asked for
}

// Options configures a Registry.
type Options struct {
	Minter   Minter
	CardRoot string
	Logger   *slog.Logger
}

// Registry memoizes one URL per full path until it is released.
type Registry struct {
	minter Minter
	log    *slog.Logger

	mu       sync.Mutex
	cardRoot string
	entries  map[string]Resolved
}

// NewRegistry creates a Registry.
func NewRegistry(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Registry{
		minter:   opts.Minter,
		log:      logger,
		cardRoot: cleanPath(opts.CardRoot),
		entries:  make(map[string]Resolved),
	}
}

// SetCardRoot changes the root relative paths are resolved under.
func (r *Registry) SetCardRoot(root string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cardRoot = cleanPath(root)
}

// CardRoot returns the current card root.
func (r *Registry) CardRoot() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cardRoot
}

// Resolve returns the URL for fullPath, minting one on first use.
func (r *Registry) Resolve(ctx context.Context, fullPath string) (string, error) {
	fullPath = cleanPath(fullPath)
	return r.resolve(ctx, fullPath, fullPath)
}

func (r *Registry) resolve(ctx context.Context, fullPath, source string) (string, error) {
	if fullPath == "" {
		return "", fmt.Errorf("resolve resource: empty path")
	}
	r.mu.Lock()
	if entry, ok := r.entries[fullPath]; ok {
		r.mu.Unlock()
		return entry.URL, nil
	}
	r.mu.Unlock()

	if r.minter == nil {
		return "", fmt.Errorf("resolve resource %s: no minter configured", fullPath)
	}
	url, err := r.minter.Mint(ctx, fullPath)
	if err != nil {
		return "", fmt.Errorf("resolve resource %s: %w", fullPath, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[fullPath]; ok {
		// Lost a race with a concurrent Resolve: keep the first URL.
		r.minter.Revoke(url)
		return entry.URL, nil
	}
	r.entries[fullPath] = Resolved{FullPath: fullPath, URL: url, Source: source}
	return url, nil
}

// Release revokes and forgets the URL for fullPath. It reports whether an
// entry existed.
func (r *Registry) Release(fullPath string) bool {
	fullPath = cleanPath(fullPath)
	r.mu.Lock()
	entry, ok := r.entries[fullPath]
	if ok {
		delete(r.entries, fullPath)
	}
	r.mu.Unlock()
	if ok && r.minter != nil {
		r.minter.Revoke(entry.URL)
	}
	return ok
}

// FullPath joins a card-relative path under the card root.
func (r *Registry) FullPath(relPath string) (string, error) {
	rel := cleanRelative(relPath)
	if rel == "" {
		return "", fmt.Errorf("resource path %q: %w", relPath, ErrOutsideCard)
	}
	root := r.CardRoot()
	if root == "" {
		return "/" + rel, nil
	}
	return path.Join(root, rel), nil
}

// ResolveByRelativePath resolves a path relative to the card root.
func (r *Registry) ResolveByRelativePath(ctx context.Context, relPath string) (string, error) {
	fullPath, err := r.FullPath(relPath)
	if err != nil {
		return "", err
	}
	return r.resolve(ctx, fullPath, relPath)
}

// ReleaseByRelativePath releases the entry for a card-relative path.
//
// Callers sometimes only know a path that was normalized differently from the
// one used to resolve, so when no exact entry exists the registry looks for
// an entry whose full path ends with the relative path on a segment boundary.
// The fallback only fires when exactly one entry matches.
func (r *Registry) ReleaseByRelativePath(relPath string) bool {
	if fullPath, err := r.FullPath(relPath); err == nil && r.Release(fullPath) {
		return true
	}

	rel := cleanRelative(relPath)
	if rel == "" {
		return false
	}
	suffix := "/" + rel

	r.mu.Lock()
	var matches []string
	for key := range r.entries {
		if key == rel || strings.HasSuffix(key, suffix) {
			matches = append(matches, key)
		}
	}
	r.mu.Unlock()

	switch len(matches) {
	case 0:
		return false
	case 1:
		return r.Release(matches[0])
	default:
		r.log.Warn("ambiguous resource release ignored", "path", relPath, "matches", len(matches))
		return false
	}
}

// ReleaseAll revokes every URL and returns how many were released.
func (r *Registry) ReleaseAll() int {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]Resolved)
	r.mu.Unlock()

	if r.minter != nil {
		for _, entry := range entries {
			r.minter.Revoke(entry.URL)
		}
	}
	return len(entries)
}

// Lookup returns the entry for fullPath.
func (r *Registry) Lookup(fullPath string) (Resolved, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[cleanPath(fullPath)]
	return entry, ok
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func cleanPath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, `\`, "/"))
	if p == "" {
		return ""
	}
	return path.Clean(p)
}

// cleanRelative normalizes a card-relative path, returning "" when it is
// empty or climbs above the card root.
func cleanRelative(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, `\`, "/"))
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return ""
	}
	return p
}
