package vocab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ModeFull marks an envelope carrying the complete table.
const ModeFull = "full"

// ErrStale is returned by Load when a newer Load or a Reset superseded it.
// The stale result is discarded.
var ErrStale = errors.New("vocabulary load superseded")

// State is the vocabulary currently applied for a session.
type State struct {
	Locale     string
	Version    string
	Vocabulary map[string]string
}

// Envelope is a vocabulary snapshot as sent to a plugin.
type Envelope struct {
	Locale  string          `json:"locale"`
	Version string          `json:"version"`
	Payload EnvelopePayload `json:"payload"`
}

// EnvelopePayload carries the table itself.
type EnvelopePayload struct {
	Mode       string            `json:"mode"`
	Vocabulary map[string]string `json:"vocabulary"`
}

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	Local  Source // bundled with the plugin
	Host   Source // host-authoritative
	Logger *slog.Logger
}

// Loader merges local and host vocabularies for one plugin session and stamps
// each applied result with a monotonically increasing version.
type Loader struct {
	local Source
	host  Source
	log   *slog.Logger

	mu       sync.Mutex
	pluginID string
	counter  uint64
	seq      uint64
	state    *State
}

// NewLoader creates a Loader. Missing sources behave as empty tables.
func NewLoader(opts LoaderOptions) *Loader {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Loader{local: opts.Local, host: opts.Host, log: logger}
}

// Reset starts a new session for pluginID: the version counter returns to
// zero and any in-flight Load becomes stale.
func (l *Loader) Reset(pluginID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pluginID = pluginID
	l.counter = 0
	l.seq++
	l.state = nil
}

// Load fetches both tables concurrently, merges them and applies the result.
// A source that fails is logged and treated as empty; Load fails only when
// both do. ErrStale means a newer Load or Reset won.
func (l *Loader) Load(ctx context.Context, locale string) (State, error) {
	l.mu.Lock()
	l.seq++
	seq := l.seq
	pluginID := l.pluginID
	l.mu.Unlock()

	var local, host map[string]string
	var localErr, hostErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		local, localErr = fetch(gctx, l.local, pluginID, locale)
		return nil
	})
	g.Go(func() error {
		host, hostErr = fetch(gctx, l.host, pluginID, locale)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	if localErr != nil && hostErr != nil {
		return State{}, fmt.Errorf("load vocabulary %s/%s: %w", pluginID, locale, errors.Join(localErr, hostErr))
	}
	if localErr != nil {
		l.log.Warn("bundled vocabulary unavailable", "plugin_id", pluginID, "locale", locale, "error", localErr)
	}
	if hostErr != nil {
		l.log.Warn("host vocabulary unavailable", "plugin_id", pluginID, "locale", locale, "error", hostErr)
	}

	merged := Merge(local, host)

	l.mu.Lock()
	defer l.mu.Unlock()
	if seq != l.seq {
		return State{}, ErrStale
	}
	l.counter++
	state := State{Locale: locale, Version: l.versionLocked(locale), Vocabulary: merged}
	l.state = &state
	return copyState(state), nil
}

// Current returns the applied state, if any.
func (l *Loader) Current() (State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == nil {
		return State{}, false
	}
	return copyState(*l.state), true
}

// Version returns the version string for locale at the current counter.
func (l *Loader) Version(locale string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.versionLocked(locale)
}

func (l *Loader) versionLocked(locale string) string {
	return fmt.Sprintf("%s:%s:v%d", l.pluginID, locale, l.counter)
}

// BuildEnvelope wraps vocabulary for transmission, stamping the current version.
func (l *Loader) BuildEnvelope(locale string, vocabulary map[string]string) Envelope {
	if vocabulary == nil {
		vocabulary = map[string]string{}
	}
	return Envelope{
		Locale:  locale,
		Version: l.Version(locale),
		Payload: EnvelopePayload{Mode: ModeFull, Vocabulary: vocabulary},
	}
}

func fetch(ctx context.Context, src Source, pluginID, locale string) (map[string]string, error) {
	if src == nil {
		return map[string]string{}, nil
	}
	table, err := src.Vocabulary(ctx, pluginID, locale)
	if err != nil {
		return nil, err
	}
	if table == nil {
		table = map[string]string{}
	}
	return table, nil
}

func copyState(s State) State {
	s.Vocabulary = copyTable(s.Vocabulary)
	return s
}
