package vocab

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoaderLoadMergesAndVersions(t *testing.T) {
	l := NewLoader(LoaderOptions{
		Local:  MapSource{"en-US": {"greeting": "Hello", "bye": "Bye"}},
		Host:   MapSource{"en-US": {"greeting": "greeting", "bye": "Goodbye"}},
		Logger: quietLogger(),
	})
	l.Reset("rich")

	state, err := l.Load(context.Background(), "en-US")
	require.NoError(t, err)
	assert.Equal(t, "rich:en-US:v1", state.Version)
	assert.Equal(t, map[string]string{"greeting": "Hello", "bye": "Goodbye"}, state.Vocabulary)

	state, err = l.Load(context.Background(), "fr-FR")
	require.NoError(t, err)
	assert.Equal(t, "rich:fr-FR:v2", state.Version)
	assert.Empty(t, state.Vocabulary)

	current, ok := l.Current()
	require.True(t, ok)
	assert.Equal(t, "fr-FR", current.Locale)
}

func TestLoaderResetRestartsCounter(t *testing.T) {
	l := NewLoader(LoaderOptions{Logger: quietLogger()})
	l.Reset("a")
	_, err := l.Load(context.Background(), "en")
	require.NoError(t, err)
	_, err = l.Load(context.Background(), "en")
	require.NoError(t, err)
	assert.Equal(t, "a:en:v2", l.Version("en"))

	l.Reset("b")
	_, ok := l.Current()
	assert.False(t, ok)
	assert.Equal(t, "b:en:v0", l.Version("en"))

	env := l.BuildEnvelope("en", nil)
	assert.Equal(t, Envelope{
		Locale:  "en",
		Version: "b:en:v0",
		Payload: EnvelopePayload{Mode: ModeFull, Vocabulary: map[string]string{}},
	}, env)
}

func TestLoaderDiscardsStaleLoad(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	slow := SourceFunc(func(ctx context.Context, _, locale string) (map[string]string, error) {
		if locale == "slow" {
			close(entered)
			<-release
		}
		return map[string]string{"k": locale}, nil
	})
	l := NewLoader(LoaderOptions{Host: slow, Logger: quietLogger()})
	l.Reset("p")

	errCh := make(chan error, 1)
	go func() {
		_, err := l.Load(context.Background(), "slow")
		errCh <- err
	}()
	<-entered

	state, err := l.Load(context.Background(), "fast")
	require.NoError(t, err)
	assert.Equal(t, "p:fast:v1", state.Version)

	close(release)
	assert.ErrorIs(t, <-errCh, ErrStale)

	current, ok := l.Current()
	require.True(t, ok)
	assert.Equal(t, "fast", current.Locale, "stale load must not overwrite newer state")
	assert.Equal(t, "p:fast:v1", current.Version)
}

func TestLoaderResetMakesInFlightLoadStale(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	slow := SourceFunc(func(ctx context.Context, _, _ string) (map[string]string, error) {
		close(entered)
		<-release
		return map[string]string{"k": "v"}, nil
	})
	l := NewLoader(LoaderOptions{Local: slow, Logger: quietLogger()})
	l.Reset("old")

	errCh := make(chan error, 1)
	go func() {
		_, err := l.Load(context.Background(), "en")
		errCh <- err
	}()
	<-entered
	l.Reset("new")
	close(release)

	assert.ErrorIs(t, <-errCh, ErrStale)
	_, ok := l.Current()
	assert.False(t, ok)
}

func TestLoaderSourceFailures(t *testing.T) {
	boom := SourceFunc(func(context.Context, string, string) (map[string]string, error) {
		return nil, errors.New("boom")
	})

	l := NewLoader(LoaderOptions{Local: boom, Host: MapSource{"en": {"a": "A"}}, Logger: quietLogger()})
	l.Reset("p")
	state, err := l.Load(context.Background(), "en")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "A"}, state.Vocabulary)

	l = NewLoader(LoaderOptions{Local: boom, Host: boom, Logger: quietLogger()})
	l.Reset("p")
	_, err = l.Load(context.Background(), "en")
	assert.Error(t, err)
}
