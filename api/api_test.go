package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/cardbridge-go/bridge"
	"github.com/machinefabric/cardbridge-go/host"
)

type nullSurface struct {
	mu  sync.Mutex
	url string
}

func (s *nullSurface) Window() bridge.Window { return nil }
func (s *nullSurface) Navigate(url string, _ host.SurfaceAttrs) error {
	s.mu.Lock()
	s.url = url
	s.mu.Unlock()
	return nil
}
func (s *nullSurface) SetHeight(int) {}

type memStore struct {
	mu    sync.Mutex
	saved []map[string]any
}

func (m *memStore) LoadConfig(context.Context, host.Card) (map[string]any, error) {
	return map[string]any{"title": "stored"}, nil
}

func (m *memStore) SaveConfig(_ context.Context, card host.Card, cfg map[string]any) (string, error) {
	m.mu.Lock()
	m.saved = append(m.saved, cfg)
	m.mu.Unlock()
	return "mem#" + card.ID, nil
}

type runtimes map[string]host.Runtime

func (r runtimes) ResolveRuntime(_ context.Context, cardType string) (host.Runtime, error) {
	rt, ok := r[cardType]
	if !ok {
		return host.Runtime{}, host.ErrNoRuntime
	}
	return rt, nil
}

func newTestServer(t *testing.T) (*host.Host, *memStore, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &memStore{}
	h, err := host.New(host.Options{
		Resolver:    runtimes{"note": {Kind: host.RuntimeSurface, PluginID: "notes", EntryURL: "https://plugins.example/notes/"}},
		Surface:     &nullSurface{},
		Store:       store,
		Logger:      logger,
		DocumentURL: "chips://host/index.html",
	})
	require.NoError(t, err)
	srv := httptest.NewServer(Routes(h, logger))
	t.Cleanup(srv.Close)
	return h, store, srv
}

func call(t *testing.T, srv *httptest.Server, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestLoadEditSaveUnload(t *testing.T) {
	h, store, srv := newTestServer(t)

	status, out := call(t, srv, http.MethodPost, "/card", CardRequest{ID: "c1", Type: "note"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "surface", out["state"])
	assert.Equal(t, map[string]any{"title": "stored"}, out["config"])
	session := out["session"].(map[string]any)
	assert.Equal(t, "notes", session["pluginId"])
	assert.Equal(t, h.Session().SessionNonce, session["sessionNonce"])

	status, out = call(t, srv, http.MethodPatch, "/card/config", map[string]any{"config": map[string]any{"title": "edited"}, "persist": false})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, out["dirty"])

	status, out = call(t, srv, http.MethodPost, "/card/config/save", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, out["dirty"])
	store.mu.Lock()
	require.Len(t, store.saved, 1)
	assert.Equal(t, "edited", store.saved[0]["title"])
	store.mu.Unlock()

	status, out = call(t, srv, http.MethodDelete, "/card", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "unloaded", out["state"])
	assert.Nil(t, out["session"])
}

func TestCancelRevertsEdits(t *testing.T) {
	_, _, srv := newTestServer(t)
	call(t, srv, http.MethodPost, "/card", CardRequest{ID: "c1", Type: "note"})
	call(t, srv, http.MethodPatch, "/card/config", map[string]any{"config": map[string]any{"title": "edited"}, "persist": false})

	status, out := call(t, srv, http.MethodPost, "/card/config/cancel", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, out["dirty"])
	assert.Equal(t, map[string]any{"title": "stored"}, out["config"])
}

// TEST325: A config edit without a persist flag is saved
func TestConfigEditPersistsByDefault(t *testing.T) {
	h, store, srv := newTestServer(t)
	call(t, srv, http.MethodPost, "/card", CardRequest{ID: "c1", Type: "note"})

	status, _ := call(t, srv, http.MethodPatch, "/card/config", map[string]any{"config": map[string]any{"title": "edited"}})
	require.Equal(t, http.StatusOK, status)

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.saved) == 1 && store.saved[0]["title"] == "edited"
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, dirty := h.Config()
		return !dirty
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLoadValidation(t *testing.T) {
	_, _, srv := newTestServer(t)

	status, out := call(t, srv, http.MethodPost, "/card", map[string]any{"id": "c1"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_CARD", out["error"].(map[string]any)["code"])

	status, out = call(t, srv, http.MethodPost, "/card", CardRequest{ID: "c1", Type: "sketch"})
	require.Equal(t, http.StatusOK, status, "unknown card types load with no editor")
	assert.Equal(t, "none", out["state"])
}

func TestLocaleRequiresValue(t *testing.T) {
	_, _, srv := newTestServer(t)
	status, _ := call(t, srv, http.MethodPut, "/locale", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, out := call(t, srv, http.MethodPut, "/locale", map[string]any{"locale": "de"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "de", out["locale"])
}

func TestThemeWithoutSession(t *testing.T) {
	_, _, srv := newTestServer(t)
	status, out := call(t, srv, http.MethodPut, "/theme", map[string]any{"css": "body{}", "themeId": "dark"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, out["delivered"])
}
