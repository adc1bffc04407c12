package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/machinefabric/cardbridge-go/bridge"
	"github.com/machinefabric/cardbridge-go/resource"
	"github.com/machinefabric/cardbridge-go/vocab"
)

const (
	testDocumentURL = "chips://app/index.html"
	testEntryURL    = "https://plugins.example/notes/index.html"
	testOrigin      = "https://plugins.example"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeWindow struct {
	posts chan map[string]any
}

func newFakeWindow() *fakeWindow {
	return &fakeWindow{posts: make(chan map[string]any, 64)}
}

func (w *fakeWindow) PostMessage(payload any, _ string) error {
	msg, ok := payload.(map[string]any)
	if !ok {
		return fmt.Errorf("unexpected payload %T", payload)
	}
	w.posts <- msg
	return nil
}

func (w *fakeWindow) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case msg := <-w.posts:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a posted message")
		return nil
	}
}

func (w *fakeWindow) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case msg := <-w.posts:
		t.Fatalf("unexpected post: %v", msg)
	case <-time.After(wait):
	}
}

type navigation struct {
	url   string
	attrs SurfaceAttrs
}

type fakeSurface struct {
	mu      sync.Mutex
	window  *fakeWindow
	navs    []navigation
	heights []int
}

func (s *fakeSurface) Window() bridge.Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.window == nil {
		return nil
	}
	return s.window
}

func (s *fakeSurface) Navigate(url string, attrs SurfaceAttrs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navs = append(s.navs, navigation{url, attrs})
	if url == BlankURL {
		s.window = nil
	} else {
		s.window = newFakeWindow()
	}
	return nil
}

func (s *fakeSurface) SetHeight(px int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heights = append(s.heights, px)
}

func (s *fakeSurface) live() *fakeWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window
}

func (s *fakeSurface) lastNavigation() navigation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.navs[len(s.navs)-1]
}

type resolverMap map[string]Runtime

func (m resolverMap) ResolveRuntime(_ context.Context, cardType string) (Runtime, error) {
	rt, ok := m[cardType]
	if !ok {
		return Runtime{}, ErrNoRuntime
	}
	return rt, nil
}

type fakePermissions struct {
	grants map[string][]string
	calls  atomic.Int32
	err    error
}

func (p *fakePermissions) Permissions(_ context.Context, pluginID string) ([]string, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return p.grants[pluginID], nil
}

type savedConfig struct {
	card   Card
	config map[string]any
}

type fakeStore struct {
	mu      sync.Mutex
	saves   []savedConfig
	loads   map[string]map[string]any
	err     error
	started chan struct{}
	release chan struct{}
}

func (s *fakeStore) LoadConfig(_ context.Context, card Card) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneConfig(s.loads[card.ID]), nil
}

func (s *fakeStore) SaveConfig(_ context.Context, card Card, config map[string]any) (string, error) {
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := "/cards/" + card.ID + "/config.yaml"
	if s.err != nil {
		return path, s.err
	}
	s.saves = append(s.saves, savedConfig{card: card, config: config})
	return path, nil
}

func (s *fakeStore) saved() []savedConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]savedConfig(nil), s.saves...)
}

type fakeMinter struct {
	mu      sync.Mutex
	n       int
	revoked []string
}

func (m *fakeMinter) Mint(_ context.Context, fullPath string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n++
	return fmt.Sprintf("blob:%d:%s", m.n, fullPath), nil
}

func (m *fakeMinter) Revoke(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked = append(m.revoked, url)
}

type fakeComponent struct {
	mounted   map[string]any
	unmounted bool
}

func (c *fakeComponent) Mount(_ context.Context, _ Card, config map[string]any) error {
	c.mounted = config
	return nil
}

func (c *fakeComponent) Unmount(context.Context) error {
	c.unmounted = true
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func watch(h *Host) *eventLog {
	l := &eventLog{ch: make(chan Event, 128)}
	h.Subscribe(func(ev Event) {
		l.mu.Lock()
		l.events = append(l.events, ev)
		l.mu.Unlock()
		l.ch <- ev
	})
	return l
}

func (l *eventLog) waitFor(t *testing.T, typ EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-l.ch:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
			return Event{}
		}
	}
}

type fixture struct {
	host     *Host
	surface  *fakeSurface
	perms    *fakePermissions
	store    *fakeStore
	minter   *fakeMinter
	registry *resource.Registry
	gateway  GatewayFunc
	invokes  atomic.Int32
}

type fixtureOption func(*Options)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	f := &fixture{
		surface: &fakeSurface{},
		perms: &fakePermissions{grants: map[string][]string{
			"notes":  {"file.*", "Card.Read"},
			"sketch": {"*"},
		}},
		store:  &fakeStore{},
		minter: &fakeMinter{},
	}
	f.registry = resource.NewRegistry(resource.Options{Minter: f.minter, Logger: quietLogger()})
	f.gateway = func(_ context.Context, namespace, action string, params any) (any, error) {
		f.invokes.Add(1)
		switch {
		case namespace == "file" && action == "broken":
			return nil, errors.New("disk on fire")
		case namespace == "file" && action == "offline":
			return nil, bridge.ErrUnavailable
		case namespace == "file" && action == "quota":
			return nil, bridge.NewError("FILE_QUOTA", "quota exceeded").WithDetails(map[string]any{"limit": 10}).WithRetryable(false)
		}
		return map[string]any{"namespace": namespace, "action": action, "params": params}, nil
	}

	o := Options{
		Resolver: resolverMap{
			"note":   {Kind: RuntimeSurface, PluginID: "notes", EntryURL: testEntryURL},
			"sketch": {Kind: RuntimeSurface, PluginID: "sketch", EntryURL: "https://sketch.example/app/"},
		},
		Surface:     f.surface,
		Gateway:     f.gateway,
		Permissions: f.perms,
		Store:       f.store,
		Resources:   f.registry,
		Vocabulary: vocab.NewLoader(vocab.LoaderOptions{
			Local:  vocab.MapSource{"en": {"title": "Title", "save": "Save"}},
			Host:   vocab.MapSource{"en": {"title": "title", "save": "Store"}, "fr": {"title": "Titre"}},
			Logger: quietLogger(),
		}),
		Logger:          quietLogger(),
		DocumentURL:     testDocumentURL,
		Locale:          "en",
		Theme:           bridge.Theme{CSS: ":root{}", ThemeID: "light"},
		EmitDebounce:    10 * time.Millisecond,
		PersistDebounce: time.Hour,
	}
	for _, opt := range opts {
		opt(&o)
	}
	h, err := New(o)
	require.NoError(t, err)
	f.host = h
	t.Cleanup(func() { _ = h.Unload(context.Background()) })
	return f
}

// loadNote loads a note card and completes the surface load, returning the
// window and the init message.
func (f *fixture) loadNote(t *testing.T) (*fakeWindow, map[string]any) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.host.Load(ctx, Card{
		ID: "card-1", BaseCardID: "base-1", Type: "note", Path: "/cards/card-1",
		Config: map[string]any{"title": "Groceries"},
	}))
	w := f.surface.live()
	require.NotNil(t, w)
	require.NoError(t, f.host.HandleSurfaceLoad(ctx))
	return w, w.next(t)
}

// send delivers msg from the live window with the trusted origin.
func (f *fixture) send(msg map[string]any) bool {
	return f.host.HandleMessage(context.Background(), bridge.MessageEvent{
		Source: f.surface.Window(),
		Origin: testOrigin,
		Data:   msg,
	})
}

func (f *fixture) request(nonce, namespace, action string, params any) map[string]any {
	s := f.host.Session()
	msg := map[string]any{
		"type":         "bridge-request",
		"pluginId":     s.PluginID,
		"sessionNonce": s.SessionNonce,
		"requestId":    "req-" + nonce,
		"requestNonce": nonce,
		"namespace":    namespace,
		"action":       action,
	}
	if params != nil {
		msg["params"] = params
	}
	return msg
}

func (f *fixture) envelope(typ string, fields map[string]any) map[string]any {
	s := f.host.Session()
	msg := map[string]any{"type": typ, "pluginId": s.PluginID, "sessionNonce": s.SessionNonce}
	for k, v := range fields {
		msg[k] = v
	}
	return msg
}

func errorCode(msg map[string]any) string {
	e, _ := msg["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}
