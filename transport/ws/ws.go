// Package ws connects plugins to the host over websockets. A plugin loaded in
// a surface dials back to the host; the connection is the plugin window and
// its Origin header is the sender origin of every message.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/machinefabric/cardbridge-go/bridge"
	"github.com/machinefabric/cardbridge-go/host"
)

// DefaultWriteTimeout bounds a single PostMessage.
const DefaultWriteTimeout = 5 * time.Second

// ErrOriginMismatch is returned when a message targets another origin than
// the connection's. Browsers drop such messages silently.
var ErrOriginMismatch = errors.New("target origin does not match plugin origin")

// Handler receives surface lifecycle and plugin messages. *host.Host
// implements it.
type Handler interface {
	HandleSurfaceLoad(ctx context.Context) error
	HandleMessage(ctx context.Context, ev bridge.MessageEvent) bool
}

// Conn is one plugin connection.
type Conn struct {
	id           string
	origin       string
	ws           *websocket.Conn
	ctx          context.Context
	writeTimeout time.Duration
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// Origin returns the origin the plugin connected from.
func (c *Conn) Origin() string { return c.origin }

// PostMessage writes payload as one JSON text message.
func (c *Conn) PostMessage(payload any, targetOrigin string) error {
	if targetOrigin != bridge.WildcardTarget && targetOrigin != c.origin {
		return ErrOriginMismatch
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.ws, payload)
}

// Options configures a Surface.
type Options struct {
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Surface implements host.Surface for websocket plugins. Navigate records the
// document the plugin should load and drops any previous connection; the
// first connection accepted by ServeHTTP afterwards becomes the live window
// and every later one is refused until the next navigation.
type Surface struct {
	log          *slog.Logger
	writeTimeout time.Duration

	mu      sync.Mutex
	handler Handler
	current *Conn
	url     string
	attrs   host.SurfaceAttrs
	height  int
	nav     uint64 // bumped on every Navigate
	pending bool   // nav still admits one connection
}

// NewSurface creates a Surface.
func NewSurface(opts Options) *Surface {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	timeout := opts.WriteTimeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &Surface{log: logger, writeTimeout: timeout}
}

// Bind sets the handler connections are delivered to.
func (s *Surface) Bind(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Window returns the live connection, or nil.
func (s *Surface) Window() bridge.Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current
}

// Navigate records url and closes the current connection.
func (s *Surface) Navigate(url string, attrs host.SurfaceAttrs) error {
	s.mu.Lock()
	old := s.current
	s.current = nil
	s.url = url
	s.attrs = attrs
	s.nav++
	s.pending = url != "" && url != host.BlankURL
	s.mu.Unlock()

	if old != nil {
		_ = old.ws.Close(websocket.StatusGoingAway, "navigated")
	}
	return nil
}

// URL returns the document the surface was last navigated to.
func (s *Surface) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// SetHeight records the plugin's requested height.
func (s *Surface) SetHeight(px int) {
	s.mu.Lock()
	s.height = px
	s.mu.Unlock()
}

// Height returns the last applied height.
func (s *Surface) Height() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.height
}

// ServeHTTP accepts a plugin connection and pumps its messages into the
// handler until it disconnects.
func (s *Surface) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	handler := s.handler
	if handler == nil || !s.pending || s.current != nil {
		s.mu.Unlock()
		http.Error(w, "no plugin is loading", http.StatusConflict)
		return
	}
	s.pending = false
	nav := s.nav
	s.mu.Unlock()

	// Origins are checked per message by the host pipeline.
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.log.Warn("plugin websocket accept failed", "error", err)
		s.mu.Lock()
		if s.nav == nav {
			s.pending = true
		}
		s.mu.Unlock()
		return
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = bridge.OpaqueOrigin
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := &Conn{id: uuid.NewString(), origin: origin, ws: c, ctx: ctx, writeTimeout: s.writeTimeout}
	s.mu.Lock()
	if s.nav != nav {
		s.mu.Unlock()
		_ = c.Close(websocket.StatusGoingAway, "navigated")
		return
	}
	s.current = conn
	s.mu.Unlock()
	s.log.Info("plugin connected", "conn_id", conn.id, "origin", origin)

	if err := handler.HandleSurfaceLoad(ctx); err != nil {
		s.log.Warn("surface load failed", "conn_id", conn.id, "error", err)
	}

	for {
		var data any
		if err := wsjson.Read(ctx, c, &data); err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				s.log.Debug("plugin connection ended", "conn_id", conn.id, "error", err)
			}
			break
		}
		handler.HandleMessage(ctx, bridge.MessageEvent{Source: conn, Origin: origin, Data: data})
	}

	s.mu.Lock()
	if s.current == conn {
		s.current = nil
	}
	s.mu.Unlock()
	_ = c.Close(websocket.StatusNormalClosure, "")
	s.log.Info("plugin disconnected", "conn_id", conn.id)
}
