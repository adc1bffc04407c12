package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"sync"

	"github.com/machinefabric/cardbridge-go/bridge"
	"github.com/machinefabric/cardbridge-go/host"
)

// ErrNotExpected is returned by Attach when no navigation is waiting for a
// plugin, including when its plugin is already attached.
var ErrNotExpected = errors.New("no plugin attach expected")

// Handler receives surface lifecycle and plugin messages. *host.Host
// implements it.
type Handler interface {
	MessageHandler
	HandleSurfaceLoad(ctx context.Context) error
}

// Launcher starts the plugin for an entry URL and returns its stream. A nil
// stream with a nil error leaves attaching to the caller.
type Launcher func(ctx context.Context, entryURL string) (io.ReadWriteCloser, error)

// Options configures a Surface.
type Options struct {
	// HostOrigin is announced to plugins in the handshake.
	HostOrigin string
	// Launcher, when set, starts a plugin on every navigation. Without it
	// plugins are attached by the caller (e.g. from a listener).
	Launcher Launcher
	Logger   *slog.Logger
}

// Surface implements host.Surface for stream plugins.
type Surface struct {
	hostOrigin string
	launch     Launcher
	log        *slog.Logger

	mu      sync.Mutex
	handler Handler
	current *Conn
	cancel  context.CancelFunc
	url     string
	height  int
	nav     uint64 // bumped on every Navigate
	pending bool   // nav still admits one attach
}

// NewSurface creates a Surface.
func NewSurface(opts Options) *Surface {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	origin := opts.HostOrigin
	if origin == "" {
		origin = bridge.HostScheme + "://host"
	}
	return &Surface{hostOrigin: origin, launch: opts.Launcher, log: logger}
}

// Bind sets the handler attached plugins are delivered to.
func (s *Surface) Bind(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Window returns the live plugin connection, or nil.
func (s *Surface) Window() bridge.Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current
}

// Navigate closes the current plugin and, with a Launcher, starts the plugin
// for url. A navigation admits exactly one plugin: the launched one, or the
// first caller of Attach when the Launcher declines url.
func (s *Surface) Navigate(url string, _ host.SurfaceAttrs) error {
	s.mu.Lock()
	old, cancel := s.current, s.cancel
	s.current, s.cancel = nil, nil
	s.url = url
	s.nav++
	nav := s.nav
	launch := s.launch
	s.pending = url != host.BlankURL && launch == nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if old != nil {
		_ = old.Close("navigated")
	}
	if url == host.BlankURL || launch == nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	rwc, err := launch(ctx, url)
	if err != nil {
		cancel()
		return fmt.Errorf("launch plugin %s: %w", url, err)
	}
	if rwc == nil {
		cancel()
		s.mu.Lock()
		if s.nav == nav {
			s.pending = true
		}
		s.mu.Unlock()
		return nil
	}
	s.mu.Lock()
	if s.nav != nav {
		s.mu.Unlock()
		cancel()
		_ = rwc.Close()
		return nil
	}
	s.cancel = cancel
	s.mu.Unlock()
	go func() {
		if err := s.serve(ctx, nav, false, rwc, rwc, rwc); err != nil {
			s.log.Warn("plugin stream ended", "url", url, "error", err)
		}
	}()
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

// Attach handshakes with a plugin on r/w, makes it the live window, signals
// surface load and serves its messages until the stream ends. Only the first
// attach after a navigation is admitted; a live window is never replaced.
func (s *Surface) Attach(ctx context.Context, r io.Reader, w io.Writer, closer io.Closer) error {
	s.mu.Lock()
	if s.handler == nil {
		s.mu.Unlock()
		closeQuietly(closer)
		return fmt.Errorf("stream surface has no handler")
	}
	if !s.pending || s.current != nil {
		s.mu.Unlock()
		closeQuietly(closer)
		return ErrNotExpected
	}
	s.pending = false
	nav := s.nav
	s.mu.Unlock()
	return s.serve(ctx, nav, true, r, w, closer)
}

// serve runs one admitted plugin. reopen gives the navigation back to Attach
// when the handshake fails.
func (s *Surface) serve(ctx context.Context, nav uint64, reopen bool, r io.Reader, w io.Writer, closer io.Closer) error {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler == nil {
		closeQuietly(closer)
		return fmt.Errorf("stream surface has no handler")
	}

	conn, err := Connect(r, w, closer, s.hostOrigin, s.log)
	if err != nil {
		closeQuietly(closer)
		s.mu.Lock()
		if reopen && s.nav == nav && s.current == nil {
			s.pending = true
		}
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	if s.nav != nav {
		s.mu.Unlock()
		_ = conn.Close("navigated")
		return ErrNotExpected
	}
	s.current = conn
	s.mu.Unlock()
	s.log.Info("plugin attached", "origin", conn.PeerOrigin(), "max_frame", conn.Limits().MaxFrame)

	if err := handler.HandleSurfaceLoad(ctx); err != nil {
		s.log.Warn("surface load failed", "error", err)
	}
	serveErr := conn.Serve(ctx, handler)

	s.mu.Lock()
	if s.current == conn {
		s.current = nil
	}
	s.mu.Unlock()
	return serveErr
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

// ExecLauncher starts file:// entry URLs as child processes speaking the
// stream protocol on stdin/stdout.
func ExecLauncher(ctx context.Context, entryURL string) (io.ReadWriteCloser, error) {
	u, err := url.Parse(entryURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "file" {
		return nil, fmt.Errorf("exec launcher needs a file:// url, got %q", entryURL)
	}

	cmd := exec.CommandContext(ctx, u.Path)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start plugin: %w", err)
	}
	return &process{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	once   sync.Once
}

func (p *process) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *process) Write(b []byte) (int, error) { return p.stdin.Write(b) }

func (p *process) Close() error {
	p.once.Do(func() {
		_ = p.stdin.Close()
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		_ = p.cmd.Wait()
	})
	return nil
}
