package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/machinefabric/cardbridge-go/api"
	"github.com/machinefabric/cardbridge-go/bridge"
	"github.com/machinefabric/cardbridge-go/config"
	"github.com/machinefabric/cardbridge-go/gateway"
	"github.com/machinefabric/cardbridge-go/host"
	"github.com/machinefabric/cardbridge-go/metrics"
	"github.com/machinefabric/cardbridge-go/resource"
	"github.com/machinefabric/cardbridge-go/store"
	"github.com/machinefabric/cardbridge-go/transport/stream"
	"github.com/machinefabric/cardbridge-go/transport/ws"
	"github.com/machinefabric/cardbridge-go/vocab"
)

const shutdownTimeout = 5 * time.Second

type app struct {
	cfg     *config.Config
	log     *slog.Logger
	host    *host.Host
	gateway *gateway.Registry
	handler http.Handler
	stream  *stream.Surface
	closers []func() error
}

func wireApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, retErr error) {
	a := &app{cfg: cfg, log: logger, gateway: gateway.NewRegistry()}
	defer func() {
		if retErr != nil {
			_ = a.Close()
		}
	}()

	configStore, permissions, err := a.wireStore(ctx)
	if err != nil {
		return nil, err
	}

	var hostVocab vocab.Source
	if cfg.Vocab.HostDir != "" {
		hostVocab = vocab.NewCachedSource(vocab.BundleSource{Dir: cfg.Vocab.HostDir})
	}
	loader := vocab.NewLoader(vocab.LoaderOptions{
		Local:  vocab.BundleSource{Dir: cfg.Vocab.BundleDir},
		Host:   hostVocab,
		Logger: logger,
	})

	router := chi.NewRouter()

	minter, err := a.wireMinter(ctx, router)
	if err != nil {
		return nil, err
	}
	resources := resource.NewRegistry(resource.Options{Minter: minter, CardRoot: cfg.Store.CardRoot, Logger: logger})

	recorder := metrics.NewRecorder("cardbridge")
	router.Handle("/metrics", recorder.Handler())

	var surface host.Surface
	var wsSurface *ws.Surface
	switch cfg.Transport {
	case "stream":
		hostOrigin, _ := bridge.ResolveTrustedOrigin(cfg.DocumentURL, "")
		a.stream = stream.NewSurface(stream.Options{HostOrigin: hostOrigin, Launcher: launchFilePlugins, Logger: logger})
		surface = a.stream
	default:
		wsSurface = ws.NewSurface(ws.Options{Logger: logger})
		router.Handle("/plugin/ws", wsSurface)
		surface = wsSurface
	}

	h, err := host.New(host.Options{
		Resolver:         newRuntimeTable(cfg.Runtimes),
		Surface:          surface,
		Gateway:          a.gateway,
		Permissions:      permissions,
		Store:            configStore,
		Vocabulary:       loader,
		Resources:        resources,
		Metrics:          recorder,
		Logger:           logger,
		DocumentURL:      cfg.DocumentURL,
		Locale:           cfg.Locale,
		NonceCapacity:    cfg.NonceCapacity,
		MinSurfaceHeight: cfg.MinSurfaceHeight,
		EmitDebounce:     cfg.EmitDebounce,
		PersistDebounce:  cfg.PersistDebounce,
		AutoSaveInterval: cfg.AutoSaveInterval,
	})
	if err != nil {
		return nil, err
	}
	a.host = h
	a.gateway.Register(gateway.ResourceNamespace, gateway.ResourceHandler{Registry: h.Resources()})

	if wsSurface != nil {
		wsSurface.Bind(h)
	}
	if a.stream != nil {
		a.stream.Bind(h)
	}

	router.Mount("/api", api.Routes(h, logger))
	a.handler = router
	return a, nil
}

func (a *app) wireStore(ctx context.Context) (host.ConfigStore, host.PermissionSource, error) {
	var manifest *store.Manifest
	if path := a.cfg.Permissions.Manifest; path != "" {
		m, err := store.LoadManifest(path)
		if err != nil {
			return nil, nil, err
		}
		manifest = m
	}

	switch a.cfg.Store.Driver {
	case "files":
		files := store.CardFiles{Root: a.cfg.Store.CardRoot}
		if manifest == nil {
			return files, nil, nil
		}
		return files, manifest, nil
	default:
		db, err := store.OpenSQLite(a.cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, db.Close)
		if manifest != nil {
			if err := manifest.Seed(ctx, db); err != nil {
				return nil, nil, fmt.Errorf("seed permissions: %w", err)
			}
		}
		return db, db, nil
	}
}

func (a *app) wireMinter(ctx context.Context, router chi.Router) (resource.Minter, error) {
	if a.cfg.Resources.Driver == "s3" {
		s3cfg := a.cfg.Resources.S3
		return resource.NewS3Minter(ctx, resource.S3Config{
			Region:          s3cfg.Region,
			Bucket:          s3cfg.Bucket,
			Prefix:          s3cfg.Prefix,
			Endpoint:        s3cfg.Endpoint,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
			PathStyle:       s3cfg.PathStyle,
			Expiry:          s3cfg.Expiry,
		})
	}
	objects := resource.NewObjectServer(resource.DirReader{}, a.publicURL()+"/resources")
	router.Mount("/resources", objects)
	return objects, nil
}

func (a *app) publicURL() string {
	if a.cfg.PublicURL != "" {
		return strings.TrimRight(a.cfg.PublicURL, "/")
	}
	return "http://" + a.cfg.Listen
}

// Run serves HTTP (and the stream listener) until ctx is cancelled, then
// unloads the current card so pending edits are saved.
func (a *app) Run(ctx context.Context) error {
	srv := &http.Server{Addr: a.cfg.Listen, Handler: a.handler, ReadHeaderTimeout: 10 * time.Second}

	var streamLn net.Listener
	if a.stream != nil && a.cfg.StreamListen != "" {
		ln, err := net.Listen("tcp", a.cfg.StreamListen)
		if err != nil {
			return fmt.Errorf("listen for plugin streams: %w", err)
		}
		streamLn = ln
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("listening", "addr", srv.Addr, "transport", a.cfg.Transport)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if streamLn != nil {
		g.Go(func() error { return a.acceptStreams(gctx, streamLn) })
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := a.host.Unload(shutdownCtx); err != nil {
			a.log.Warn("unload on shutdown failed", "error", err)
		}
		if streamLn != nil {
			_ = streamLn.Close()
		}
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (a *app) acceptStreams(ctx context.Context, ln net.Listener) error {
	a.log.Info("accepting plugin streams", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept plugin stream: %w", err)
		}
		go func() {
			if err := a.stream.Attach(ctx, conn, conn, conn); err != nil {
				a.log.Warn("plugin stream ended", "remote", conn.RemoteAddr().String(), "error", err)
			}
		}()
	}
}

// Close releases stores in reverse wiring order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log_level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

func launchFilePlugins(ctx context.Context, entryURL string) (io.ReadWriteCloser, error) {
	if strings.HasPrefix(entryURL, "file://") {
		return stream.ExecLauncher(ctx, entryURL)
	}
	return nil, nil
}

// runtimeTable resolves card types from the [[runtimes]] config entries.
type runtimeTable map[string]host.Runtime

func newRuntimeTable(entries []config.RuntimeConfig) runtimeTable {
	t := make(runtimeTable, len(entries))
	for _, e := range entries {
		rt := host.Runtime{Kind: host.RuntimeSurface, PluginID: e.PluginID, EntryURL: e.EntryURL}
		if e.EntryURL == "" {
			rt = host.Runtime{Kind: host.RuntimeNone}
		}
		t[e.CardType] = rt
	}
	return t
}

func (t runtimeTable) ResolveRuntime(_ context.Context, cardType string) (host.Runtime, error) {
	rt, ok := t[cardType]
	if !ok {
		return host.Runtime{}, host.ErrNoRuntime
	}
	return rt, nil
}
