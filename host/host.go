// Package host runs a card editor plugin for one card at a time. It selects
// the runtime, owns the bridge session, validates every inbound message and
// drives config persistence.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"reflect"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/machinefabric/cardbridge-go/bridge"
	"github.com/machinefabric/cardbridge-go/resource"
	"github.com/machinefabric/cardbridge-go/vocab"
)

// Defaults for Options fields left zero.
const (
	DefaultMinSurfaceHeight = 120
	DefaultEmitDebounce     = 150 * time.Millisecond
	DefaultPersistDebounce  = 800 * time.Millisecond
	DefaultLocale           = "en"
)

// MaxSurfaceHeight caps resize requests.
const MaxSurfaceHeight = math.MaxInt32

// State is the host lifecycle state.
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateComponent
	StateSurface
	StateNone
	StateUnloading
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateComponent:
		return "component"
	case StateSurface:
		return "surface"
	case StateNone:
		return "none"
	case StateUnloading:
		return "unloading"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Drop stages reported to MetricsRecorder.Dropped.
const (
	DropState    = "state"
	DropSource   = "source"
	DropOrigin   = "origin"
	DropType     = "type"
	DropIdentity = "identity"
	DropShape    = "shape"
	DropUnknown  = "unknown"
)

// Options configures a Host. Resolver and Surface are required.
type Options struct {
	Resolver    RuntimeResolver
	Surface     Surface
	Gateway     Gateway
	Permissions PermissionSource
	Store       ConfigStore
	Vocabulary  *vocab.Loader
	Resources   *resource.Registry
	Validator   *bridge.ShapeValidator
	Metrics     MetricsRecorder
	Logger      *slog.Logger

	// DocumentURL is the URL plugin entry URLs resolve against.
	DocumentURL string
	Locale      string
	Theme       bridge.Theme
	I18n        any

	NonceCapacity    int
	MinSurfaceHeight int
	EmitDebounce     time.Duration
	PersistDebounce  time.Duration
	AutoSaveInterval time.Duration // zero disables auto-save

	NewSessionNonce func() string
}

// Host owns one plugin editor lifecycle.
type Host struct {
	resolver    RuntimeResolver
	surface     Surface
	gateway     Gateway
	permissions PermissionSource
	store       ConfigStore
	vocab       *vocab.Loader
	resources   *resource.Registry
	validator   *bridge.ShapeValidator
	metrics     MetricsRecorder
	log         *slog.Logger
	channel     *bridge.Channel
	saves       *SaveQueue
	subs        subscribers
	permLoads   singleflight.Group
	newNonce    func() string

	documentURL     string
	minHeight       int
	emitDebounce    time.Duration
	persistDebounce time.Duration
	autoSave        time.Duration

	// lifecycle serializes Load and Unload.
	lifecycle sync.Mutex

	mu          sync.Mutex
	state       State
	card        Card
	runtime     Runtime
	session     SessionContext
	tracker     *bridge.NonceTracker
	permSeq     uint64
	config      configState
	cardGen     uint64 // bumped whenever config is reset for another card
	locale      string
	theme       bridge.Theme
	i18n        any
	emitPending bool
	emitGen     uint64
	emitTimer   *time.Timer
	persistGen  uint64
	persistTmr  *time.Timer
	autoStop    chan struct{}
}

// New creates a Host in the unloaded state.
func New(opts Options) (*Host, error) {
	if opts.Resolver == nil {
		return nil, errors.New("host: resolver is required")
	}
	if opts.Surface == nil {
		return nil, errors.New("host: surface is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	h := &Host{
		resolver:        opts.Resolver,
		surface:         opts.Surface,
		gateway:         opts.Gateway,
		permissions:     opts.Permissions,
		store:           opts.Store,
		vocab:           opts.Vocabulary,
		resources:       opts.Resources,
		validator:       opts.Validator,
		metrics:         opts.Metrics,
		log:             logger,
		newNonce:        opts.NewSessionNonce,
		documentURL:     opts.DocumentURL,
		minHeight:       opts.MinSurfaceHeight,
		emitDebounce:    opts.EmitDebounce,
		persistDebounce: opts.PersistDebounce,
		autoSave:        opts.AutoSaveInterval,
		tracker:         bridge.NewNonceTracker(opts.NonceCapacity),
		locale:          opts.Locale,
		theme:           opts.Theme,
		i18n:            opts.I18n,
	}
	if h.vocab == nil {
		h.vocab = vocab.NewLoader(vocab.LoaderOptions{Logger: logger})
	}
	if h.resources == nil {
		h.resources = resource.NewRegistry(resource.Options{Logger: logger})
	}
	if h.validator == nil {
		v, err := bridge.NewShapeValidator()
		if err != nil {
			return nil, fmt.Errorf("host: %w", err)
		}
		h.validator = v
	}
	if h.metrics == nil {
		h.metrics = noopMetrics{}
	}
	if h.newNonce == nil {
		h.newNonce = bridge.GenerateSessionNonce
	}
	if h.minHeight <= 0 {
		h.minHeight = DefaultMinSurfaceHeight
	}
	if h.emitDebounce <= 0 {
		h.emitDebounce = DefaultEmitDebounce
	}
	if h.persistDebounce <= 0 {
		h.persistDebounce = DefaultPersistDebounce
	}
	if h.locale == "" {
		h.locale = DefaultLocale
	}

	h.channel = bridge.NewChannel(bridge.ChannelOptions{
		Window:        h.liveWindow,
		TrustedOrigin: h.trustedOrigin,
		Logger:        logger,
	})
	h.saves = NewSaveQueue(h.persistOnce)
	return h, nil
}

// Subscribe registers fn for host events. Call the returned func to stop.
// fn runs on the goroutine that caused the event and must not block.
func (h *Host) Subscribe(fn func(Event)) (cancel func()) {
	return h.subs.add(fn)
}

// State returns the lifecycle state.
func (h *Host) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Session returns a snapshot of the active session.
func (h *Host) Session() SessionContext {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session.Clone()
}

// Card returns the loaded card.
func (h *Host) Card() Card {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.card
}

// Config returns a copy of the local config and whether it has unsaved edits.
func (h *Host) Config() (map[string]any, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return cloneConfig(h.config.local), h.config.dirty
}

// Resources returns the resource registry serving the loaded card.
func (h *Host) Resources() *resource.Registry {
	return h.resources
}

// Load shows card. A change of card type or base card id unloads the current
// runtime and resolves a new one; otherwise only the card identity and its
// external config are refreshed.
func (h *Host) Load(ctx context.Context, card Card) error {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	h.mu.Lock()
	same := h.state != StateUnloaded && h.card.Type == card.Type && h.card.BaseCardID == card.BaseCardID
	if same {
		h.card.ID = card.ID
		h.card.Path = card.Path
	}
	h.mu.Unlock()

	if same {
		h.resources.SetCardRoot(card.Path)
		if card.Config != nil {
			h.SetExternalConfig(card.Config)
		}
		return nil
	}

	if err := h.unload(ctx); err != nil {
		h.log.Warn("unload before load failed", "card_id", card.ID, "error", err)
	}

	config := card.Config
	if config == nil && h.store != nil {
		loaded, err := h.store.LoadConfig(ctx, card)
		if err != nil {
			h.log.Warn("load card config failed", "card_id", card.ID, "error", err)
		}
		config = loaded
	}

	h.mu.Lock()
	h.card = card
	h.card.Config = nil
	h.config.reset(config)
	h.cardGen++
	h.state = StateLoading
	h.mu.Unlock()
	h.resources.SetCardRoot(card.Path)
	h.publishState(StateLoading)

	rt, err := h.resolver.ResolveRuntime(ctx, card.Type)
	if errors.Is(err, ErrNoRuntime) {
		rt, err = Runtime{Kind: RuntimeNone}, nil
	}
	if err != nil {
		return h.failLoad(&Error{Kind: ErrorKindRuntime, CardID: card.ID, BaseCardID: card.BaseCardID, Err: err})
	}

	switch rt.Kind {
	case RuntimeComponent:
		return h.enterComponent(ctx, card, rt)
	case RuntimeSurface:
		return h.enterSurface(ctx, card, rt)
	default:
		h.log.Info("no editor runtime", "card_id", card.ID, "card_type", card.Type)
		h.setState(StateNone)
		return nil
	}
}

func (h *Host) failLoad(err *Error) error {
	h.log.Error("plugin load failed", "card_id", err.CardID, "base_card_id", err.BaseCardID, "error", err.Err)
	h.setState(StateNone)
	h.subs.publish(Event{Type: EventError, Err: err})
	return err
}

func (h *Host) enterComponent(ctx context.Context, card Card, rt Runtime) error {
	if rt.Component == nil {
		return h.failLoad(&Error{Kind: ErrorKindRuntime, CardID: card.ID, BaseCardID: card.BaseCardID, Err: errors.New("component runtime without component")})
	}
	config, _ := h.Config()
	if err := rt.Component.Mount(ctx, card, config); err != nil {
		return h.failLoad(&Error{Kind: ErrorKindRuntime, CardID: card.ID, BaseCardID: card.BaseCardID, Err: err})
	}
	h.mu.Lock()
	h.runtime = rt
	h.state = StateComponent
	h.startAutoSaveLocked()
	h.mu.Unlock()
	h.publishState(StateComponent)
	return nil
}

func (h *Host) enterSurface(ctx context.Context, card Card, rt Runtime) error {
	origin, ok := bridge.ResolveTrustedOrigin(rt.EntryURL, h.documentURL)
	if !ok {
		return h.failLoad(&Error{Kind: ErrorKindRuntime, CardID: card.ID, BaseCardID: card.BaseCardID, Err: fmt.Errorf("unparsable entry url %q", rt.EntryURL)})
	}

	h.mu.Lock()
	h.runtime = rt
	h.rotateSessionLocked(SessionContext{
		PluginID:      rt.PluginID,
		SessionNonce:  h.newNonce(),
		TrustedOrigin: origin,
		Permissions:   bridge.PermissionSet{},
	})
	h.state = StateSurface
	h.startAutoSaveLocked()
	session := h.session.Clone()
	h.mu.Unlock()

	h.vocab.Reset(rt.PluginID)
	h.subs.publish(Event{Type: EventSessionChanged, Session: session})
	h.publishState(StateSurface)

	go func() {
		if _, err := h.ensurePermissions(context.WithoutCancel(ctx)); err != nil {
			h.log.Warn("permission load failed", "plugin_id", rt.PluginID, "error", err)
		}
	}()

	attrs := SurfaceAttrs{Sandbox: SandboxPolicy, ReferrerPolicy: ReferrerPolicy}
	if err := h.surface.Navigate(rt.EntryURL, attrs); err != nil {
		herr := &Error{Kind: ErrorKindNavigate, CardID: card.ID, BaseCardID: card.BaseCardID, Err: err}
		h.log.Error("surface navigation failed", "card_id", card.ID, "url", rt.EntryURL, "error", err)
		h.subs.publish(Event{Type: EventError, Err: herr})
		return herr
	}
	h.log.Info("plugin surface loading", "plugin_id", rt.PluginID, "card_id", card.ID, "origin", origin)
	return nil
}

// rotateSessionLocked installs a new session and resets everything keyed to
// the previous one.
func (h *Host) rotateSessionLocked(next SessionContext) {
	h.session = next
	h.tracker.Reset()
	h.permSeq++
}

// HandleSurfaceLoad is called by the surface once the plugin document is
// loaded. It loads vocabulary and sends init.
func (h *Host) HandleSurfaceLoad(ctx context.Context) error {
	h.mu.Lock()
	if h.state != StateSurface {
		h.mu.Unlock()
		return nil
	}
	nonce := h.session.SessionNonce
	locale := h.locale
	card := h.card
	h.mu.Unlock()

	state, err := h.vocab.Load(ctx, locale)
	if err != nil {
		if !errors.Is(err, vocab.ErrStale) {
			h.log.Warn("vocabulary load failed", "card_id", card.ID, "locale", locale, "error", err)
		}
		if current, ok := h.vocab.Current(); ok && current.Locale == locale {
			state = current
		} else {
			state = vocab.State{Locale: locale, Version: h.vocab.Version(locale), Vocabulary: map[string]string{}}
		}
	}

	h.mu.Lock()
	if h.state != StateSurface || h.session.SessionNonce != nonce {
		h.mu.Unlock()
		return nil
	}
	payload := bridge.InitPayload{
		Config:            cloneConfig(h.config.local),
		Bridge:            h.session.Identity(),
		Theme:             h.theme,
		Resources:         bridge.ResourceContext{CardID: h.card.ID, CardPath: h.card.Path},
		Locale:            state.Locale,
		VocabularyVersion: state.Version,
		Vocabulary:        state.Vocabulary,
		I18n:              h.i18n,
	}
	h.mu.Unlock()

	if !h.channel.Post(bridge.InitMessage(payload)) {
		herr := &Error{Kind: ErrorKindInit, CardID: card.ID, BaseCardID: card.BaseCardID, Err: errors.New("init post failed")}
		h.log.Error("plugin init failed", "card_id", card.ID, "plugin_id", payload.Bridge.PluginID)
		h.subs.publish(Event{Type: EventError, Err: herr})
		return herr
	}
	h.log.Debug("plugin init sent", "plugin_id", payload.Bridge.PluginID, "vocabulary_version", state.Version)
	return nil
}

// HandleMessage runs an inbound message through the validation pipeline and
// dispatches it. It reports whether the message was accepted. Rejected
// messages are dropped without a reply.
func (h *Host) HandleMessage(ctx context.Context, ev bridge.MessageEvent) bool {
	h.mu.Lock()
	state := h.state
	session := h.session.Identity()
	trusted := h.session.TrustedOrigin
	h.mu.Unlock()

	if state != StateSurface {
		return h.drop(DropState, ev)
	}
	if !sameWindow(ev.Source, h.liveWindow()) {
		return h.drop(DropSource, ev)
	}
	if !bridge.IsTrustedOrigin(ev.Origin, trusted) {
		return h.drop(DropOrigin, ev)
	}
	msg, typ, ok := bridge.TypeOf(ev.Data)
	if !ok {
		return h.drop(DropType, ev)
	}
	if !bridge.IsTrustedEnvelope(msg, session.PluginID, session.SessionNonce) {
		return h.drop(DropIdentity, ev)
	}
	if err := h.validator.Validate(typ, msg); err != nil {
		h.log.Debug("inbound message has wrong shape", "type", typ, "error", err)
		return h.drop(DropShape, ev)
	}

	switch typ {
	case bridge.TypeBridgeRequest:
		req, ok := bridge.DecodeRequest(msg)
		if !ok {
			return h.drop(DropShape, ev)
		}
		go h.handleRequest(context.WithoutCancel(ctx), req)
	case bridge.TypeConfigUpdate:
		partial, _ := msg[bridge.FieldConfig].(map[string]any)
		persist := true
		if p, ok := msg[bridge.FieldPersist].(bool); ok {
			persist = p
		}
		h.UpdateConfig(ctx, partial, persist)
	case bridge.TypeEditorCancel:
		h.CancelEdits()
	case bridge.TypeResize:
		h.resize(msg[bridge.FieldHeight])
	default:
		return h.drop(DropUnknown, ev)
	}
	return true
}

func (h *Host) drop(stage string, ev bridge.MessageEvent) bool {
	h.metrics.Dropped(stage)
	h.log.Debug("inbound message dropped", "stage", stage, "origin", ev.Origin)
	return false
}

func (h *Host) handleRequest(ctx context.Context, req bridge.Request) {
	reply := func(result any, berr *bridge.Error) {
		resp := bridge.Response{
			Identity:     req.Identity,
			RequestID:    req.RequestID,
			RequestNonce: req.RequestNonce,
			Result:       result,
			Error:        berr,
		}
		if berr != nil {
			h.metrics.BridgeError(berr.Code)
			h.log.Debug("bridge request failed", "namespace", req.Namespace, "action", req.Action, "code", berr.Code)
		}
		h.channel.Post(resp.Message())
	}

	h.mu.Lock()
	identityOK := h.session.Active() &&
		h.session.PluginID == req.PluginID &&
		h.session.SessionNonce == req.SessionNonce
	fresh := identityOK && h.tracker.Track(req.RequestNonce)
	h.mu.Unlock()

	if !identityOK {
		reply(nil, bridge.NewError(bridge.CodeTrustRejected, "session identity mismatch"))
		return
	}
	if !fresh {
		reply(nil, bridge.NewError(bridge.CodeReplayBlocked, "request nonce already used"))
		return
	}
	if !bridge.ValidTarget(req.Namespace, req.Action) {
		reply(nil, bridge.NewError(bridge.CodeInvalidTarget, "invalid namespace or action").
			WithDetails(map[string]any{"namespace": req.Namespace, "action": req.Action}))
		return
	}

	perms, err := h.ensurePermissions(ctx)
	if err != nil {
		h.log.Warn("permission load failed", "plugin_id", req.PluginID, "error", err)
	}
	if !bridge.HasRoutePermission(perms, req.Namespace, req.Action) {
		reply(nil, bridge.NewError(bridge.CodePermissionDenied, "permission denied").
			WithDetails(map[string]any{
				"namespace": req.Namespace,
				"action":    req.Action,
				"required":  bridge.RouteKey(req.Namespace, req.Action),
			}))
		return
	}

	if h.gateway == nil {
		reply(nil, bridge.NormalizeError(bridge.ErrUnavailable))
		return
	}

	start := time.Now()
	result, err := h.gateway.Invoke(ctx, req.Namespace, req.Action, req.Params)
	h.metrics.Observe(ctx, "invoke", err == nil, time.Since(start))
	if err != nil {
		reply(nil, bridge.NormalizeError(err))
		return
	}
	reply(result, nil)
}

// ensurePermissions returns the session's permissions, loading them once per
// session. Concurrent callers share one load. A load that completes after the
// session rotated is discarded. On failure the empty set is returned and the
// next call retries.
func (h *Host) ensurePermissions(ctx context.Context) (bridge.PermissionSet, error) {
	h.mu.Lock()
	if h.session.PermissionsLoaded {
		perms := h.session.Clone().Permissions
		h.mu.Unlock()
		return perms, nil
	}
	seq := h.permSeq
	pluginID := h.session.PluginID
	key := h.session.SessionNonce
	h.mu.Unlock()

	if key == "" {
		return bridge.PermissionSet{}, nil
	}

	v, err, _ := h.permLoads.Do(key, func() (any, error) {
		var granted []string
		if h.permissions != nil {
			var err error
			start := time.Now()
			granted, err = h.permissions.Permissions(ctx, pluginID)
			h.metrics.Observe(ctx, "permissions", err == nil, time.Since(start))
			if err != nil {
				return bridge.PermissionSet{}, fmt.Errorf("load permissions for %s: %w", pluginID, err)
			}
		}
		set := bridge.NewPermissionSet(granted...)

		h.mu.Lock()
		defer h.mu.Unlock()
		if seq != h.permSeq {
			return bridge.PermissionSet{}, nil
		}
		h.session.Permissions = set
		h.session.PermissionsLoaded = true
		return set, nil
	})
	perms, _ := v.(bridge.PermissionSet)
	if perms == nil {
		perms = bridge.PermissionSet{}
	}
	return perms, err
}

// UpdateConfig merges partial into the local config. The change notification
// is debounced. With persist the config is saved now, otherwise a debounced
// save is scheduled.
func (h *Host) UpdateConfig(ctx context.Context, partial map[string]any, persist bool) {
	h.mu.Lock()
	h.config.merge(partial)
	h.scheduleEmitLocked()
	if !persist {
		h.schedulePersistLocked()
	}
	h.mu.Unlock()

	if persist {
		go func() {
			_ = h.SaveConfig(context.WithoutCancel(ctx))
		}()
	}
}

// CancelEdits reverts the local config to the last external config.
func (h *Host) CancelEdits() {
	h.mu.Lock()
	h.config.revert()
	h.emitPending = false
	h.emitGen++
	h.persistGen++
	stopTimer(h.emitTimer)
	stopTimer(h.persistTmr)
	config := cloneConfig(h.config.local)
	h.mu.Unlock()
	h.subs.publish(Event{Type: EventConfigChanged, Config: config})
}

// SetExternalConfig records config provided from outside. Without unsaved
// edits it also replaces the local config.
func (h *Host) SetExternalConfig(config map[string]any) {
	h.mu.Lock()
	changed := h.config.setExternal(config)
	local := cloneConfig(h.config.local)
	h.mu.Unlock()
	if changed {
		h.subs.publish(Event{Type: EventConfigChanged, Config: local})
	}
}

// SaveConfig flushes a pending change notification and persists the local
// config through the save queue.
func (h *Host) SaveConfig(ctx context.Context) error {
	h.flushEmit()
	return h.saves.Persist(ctx)
}

func (h *Host) persistOnce(ctx context.Context) error {
	h.mu.Lock()
	if h.store == nil {
		h.mu.Unlock()
		return nil
	}
	card := h.card
	gen := h.cardGen
	config := cloneConfig(h.config.local)
	h.config.dirty = false
	h.mu.Unlock()

	start := time.Now()
	path, err := h.store.SaveConfig(ctx, card, config)
	h.metrics.Observe(ctx, "persist", err == nil, time.Since(start))

	// the card may have been unloaded while the save ran; its result must
	// not leak into the next card's config
	h.mu.Lock()
	stale := gen != h.cardGen
	if err != nil && !stale {
		h.config.dirty = true
	}
	if err == nil && !stale {
		h.config.external = cloneConfig(config)
	}
	h.mu.Unlock()

	if err != nil {
		herr := &Error{Kind: ErrorKindPersist, CardID: card.ID, BaseCardID: card.BaseCardID, Path: path, Err: err}
		h.log.Error("persist card config failed",
			"card_id", card.ID, "base_card_id", card.BaseCardID, "path", path, "error", err)
		h.subs.publish(Event{Type: EventError, Err: herr})
		return herr
	}
	if stale {
		h.log.Debug("save finished after card unload", "card_id", card.ID, "path", path)
		return nil
	}
	h.subs.publish(Event{Type: EventSaved, Config: config})
	return nil
}

func (h *Host) scheduleEmitLocked() {
	h.emitPending = true
	h.emitGen++
	gen := h.emitGen
	stopTimer(h.emitTimer)
	h.emitTimer = time.AfterFunc(h.emitDebounce, func() {
		h.mu.Lock()
		current := gen == h.emitGen
		h.mu.Unlock()
		if current {
			h.flushEmit()
		}
	})
}

// flushEmit publishes a pending config change now.
func (h *Host) flushEmit() {
	h.mu.Lock()
	if !h.emitPending {
		h.mu.Unlock()
		return
	}
	h.emitPending = false
	h.emitGen++
	stopTimer(h.emitTimer)
	h.emitTimer = nil
	config := cloneConfig(h.config.local)
	h.mu.Unlock()
	h.subs.publish(Event{Type: EventConfigChanged, Config: config})
}

func (h *Host) schedulePersistLocked() {
	h.persistGen++
	gen := h.persistGen
	stopTimer(h.persistTmr)
	h.persistTmr = time.AfterFunc(h.persistDebounce, func() {
		h.mu.Lock()
		current := gen == h.persistGen
		h.mu.Unlock()
		if current {
			_ = h.SaveConfig(context.Background())
		}
	})
}

func (h *Host) startAutoSaveLocked() {
	if h.autoSave <= 0 {
		return
	}
	stop := make(chan struct{})
	h.autoStop = stop
	go func() {
		ticker := time.NewTicker(h.autoSave)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				h.mu.Lock()
				dirty := h.config.dirty
				h.mu.Unlock()
				if dirty {
					_ = h.SaveConfig(context.Background())
				}
			}
		}
	}()
}

func (h *Host) stopTimersLocked() {
	h.emitGen++
	h.persistGen++
	stopTimer(h.emitTimer)
	stopTimer(h.persistTmr)
	h.emitTimer = nil
	h.persistTmr = nil
	if h.autoStop != nil {
		close(h.autoStop)
		h.autoStop = nil
	}
}

func (h *Host) resize(v any) {
	height, ok := toFloat(v)
	if !ok || math.IsNaN(height) || math.IsInf(height, 0) {
		return
	}
	if height > MaxSurfaceHeight {
		height = MaxSurfaceHeight
	}
	px := int(math.Round(height))
	if px < h.minHeight {
		px = h.minHeight
	}
	h.surface.SetHeight(px)
}

// SetTheme records the theme and broadcasts it to a loaded plugin.
func (h *Host) SetTheme(theme bridge.Theme) bool {
	h.mu.Lock()
	h.theme = theme
	id, live := h.session.Identity(), h.state == StateSurface
	h.mu.Unlock()
	if !live {
		return false
	}
	return h.channel.Post(bridge.ThemeChangeMessage(id, theme))
}

// SetLocale records the locale and, for a loaded plugin, reloads its
// vocabulary and broadcasts language-change.
func (h *Host) SetLocale(ctx context.Context, locale string) error {
	h.mu.Lock()
	h.locale = locale
	nonce, live := h.session.SessionNonce, h.state == StateSurface
	card := h.card
	h.mu.Unlock()
	if !live {
		return nil
	}

	state, err := h.vocab.Load(ctx, locale)
	if errors.Is(err, vocab.ErrStale) {
		return nil
	}
	if err != nil {
		herr := &Error{Kind: ErrorKindVocabulary, CardID: card.ID, BaseCardID: card.BaseCardID, Err: err}
		h.log.Warn("vocabulary reload failed", "card_id", card.ID, "locale", locale, "error", err)
		h.subs.publish(Event{Type: EventError, Err: herr})
		return herr
	}

	h.mu.Lock()
	if h.session.SessionNonce != nonce || h.state != StateSurface {
		h.mu.Unlock()
		return nil
	}
	id, i18n := h.session.Identity(), h.i18n
	h.mu.Unlock()
	h.channel.Post(bridge.LanguageChangeMessage(id, state.Locale, state.Version, state.Vocabulary, i18n))
	return nil
}

// Unload tears the runtime down: timers stop, unsaved edits are saved,
// resources are released and the session is cleared.
func (h *Host) Unload(ctx context.Context) error {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()
	return h.unload(ctx)
}

func (h *Host) unload(ctx context.Context) error {
	h.mu.Lock()
	if h.state == StateUnloaded {
		h.mu.Unlock()
		return nil
	}
	prev := h.state
	rt := h.runtime
	card := h.card
	h.state = StateUnloading
	h.stopTimersLocked()
	dirty := h.config.dirty
	h.mu.Unlock()
	h.publishState(StateUnloading)

	var errs []error
	h.flushEmit()
	if dirty {
		if err := h.SaveConfig(ctx); err != nil {
			errs = append(errs, err)
		}
	} else if err := h.saves.Wait(ctx); err != nil {
		// the in-flight save already reported its own failure
		h.log.Debug("in-flight save did not complete before unload", "card_id", card.ID, "error", err)
	}
	if prev == StateComponent && rt.Component != nil {
		if err := rt.Component.Unmount(ctx); err != nil {
			h.log.Warn("component unmount failed", "card_id", card.ID, "error", err)
			errs = append(errs, err)
		}
	}
	if n := h.resources.ReleaseAll(); n > 0 {
		h.log.Debug("released card resources", "card_id", card.ID, "count", n)
	}
	if prev == StateSurface {
		if err := h.surface.Navigate(BlankURL, SurfaceAttrs{Sandbox: SandboxPolicy, ReferrerPolicy: ReferrerPolicy}); err != nil {
			h.log.Warn("blank surface failed", "error", err)
		}
	}
	h.vocab.Reset("")

	h.mu.Lock()
	h.rotateSessionLocked(SessionContext{})
	h.runtime = Runtime{}
	h.card = Card{}
	h.config.reset(nil)
	h.cardGen++
	h.state = StateUnloaded
	h.mu.Unlock()

	h.subs.publish(Event{Type: EventSessionChanged})
	h.publishState(StateUnloaded)
	return errors.Join(errs...)
}

func (h *Host) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
	h.publishState(s)
}

func (h *Host) publishState(s State) {
	h.subs.publish(Event{Type: EventStateChanged, State: s})
}

func (h *Host) liveWindow() bridge.Window {
	h.mu.Lock()
	live := h.state == StateSurface
	h.mu.Unlock()
	if !live {
		return nil
	}
	return h.surface.Window()
}

func (h *Host) trustedOrigin() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session.TrustedOrigin
}

// sameWindow compares windows without panicking on uncomparable types.
func sameWindow(a, b bridge.Window) bool {
	if a == nil || b == nil {
		return false
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
