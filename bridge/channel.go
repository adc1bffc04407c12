package bridge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Window is the live plugin side of a channel: an iframe contentWindow, a
// websocket connection or a framed stream.
type Window interface {
	PostMessage(payload any, targetOrigin string) error
}

// Cloner produces an independent copy of a normalized payload.
type Cloner func(v any) (any, error)

var (
	cloneEnc cbor.EncMode
	cloneDec cbor.DecMode
)

func init() {
	var err error
	cloneEnc, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("bridge: cbor enc mode: %v", err))
	}
	cloneDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("bridge: cbor dec mode: %v", err))
	}
}

// StructuredClone copies v through a CBOR round trip, which keeps byte
// strings binary. It falls back to JSONClone when v cannot be encoded as CBOR.
func StructuredClone(v any) (any, error) {
	data, err := cloneEnc.Marshal(v)
	if err != nil {
		return JSONClone(v)
	}
	var out any
	if err := cloneDec.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("structured clone: %w", err)
	}
	return out, nil
}

// JSONClone copies v through a JSON round trip.
func JSONClone(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json clone: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("json clone: %w", err)
	}
	return out, nil
}

// ChannelOptions configures a Channel.
type ChannelOptions struct {
	// Window resolves the live plugin window. A nil result means the
	// plugin is not loaded.
	Window func() Window
	// TrustedOrigin returns the current session's trusted origin.
	TrustedOrigin func() string
	// Clone defaults to StructuredClone.
	Clone  Cloner
	Logger *slog.Logger
}

// Channel posts host messages to the plugin window.
type Channel struct {
	window  func() Window
	trusted func() string
	clone   Cloner
	log     *slog.Logger
}

// NewChannel creates a Channel.
func NewChannel(opts ChannelOptions) *Channel {
	c := &Channel{
		window:  opts.Window,
		trusted: opts.TrustedOrigin,
		clone:   opts.Clone,
		log:     opts.Logger,
	}
	if c.clone == nil {
		c.clone = StructuredClone
	}
	if c.log == nil {
		c.log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if c.trusted == nil {
		c.trusted = func() string { return "" }
	}
	return c
}

// Post normalizes, clones and posts message to the live window. It reports
// false when there is no window or any step fails; it never panics.
func (c *Channel) Post(message any) (ok bool) {
	w := c.liveWindow()
	if w == nil {
		c.log.Debug("bridge post skipped: no live window")
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Warn("bridge post failed", "error", fmt.Sprint(r))
			ok = false
		}
	}()

	payload, err := c.clone(Normalize(message))
	if err != nil {
		c.log.Warn("bridge post failed", "stage", "clone", "error", err)
		return false
	}
	if err := w.PostMessage(payload, TargetOriginFor(c.trusted())); err != nil {
		c.log.Warn("bridge post failed", "stage", "post", "error", err)
		return false
	}
	return true
}

func (c *Channel) liveWindow() Window {
	if c.window == nil {
		return nil
	}
	w := c.window()
	if w == nil {
		return nil
	}
	// A typed nil pointer inside the interface is still "no window".
	if rv := reflect.ValueOf(w); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil
	}
	return w
}
