package host

import (
	"context"
	"errors"
	"time"

	"github.com/machinefabric/cardbridge-go/bridge"
)

// Embedding contract for surface runtimes.
const (
	SandboxPolicy  = "allow-scripts allow-same-origin"
	ReferrerPolicy = "no-referrer"
	BlankURL       = "about:blank"
)

// ErrNoRuntime is returned by resolvers that have no runtime for a card type.
var ErrNoRuntime = errors.New("no runtime for card type")

// RuntimeKind selects how a card's editor runs.
type RuntimeKind int

const (
	RuntimeNone RuntimeKind = iota
	RuntimeComponent
	RuntimeSurface
)

func (k RuntimeKind) String() string {
	switch k {
	case RuntimeComponent:
		return "component"
	case RuntimeSurface:
		return "surface"
	default:
		return "none"
	}
}

// Runtime is the resolved editor for a card type.
type Runtime struct {
	Kind      RuntimeKind
	PluginID  string
	EntryURL  string    // surface runtimes
	Component Component // component runtimes
}

// Card identifies the card whose editor the host runs.
type Card struct {
	ID         string
	BaseCardID string
	Type       string
	Path       string         // card directory; resource root
	Config     map[string]any // externally provided config, nil to load from the store
}

// RuntimeResolver maps a card type to its editor runtime.
type RuntimeResolver interface {
	ResolveRuntime(ctx context.Context, cardType string) (Runtime, error)
}

// Component is a native editor mounted in-process.
type Component interface {
	Mount(ctx context.Context, card Card, config map[string]any) error
	Unmount(ctx context.Context) error
}

// SurfaceAttrs are the embedding attributes applied on navigation.
type SurfaceAttrs struct {
	Sandbox        string
	ReferrerPolicy string
}

// Surface hosts a sandboxed plugin. Window returns nil when nothing is loaded.
type Surface interface {
	Window() bridge.Window
	Navigate(url string, attrs SurfaceAttrs) error
	SetHeight(px int)
}

// Gateway performs the operations plugins are permitted to request.
type Gateway interface {
	Invoke(ctx context.Context, namespace, action string, params any) (any, error)
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, namespace, action string, params any) (any, error)

// Invoke calls f.
func (f GatewayFunc) Invoke(ctx context.Context, namespace, action string, params any) (any, error) {
	return f(ctx, namespace, action, params)
}

// PermissionSource returns the permission strings granted to a plugin.
type PermissionSource interface {
	Permissions(ctx context.Context, pluginID string) ([]string, error)
}

// ConfigStore loads and persists card configs. SaveConfig returns the path it
// wrote, also on failure when it got that far.
type ConfigStore interface {
	LoadConfig(ctx context.Context, card Card) (map[string]any, error)
	SaveConfig(ctx context.Context, card Card, config map[string]any) (string, error)
}

// MetricsRecorder receives host observations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	Dropped(stage string)
	BridgeError(code bridge.ErrorCode)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}
func (noopMetrics) Dropped(string)                                      {}
func (noopMetrics) BridgeError(bridge.ErrorCode)                        {}
