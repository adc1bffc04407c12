package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/cardbridge-go/bridge"
	"github.com/machinefabric/cardbridge-go/resource"
)

type countingMinter struct {
	mu   sync.Mutex
	n    int
	live map[string]bool
}

func (m *countingMinter) Mint(_ context.Context, fullPath string) (string, error) {
	if strings.Contains(fullPath, "missing") {
		return "", errors.New("not found")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n++
	url := fmt.Sprintf("blob:%d", m.n)
	if m.live == nil {
		m.live = map[string]bool{}
	}
	m.live[url] = true
	return url, nil
}

func (m *countingMinter) Revoke(url string) {
	m.mu.Lock()
	delete(m.live, url)
	m.mu.Unlock()
}

func TestRegistryRoutesByNamespace(t *testing.T) {
	r := NewRegistry()
	r.Register("echo", HandlerFunc(func(_ context.Context, action string, params any) (any, error) {
		return map[string]any{"action": action, "params": params}, nil
	}))
	assert.Equal(t, []string{"echo"}, r.Namespaces())

	out, err := r.Invoke(context.Background(), "echo", "ping", 1)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"action": "ping", "params": 1}, out)

	_, err = r.Invoke(context.Background(), "file", "read", nil)
	var be *bridge.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, bridge.CodeUnavailable, be.Code)

	r.Unregister("echo")
	assert.Empty(t, r.Namespaces())
}

func TestRegistryPassesHandlerErrorsThrough(t *testing.T) {
	boom := errors.New("boom")
	r := NewRegistry()
	r.Register("x", HandlerFunc(func(context.Context, string, any) (any, error) { return nil, boom }))
	_, err := r.Invoke(context.Background(), "x", "y", nil)
	assert.ErrorIs(t, err, boom)
}

func TestResourceHandler(t *testing.T) {
	minter := &countingMinter{}
	reg := resource.NewRegistry(resource.Options{
		Minter:   minter,
		CardRoot: "/cards/c1",
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	r := NewRegistry()
	r.Register(ResourceNamespace, ResourceHandler{Registry: reg})
	ctx := context.Background()

	out, err := r.Invoke(ctx, ResourceNamespace, "resolve", map[string]any{"path": "img/a.png"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"url": "blob:1"}, out)

	again, err := r.Invoke(ctx, ResourceNamespace, "resolve", map[string]any{"path": "img/a.png"})
	require.NoError(t, err)
	assert.Equal(t, out, again)

	out, err = r.Invoke(ctx, ResourceNamespace, "release", map[string]any{"path": "img/a.png"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"released": true}, out)
	assert.Equal(t, 0, reg.Len())

	_, err = r.Invoke(ctx, ResourceNamespace, "resolve", map[string]any{"path": "missing.png"})
	var be *bridge.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, bridge.CodeInvokeFailed, be.Code)

	_, err = r.Invoke(ctx, ResourceNamespace, "resolve", map[string]any{})
	assert.Error(t, err)

	_, err = r.Invoke(ctx, ResourceNamespace, "delete", map[string]any{"path": "x"})
	require.ErrorAs(t, err, &be)
	assert.Equal(t, bridge.CodeUnavailable, be.Code)
}
