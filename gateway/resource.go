package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/machinefabric/cardbridge-go/bridge"
	"github.com/machinefabric/cardbridge-go/resource"
)

// ResourceNamespace is the namespace ResourceHandler is registered under.
const ResourceNamespace = "resource"

// ResourceHandler exposes the resource registry to plugins:
//
//	resolve {path} -> {url}
//	release {path} -> {released}
//
// Paths are relative to the card root.
type ResourceHandler struct {
	Registry *resource.Registry
}

// Invoke implements Handler.
func (h ResourceHandler) Invoke(ctx context.Context, action string, params any) (any, error) {
	if h.Registry == nil {
		return nil, bridge.ErrUnavailable
	}
	path, err := pathParam(params)
	if err != nil {
		return nil, err
	}
	switch action {
	case "resolve":
		url, err := h.Registry.ResolveByRelativePath(ctx, path)
		if err != nil {
			return nil, bridge.NewError(bridge.CodeInvokeFailed, err.Error()).WithDetails(map[string]any{"path": path})
		}
		return map[string]any{"url": url}, nil
	case "release":
		return map[string]any{"released": h.Registry.ReleaseByRelativePath(path)}, nil
	default:
		return nil, NewUnknownActionError(ResourceNamespace, action)
	}
}

func pathParam(params any) (string, error) {
	m, ok := params.(map[string]any)
	if !ok {
		return "", errors.New("params must be an object")
	}
	path, ok := m["path"].(string)
	if !ok || path == "" {
		return "", fmt.Errorf("params.path must be a non-empty string")
	}
	return path, nil
}
