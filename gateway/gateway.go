// Package gateway routes permitted bridge requests to the handler registered
// for their namespace.
package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/machinefabric/cardbridge-go/bridge"
)

// RegistryError represents errors that can occur while routing a request.
type RegistryError struct {
	Type    string
	Message string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewNoHandlerError creates an error for a namespace nobody serves.
func NewNoHandlerError(namespace string) *RegistryError {
	return &RegistryError{
		Type:    "NoHandler",
		Message: fmt.Sprintf("no handler registered for namespace: %s", namespace),
	}
}

// NewUnknownActionError creates an error for an action a handler does not support.
func NewUnknownActionError(namespace, action string) *RegistryError {
	return &RegistryError{
		Type:    "UnknownAction",
		Message: fmt.Sprintf("namespace %s has no action %s", namespace, action),
	}
}

// Handler serves every action of one namespace.
type Handler interface {
	Invoke(ctx context.Context, action string, params any) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, action string, params any) (any, error)

// Invoke calls f.
func (f HandlerFunc) Invoke(ctx context.Context, action string, params any) (any, error) {
	return f(ctx, action, params)
}

// Registry is a namespace router. It implements host.Gateway.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register installs h for namespace, replacing any earlier handler.
func (r *Registry) Register(namespace string, h Handler) {
	r.mu.Lock()
	r.handlers[namespace] = h
	r.mu.Unlock()
}

// Unregister removes the handler for namespace.
func (r *Registry) Unregister(namespace string) {
	r.mu.Lock()
	delete(r.handlers, namespace)
	r.mu.Unlock()
}

// Namespaces lists registered namespaces in sorted order.
func (r *Registry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for ns := range r.handlers {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// Invoke dispatches to the namespace handler. Unserved namespaces and
// actions surface to plugins as BRIDGE_UNAVAILABLE.
func (r *Registry) Invoke(ctx context.Context, namespace, action string, params any) (any, error) {
	r.mu.RLock()
	h, ok := r.handlers[namespace]
	r.mu.RUnlock()
	if !ok {
		return nil, bridge.NewError(bridge.CodeUnavailable, NewNoHandlerError(namespace).Error())
	}
	result, err := h.Invoke(ctx, action, params)
	if err != nil {
		if re, ok := err.(*RegistryError); ok && re.Type == "UnknownAction" {
			return nil, bridge.NewError(bridge.CodeUnavailable, re.Error())
		}
		return nil, err
	}
	return result, nil
}
