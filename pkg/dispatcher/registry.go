package dispatcher

import (
	"context"
	"sort"
	"sync"
)

// Handler processes one action. Returning an error hands control to failure
// containment: the caller sees only "Server error" and the error is logged.
type Handler func(ctx context.Context, p Payload) (Result, error)

// ValueHandler adapts a function that returns a plain value.
func ValueHandler(fn func(ctx context.Context, p Payload) (any, error)) Handler {
	return func(ctx context.Context, p Payload) (Result, error) {
		v, err := fn(ctx, p)
		if err != nil {
			return nil, err
		}
		return Value(v), nil
	}
}

// Registry maps action names to handlers. Routes are registered at startup;
// registering an existing action replaces its handler.
type Registry struct {
	mu     sync.RWMutex
	routes map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{routes: make(map[string]Handler)}
}

// Register binds action to h, replacing any previous handler for action.
func (r *Registry) Register(action string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[action] = h
}

// Resolve returns the handler for action. A nil handler counts as unregistered.
func (r *Registry) Resolve(action string) (Handler, bool) {
	r.mu.RLock()
	h, ok := r.routes[action]
	r.mu.RUnlock()
	return h, ok && h != nil
}

// Actions returns the registered action names in sorted order.
func (r *Registry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.routes))
	for a := range r.routes {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
