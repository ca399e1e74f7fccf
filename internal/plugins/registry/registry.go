// Package registry maps dotted task plugin identifiers to statically typed
// Go functions. The registry is populated explicitly at process start by
// plugin packages; there is no reflection-based discovery.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dioptra-labs/dioptra-go/internal/experiment"
)

// TaskFunc is one invocable task plugin function. kwargs carries the step's
// fully resolved keyword arguments.
type TaskFunc func(ctx context.Context, kwargs map[string]any) (any, error)

// ID identifies a registered function. Pkg may be empty for builtin
// plugins addressed as "plugin.function".
type ID struct {
	Pkg      string
	Plugin   string
	Function string
}

func (id ID) String() string {
	parts := make([]string, 0, 3)
	if id.Pkg != "" {
		parts = append(parts, id.Pkg)
	}
	return strings.Join(append(parts, id.Plugin, id.Function), ".")
}

// Registry holds the (package, plugin, function) -> TaskFunc mapping.
// Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	funcs map[ID]TaskFunc
}

func New() *Registry {
	return &Registry{funcs: make(map[ID]TaskFunc)}
}

// Register binds fn to the given identifier, replacing any previous
// binding.
func (r *Registry) Register(id ID, fn TaskFunc) error {
	if fn == nil {
		return fmt.Errorf("register %s: nil task function", id)
	}
	if strings.TrimSpace(id.Plugin) == "" || strings.TrimSpace(id.Function) == "" {
		return fmt.Errorf("register %s: plugin and function are required", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[id] = fn
	return nil
}

// MustRegister is Register for process-start population, where a bad
// binding is a programming error.
func (r *Registry) MustRegister(id ID, fn TaskFunc) {
	if err := r.Register(id, fn); err != nil {
		panic(err)
	}
}

// Lookup returns the function bound to id.
func (r *Registry) Lookup(id ID) (TaskFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[id]
	return fn, ok
}

// Dispatch implements the engine's Dispatcher contract: it resolves the
// identifier and invokes the bound function with the resolved keyword
// arguments. An unregistered identifier yields a
// *experiment.TaskPluginNotFoundError carrying the plugin short name.
func (r *Registry) Dispatch(ctx context.Context, pkg, plugin, function string, kwargs map[string]any) (any, error) {
	id := ID{Pkg: pkg, Plugin: plugin, Function: function}
	fn, ok := r.Lookup(id)
	if !ok {
		return nil, &experiment.TaskPluginNotFoundError{TaskName: id.String()}
	}
	out, err := fn(ctx, kwargs)
	if err != nil {
		return nil, fmt.Errorf("task plugin %s: %w", id, err)
	}
	return out, nil
}

var defaultRegistry = New()

// Default returns the process-wide registry that plugin packages populate
// at start-up.
func Default() *Registry { return defaultRegistry }
