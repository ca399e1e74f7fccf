// Package builtins registers a minimal set of generic task plugins so that
// experiments can be exercised without external plugin code.
package builtins

import (
	"context"
	"fmt"

	"github.com/dioptra-labs/dioptra-go/internal/plugins/registry"
)

// Register binds the builtin task functions into reg under the "harness"
// plugin name.
func Register(reg *registry.Registry) {
	reg.MustRegister(registry.ID{Plugin: "harness", Function: "echo"}, echo)
	reg.MustRegister(registry.ID{Plugin: "harness", Function: "double"}, double)
	reg.MustRegister(registry.ID{Plugin: "harness", Function: "sum"}, sum)
	reg.MustRegister(registry.ID{Plugin: "harness", Function: "minmax"}, minmax)
}

func echo(_ context.Context, kwargs map[string]any) (any, error) {
	return kwargs["message"], nil
}

func double(_ context.Context, kwargs map[string]any) (any, error) {
	x, err := toFloat(kwargs["x"])
	if err != nil {
		return nil, fmt.Errorf("argument x: %w", err)
	}
	return normalize(x * 2), nil
}

func sum(_ context.Context, kwargs map[string]any) (any, error) {
	values, ok := kwargs["values"].([]any)
	if !ok {
		return nil, fmt.Errorf("argument values must be a sequence")
	}
	total := 0.0
	for i, v := range values {
		f, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("values[%d]: %w", i, err)
		}
		total += f
	}
	return normalize(total), nil
}

// minmax returns two values and backs the multi-output test surface.
func minmax(_ context.Context, kwargs map[string]any) (any, error) {
	values, ok := kwargs["values"].([]any)
	if !ok || len(values) == 0 {
		return nil, fmt.Errorf("argument values must be a non-empty sequence")
	}
	lo, err := toFloat(values[0])
	if err != nil {
		return nil, fmt.Errorf("values[0]: %w", err)
	}
	hi := lo
	for i, v := range values[1:] {
		f, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("values[%d]: %w", i+1, err)
		}
		if f < lo {
			lo = f
		}
		if f > hi {
			hi = f
		}
	}
	return []any{normalize(lo), normalize(hi)}, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("value %v (%T) is not numeric", v, v)
	}
}

// normalize returns whole results as int so they round-trip through YAML
// the way they were written.
func normalize(f float64) any {
	if f == float64(int64(f)) {
		return int(f)
	}
	return f
}
