package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/dioptra-labs/dioptra-go/internal/experiment"
)

func TestIDString(t *testing.T) {
	cases := []struct {
		id   ID
		want string
	}{
		{ID{Plugin: "harness", Function: "echo"}, "harness.echo"},
		{ID{Pkg: "vision", Plugin: "augment", Function: "flip"}, "vision.augment.flip"},
		{ID{Pkg: "org.vision", Plugin: "augment", Function: "flip"}, "org.vision.augment.flip"},
	}
	for _, tc := range cases {
		if got := tc.id.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}

func TestRegisterAndDispatch(t *testing.T) {
	reg := New()
	reg.MustRegister(ID{Plugin: "math", Function: "inc"}, func(_ context.Context, kwargs map[string]any) (any, error) {
		return kwargs["x"].(int) + 1, nil
	})

	out, err := reg.Dispatch(context.Background(), "", "math", "inc", map[string]any{"x": 41})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out != 42 {
		t.Fatalf("out = %v, want 42", out)
	}
}

func TestDispatchUnknownPlugin(t *testing.T) {
	reg := New()
	_, err := reg.Dispatch(context.Background(), "pkg", "plugin", "missing", nil)
	var notFound *experiment.TaskPluginNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want TaskPluginNotFoundError", err)
	}
	if notFound.TaskName != "pkg.plugin.missing" {
		t.Fatalf("task name = %q", notFound.TaskName)
	}
}

func TestDispatchWrapsTaskErrors(t *testing.T) {
	reg := New()
	boom := errors.New("boom")
	reg.MustRegister(ID{Plugin: "bad", Function: "run"}, func(context.Context, map[string]any) (any, error) {
		return nil, boom
	})
	_, err := reg.Dispatch(context.Background(), "", "bad", "run", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
}

func TestRegisterRejectsBadBindings(t *testing.T) {
	reg := New()
	if err := reg.Register(ID{Plugin: "p", Function: "f"}, nil); err == nil {
		t.Fatal("expected error for nil function")
	}
	noop := func(context.Context, map[string]any) (any, error) { return nil, nil }
	if err := reg.Register(ID{Plugin: "", Function: "f"}, noop); err == nil {
		t.Fatal("expected error for empty plugin name")
	}
	if err := reg.Register(ID{Plugin: "p", Function: ""}, noop); err == nil {
		t.Fatal("expected error for empty function name")
	}
}

func TestRegisterReplacesBinding(t *testing.T) {
	reg := New()
	id := ID{Plugin: "p", Function: "f"}
	reg.MustRegister(id, func(context.Context, map[string]any) (any, error) { return 1, nil })
	reg.MustRegister(id, func(context.Context, map[string]any) (any, error) { return 2, nil })
	out, err := reg.Dispatch(context.Background(), "", "p", "f", nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out != 2 {
		t.Fatalf("out = %v, want the replacement binding", out)
	}
}
