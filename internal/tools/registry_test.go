package tools

import (
	"context"
	"encoding/json"
	"testing"
)

func TestDispatchUnknownTool(t *testing.T) {
	r := NewRegistry()

	res := r.Dispatch(context.Background(), "u1", "nope", json.RawMessage(`{}`))
	if res.Success {
		t.Error("dispatch of unknown tool succeeded")
	}
	if res.Error == "" {
		t.Error("no error message for unknown tool")
	}
}

func TestSubset(t *testing.T) {
	r := NewRegistry()
	called := map[string]int{}
	for _, name := range []string{"a", "b", "c"} {
		r.Register(Tool{
			Name:       name,
			Parameters: objectSchema(map[string]any{}),
			Handler: func(ctx context.Context, userID string, args json.RawMessage) Result {
				called[name]++
				return Result{Success: true}
			},
		})
	}

	sub := r.Subset("a", "c", "missing")
	if got := sub.Names(); len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("Names = %v, want [a c]", got)
	}

	if res := sub.Dispatch(context.Background(), "u1", "b", nil); res.Success {
		t.Error("subset dispatched excluded tool")
	}
	if res := sub.Dispatch(context.Background(), "u1", "a", nil); !res.Success {
		t.Errorf("subset failed to dispatch included tool: %s", res.Error)
	}
	if called["a"] != 1 {
		t.Errorf("tool a called %d times, want 1", called["a"])
	}
}

func TestOpenAIToolsOrderAndShape(t *testing.T) {
	r := NewRegistry()
	r.Register(Tool{Name: "b", Description: "second", Parameters: objectSchema(map[string]any{
		"x": stringProperty("x"),
	}, "x")})
	r.Register(Tool{Name: "a", Description: "first", Parameters: objectSchema(map[string]any{})})

	defs := r.OpenAITools()
	if len(defs) != 2 {
		t.Fatalf("got %d tools, want 2", len(defs))
	}
	if defs[0].Function.Name != "b" || defs[1].Function.Name != "a" {
		t.Errorf("registration order not preserved: %s, %s", defs[0].Function.Name, defs[1].Function.Name)
	}

	params, ok := defs[0].Function.Parameters.(map[string]any)
	if !ok {
		t.Fatalf("parameters type %T", defs[0].Function.Parameters)
	}
	if params["type"] != "object" {
		t.Errorf("schema type = %v, want object", params["type"])
	}
}

func TestRegisterReplacesByName(t *testing.T) {
	r := NewRegistry()
	r.Register(Tool{Name: "t", Handler: func(context.Context, string, json.RawMessage) Result {
		return Errorf("old")
	}})
	r.Register(Tool{Name: "t", Handler: func(context.Context, string, json.RawMessage) Result {
		return Result{Success: true}
	}})

	if got := r.Names(); len(got) != 1 {
		t.Fatalf("Names = %v, want single entry", got)
	}
	if res := r.Dispatch(context.Background(), "u1", "t", nil); !res.Success {
		t.Error("replacement tool not dispatched")
	}
}
