package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/toolrun/internal/responses"
)

func mustInstance(t *testing.T, tool Tool, env *invokeEnv) *Instance {
	t.Helper()
	inst, err := newInstance(Definition{Name: tool.Name(), Enabled: true}, tool, "builtin:"+tool.Name(), env)
	if err != nil {
		t.Fatalf("newInstance: %v", err)
	}
	return inst
}

func TestInstanceInvoke(t *testing.T) {
	tool := newStub("greet")
	tool.schema = json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"],"additionalProperties":false}`)
	tool.exec = func(ctx context.Context, args map[string]any) (any, error) {
		switch args["name"] {
		case "boom":
			panic("kaboom")
		case "err":
			return nil, errors.New("upstream timeout")
		case "payload":
			return Errorf("Failed to fetch data: 503"), nil
		}
		return map[string]any{"hello": args["name"]}, nil
	}
	inst := mustInstance(t, tool, nil)

	tests := []struct {
		name     string
		args     string
		want     string
		wantErr  ExecutionErrorType
		contains string
	}{
		{name: "ok", args: `{"name":"ada"}`, want: `{"hello":"ada"}`},
		{name: "expected failure payload", args: `{"name":"payload"}`, want: `{"error":"Failed to fetch data: 503"}`},
		{name: "returned error", args: `{"name":"err"}`, wantErr: ExecutionFailed, want: `{"error":"upstream timeout"}`},
		{name: "panic", args: `{"name":"boom"}`, wantErr: ExecutionPanic, want: `{"error":"tool greet failed unexpectedly"}`},
		{name: "bad json", args: `{"name":`, wantErr: ExecutionInvalidArgs, contains: "not valid JSON"},
		{name: "not an object", args: `["ada"]`, wantErr: ExecutionInvalidArgs, contains: "must be a JSON object"},
		{name: "missing required", args: ``, wantErr: ExecutionInvalidArgs, contains: "invalid arguments"},
		{name: "extra key", args: `{"name":"ada","admin":true}`, wantErr: ExecutionInvalidArgs, contains: "invalid arguments"},
		{name: "wrong type", args: `{"name":7}`, wantErr: ExecutionInvalidArgs, contains: "/name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := inst.Invoke(context.Background(), json.RawMessage(tt.args))
			if tt.want != "" && string(res.Output) != tt.want {
				t.Fatalf("output = %s, want %s", res.Output, tt.want)
			}
			if tt.contains != "" && !strings.Contains(string(res.Output), tt.contains) {
				t.Fatalf("output = %s, want it to contain %q", res.Output, tt.contains)
			}
			if tt.wantErr == "" {
				if res.Failed() {
					t.Fatalf("unexpected error: %v", res.Err)
				}
				return
			}
			var execErr *ExecutionError
			if !errors.As(res.Err, &execErr) || execErr.Type != tt.wantErr {
				t.Fatalf("err = %v, want type %s", res.Err, tt.wantErr)
			}
			var payload ErrorPayload
			if err := json.Unmarshal(res.Output, &payload); err != nil || payload.Error == "" {
				t.Fatalf("output %s is not an error payload", res.Output)
			}
		})
	}
}

func TestInstanceRejectsMismatchedName(t *testing.T) {
	_, err := newInstance(Definition{Name: "a"}, newStub("b"), "builtin:a", nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestInstanceAppliesGuard(t *testing.T) {
	store := responses.NewMemoryStore()
	guard := responses.NewGuard(store)

	tool := newStub("big")
	tool.exec = func(ctx context.Context, args map[string]any) (any, error) {
		items := make([]any, 100)
		for i := range items {
			items[i] = map[string]any{"strike": i, "symbol": "SPY"}
		}
		return items, nil
	}
	inst := mustInstance(t, tool, &invokeEnv{guard: guard, logger: testLogger()})

	res := inst.Invoke(context.Background(), nil)
	if res.Failed() {
		t.Fatalf("Invoke: %v", res.Err)
	}
	var ref responses.LargeResponse
	if err := json.Unmarshal(res.Output, &ref); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ref.Type != responses.LargeResponseType || ref.ID == "" {
		t.Fatalf("output = %s, want large_response reference", res.Output)
	}
	if ref.Summary != "API Response: List with 100 items" {
		t.Fatalf("summary = %q", ref.Summary)
	}
	stored, err := guard.Get(context.Background(), ref.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var back []any
	if err := json.Unmarshal(stored, &back); err != nil || len(back) != 100 {
		t.Fatalf("stored payload = %s", stored)
	}
}
