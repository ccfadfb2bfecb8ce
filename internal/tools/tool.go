// Package tools defines the tool contract, the live registry of tool
// instances and the definition store the registry loads from.
package tools

import (
	"context"
	"encoding/json"
)

// Tool is a unit of capability the assistant can call by name.
//
// Execute receives arguments that already passed schema validation. Expected
// failures (an upstream non-2xx, a missing API key) are returned as an
// ErrorPayload value with a nil error. A returned error or a panic is
// converted to the same payload by Instance.Invoke.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// ErrorPayload is the structured error result surfaced to the assistant.
type ErrorPayload struct {
	Error string `json:"error"`
}

// Errorf builds an ErrorPayload.
func Errorf(msg string) ErrorPayload {
	return ErrorPayload{Error: msg}
}

// Descriptor is the function-calling view of a tool.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Definition is a stored tool entry. An empty Source selects the built-in
// implementation registered under Name.
type Definition struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Source  string `json:"source,omitempty"`
}

// Guard post-processes every successful tool result before it leaves the
// instance. The response oversize guard implements it.
type Guard interface {
	Wrap(ctx context.Context, v any) (any, error)
}
