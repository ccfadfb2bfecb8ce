package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/haasonsaas/toolrun/internal/observability"
)

// DefaultThreshold is the serialized size above which results are stored out-of-band.
const DefaultThreshold = 500

// LargeResponseType tags the reference object returned in place of a stored payload.
const LargeResponseType = "large_response"

// LargeResponse is the compact reference substituted for an oversized result.
type LargeResponse struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Summary string `json:"summary"`
}

// Guard diverts oversized tool results into a Store and hands back a
// LargeResponse reference. It is constructed once at startup and shared by
// every tool instance.
type Guard struct {
	store     Store
	threshold int
	logger    *slog.Logger
	metrics   *observability.Metrics
	newID     func() string
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithThreshold overrides the size threshold in bytes.
func WithThreshold(n int) GuardOption {
	return func(g *Guard) {
		if n > 0 {
			g.threshold = n
		}
	}
}

func WithLogger(logger *slog.Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithMetrics(m *observability.Metrics) GuardOption {
	return func(g *Guard) { g.metrics = m }
}

// NewGuard creates a guard backed by store.
func NewGuard(store Store, opts ...GuardOption) *Guard {
	g := &Guard{
		store:     store,
		threshold: DefaultThreshold,
		logger:    slog.Default(),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Threshold returns the configured size threshold.
func (g *Guard) Threshold() int { return g.threshold }

// Wrap returns v unchanged when its JSON encoding is at most the threshold.
// Larger values are persisted under a fresh 128-bit random id and replaced by
// a LargeResponse.
func (g *Guard) Wrap(ctx context.Context, v any) (any, error) {
	data, err := encodeValue(v)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	if len(data) <= g.threshold {
		return v, nil
	}

	id := g.newID()
	if err := g.store.Put(ctx, id, data); err != nil {
		return nil, fmt.Errorf("store large response: %w", err)
	}
	g.metrics.RecordLargeResponse(len(data))
	g.logger.DebugContext(ctx, "stored large response", "response_id", id, "bytes", len(data))

	return LargeResponse{
		Type:    LargeResponseType,
		ID:      id,
		Summary: Summarize(data),
	}, nil
}

// encodeValue serializes v without HTML escaping so the threshold compares
// against the literal JSON length.
func encodeValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Get returns the stored payload for id or ErrNotFound.
func (g *Guard) Get(ctx context.Context, id string) (json.RawMessage, error) {
	data, err := g.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// Summarize produces the one-line digest stored alongside a reference:
// entry count for objects, element count for arrays, otherwise the JSON type.
func Summarize(data []byte) string {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "API Response: unknown"
	}
	switch typed := v.(type) {
	case map[string]any:
		return fmt.Sprintf("API Response: %d key-value pairs", len(typed))
	case []any:
		return fmt.Sprintf("API Response: List with %d items", len(typed))
	case string:
		return "API Response: string"
	case json.Number:
		return "API Response: number"
	case bool:
		return "API Response: boolean"
	case nil:
		return "API Response: null"
	default:
		return fmt.Sprintf("API Response: %T", typed)
	}
}
