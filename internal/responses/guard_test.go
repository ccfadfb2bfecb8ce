package responses

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/toolrun/internal/observability"
)

func TestGuardPassesSmallValuesThrough(t *testing.T) {
	store := NewMemoryStore()
	guard := NewGuard(store)

	tests := []struct {
		name  string
		value any
	}{
		{name: "object", value: map[string]any{"ticker": "AAPL", "count": 3}},
		{name: "array", value: []any{1, 2, 3}},
		{name: "string", value: "ok"},
		{name: "null", value: nil},
		{name: "exactly threshold", value: strings.Repeat("x", DefaultThreshold-2)},
		{name: "html characters at threshold", value: strings.Repeat("<&>", (DefaultThreshold-2)/3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := guard.Wrap(context.Background(), tt.value)
			if err != nil {
				t.Fatalf("Wrap() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.value) {
				t.Fatalf("Wrap() = %#v, want pass-through %#v", got, tt.value)
			}
			again, err := guard.Wrap(context.Background(), got)
			if err != nil || !reflect.DeepEqual(again, tt.value) {
				t.Fatalf("Wrap() is not idempotent: %#v, %v", again, err)
			}
		})
	}
	if ids := store.IDs(); len(ids) != 0 {
		t.Fatalf("small values should not be stored, got %v", ids)
	}
}

func TestGuardStoresLiteralJSON(t *testing.T) {
	store := NewMemoryStore()
	guard := NewGuard(store, WithThreshold(10))

	got, err := guard.Wrap(context.Background(), "<b>bold & bright</b>")
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	ref, ok := got.(LargeResponse)
	if !ok {
		t.Fatalf("Wrap() = %T, want LargeResponse", got)
	}
	stored, err := guard.Get(context.Background(), ref.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if want := `"<b>bold & bright</b>"`; string(stored) != want {
		t.Fatalf("stored = %s, want %s", stored, want)
	}
}

func TestGuardStoresLargeValues(t *testing.T) {
	store := NewMemoryStore()
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	guard := NewGuard(store, WithMetrics(metrics))

	contracts := make([]any, 0, 40)
	for i := 0; i < 40; i++ {
		contracts = append(contracts, map[string]any{"option_symbol": "AAPL240119C00100000", "volume": float64(i)})
	}
	value := map[string]any{"data": contracts}

	got, err := guard.Wrap(context.Background(), value)
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	ref, ok := got.(LargeResponse)
	if !ok {
		t.Fatalf("Wrap() = %T, want LargeResponse", got)
	}
	if ref.Type != LargeResponseType {
		t.Errorf("type = %q", ref.Type)
	}
	if ref.Summary != "API Response: 1 key-value pairs" {
		t.Errorf("summary = %q", ref.Summary)
	}
	if len(ref.ID) != 36 {
		t.Errorf("id %q is not a UUID", ref.ID)
	}

	raw, err := guard.Get(context.Background(), ref.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	var roundTrip any
	if err := json.Unmarshal(raw, &roundTrip); err != nil {
		t.Fatalf("stored payload is not JSON: %v", err)
	}
	if !reflect.DeepEqual(roundTrip, value) {
		t.Fatalf("stored payload differs from original")
	}
	if ids := store.IDs(); len(ids) != 1 {
		t.Fatalf("stored %d entries, want exactly 1", len(ids))
	}
	if got := testutil.ToFloat64(metrics.LargeResponses); got != 1 {
		t.Errorf("large responses metric = %v, want 1", got)
	}
}

func TestGuardThresholdOption(t *testing.T) {
	guard := NewGuard(NewMemoryStore(), WithThreshold(10))
	got, err := guard.Wrap(context.Background(), []any{"abcdef", "ghijkl"})
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	ref, ok := got.(LargeResponse)
	if !ok {
		t.Fatalf("Wrap() = %T, want LargeResponse", got)
	}
	if ref.Summary != "API Response: List with 2 items" {
		t.Errorf("summary = %q", ref.Summary)
	}
}

func TestGuardGetUnknownID(t *testing.T) {
	guard := NewGuard(NewMemoryStore())
	if _, err := guard.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

type failingStore struct{ MemoryStore }

func (f *failingStore) Put(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func TestGuardPropagatesStoreFailure(t *testing.T) {
	guard := NewGuard(&failingStore{}, WithThreshold(1))
	if _, err := guard.Wrap(context.Background(), "too big"); err == nil {
		t.Fatal("expected error when the store rejects the payload")
	}
}

func TestSummarize(t *testing.T) {
	tests := map[string]string{
		`{"a":1,"b":2}`: "API Response: 2 key-value pairs",
		`[1,2,3]`:       "API Response: List with 3 items",
		`"text"`:        "API Response: string",
		`42`:            "API Response: number",
		`true`:          "API Response: boolean",
		`null`:          "API Response: null",
	}
	for in, want := range tests {
		if got := Summarize([]byte(in)); got != want {
			t.Errorf("Summarize(%s) = %q, want %q", in, got, want)
		}
	}
}
