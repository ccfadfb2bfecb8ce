package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLoggerFormats(t *testing.T) {
	tests := []struct {
		name   string
		format string
		check  func(t *testing.T, out string)
	}{
		{
			name:   "json",
			format: "json",
			check: func(t *testing.T, out string) {
				var record map[string]any
				if err := json.Unmarshal([]byte(out), &record); err != nil {
					t.Fatalf("output is not JSON: %v (%s)", err, out)
				}
				if record["msg"] != "hello" {
					t.Errorf("msg = %v", record["msg"])
				}
			},
		},
		{
			name:   "text",
			format: "text",
			check: func(t *testing.T, out string) {
				if !strings.Contains(out, "msg=hello") {
					t.Errorf("unexpected text output: %s", out)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(LogConfig{Format: tt.format, Output: &buf})
			logger.Info("hello")
			tt.check(t, buf.String())
		})
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Output: &buf})

	logger.Info("dropped")
	logger.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info record should be filtered: %s", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("warn record missing: %s", out)
	}
}

func TestLoggerAddsCorrelationIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithConversationID(ctx, "thread_abc")
	ctx = WithRunID(ctx, "run_123")
	ctx = WithToolCall(ctx, "get_option_contracts", "call_9")
	logger.InfoContext(ctx, "tool invoked")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	want := map[string]string{
		"request_id":      "req-1",
		"conversation_id": "thread_abc",
		"run_id":          "run_123",
		"tool":            "get_option_contracts",
		"tool_call_id":    "call_9",
	}
	for key, value := range want {
		if record[key] != value {
			t.Errorf("%s = %v, want %s", key, record[key], value)
		}
	}
}

func TestLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})

	key := "sk-" + strings.Repeat("a", 48)
	logger.Info("using key "+key,
		"api_key", "plain-value",
		"error", errors.New("upstream rejected Bearer abcdefghijklmnopqrstuvwxyz"),
		slog.Group("request", "authorization", "Bearer xyz"),
	)

	out := buf.String()
	for _, secret := range []string{key, "plain-value", "abcdefghijklmnopqrstuvwxyz", "Bearer xyz"} {
		if strings.Contains(out, secret) {
			t.Errorf("secret %q leaked: %s", secret, out)
		}
	}
	if !strings.Contains(out, redacted) {
		t.Errorf("expected redaction marker in %s", out)
	}
}

func TestLogLevelFromString(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := LogLevelFromString(in); got != want {
			t.Errorf("LogLevelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}
