package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "toolrun.yaml", `
server:
  host: 0.0.0.0
  extra: true
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "toolrun.yaml", `
assistant:
  api_key: sk-test
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Assistant.PollInterval != time.Second {
		t.Fatalf("poll interval = %v, want 1s", cfg.Assistant.PollInterval)
	}
	if cfg.Responses.ThresholdBytes != 500 {
		t.Fatalf("threshold = %d, want 500", cfg.Responses.ThresholdBytes)
	}
	if cfg.Responses.Retention != 0 {
		t.Fatalf("retention = %v, want unbounded", cfg.Responses.Retention)
	}
	if cfg.Assistant.Instructions != DefaultInstructions {
		t.Fatalf("instructions not defaulted")
	}
	if cfg.Session.CookieName != "toolrun_session" {
		t.Fatalf("cookie name = %q", cfg.Session.CookieName)
	}
	if got := cfg.Server.Addr(); got != "0.0.0.0:8000" {
		t.Fatalf("Addr() = %q", got)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TOOLRUN_TEST_KEY", "sk-from-env")
	path := writeConfig(t, "toolrun.yaml", `
assistant:
  api_key: ${TOOLRUN_TEST_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Assistant.APIKey != "sk-from-env" {
		t.Fatalf("api key = %q", cfg.Assistant.APIKey)
	}
}

func TestLoadValidatesResponsesBackend(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "unknown backend",
			body:    "responses:\n  backend: redis\n",
			wantErr: "responses.backend",
		},
		{
			name:    "sqlite without dsn",
			body:    "responses:\n  backend: sqlite\n",
			wantErr: "responses.dsn",
		},
		{
			name:    "s3 without bucket",
			body:    "responses:\n  backend: s3\n",
			wantErr: "responses.s3.bucket",
		},
		{
			name:    "tracing without endpoint",
			body:    "tracing:\n  enabled: true\n",
			wantErr: "tracing.endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "toolrun.yaml", tt.body)
			_, err := Load(path)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			var verr *ConfigValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ConfigValidationError, got %T", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected %s error, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.json5")
	if err := os.WriteFile(base, []byte(`{
  // shared settings
  assistant: { model: "gpt-4o", poll_interval: "2s" },
  responses: { backend: "memory" },
}`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	mainPath := filepath.Join(dir, "toolrun.yaml")
	if err := os.WriteFile(mainPath, []byte("$include: base.json5\nassistant:\n  model: gpt-4.1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Assistant.Model != "gpt-4.1" {
		t.Fatalf("model = %q, want override from main file", cfg.Assistant.Model)
	}
	if cfg.Assistant.PollInterval != 2*time.Second {
		t.Fatalf("poll interval = %v, want included 2s", cfg.Assistant.PollInterval)
	}
	if cfg.Responses.Backend != "memory" {
		t.Fatalf("backend = %q", cfg.Responses.Backend)
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	if err := os.WriteFile(a, []byte("$include: b.yaml\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.WriteFile(b, []byte("$include: a.yaml\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err := Load(a)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected include cycle error, got %v", err)
	}
}

func TestExpandEnvFallback(t *testing.T) {
	t.Setenv("TOOLRUN_TEST_SET", "from-env")
	t.Setenv("TOOLRUN_TEST_EMPTY", "")

	tests := []struct {
		in   string
		want string
	}{
		{"${TOOLRUN_TEST_SET}", "from-env"},
		{"${TOOLRUN_TEST_SET:-fallback}", "from-env"},
		{"${TOOLRUN_TEST_EMPTY:-fallback}", "fallback"},
		{"${TOOLRUN_TEST_UNSET_VAR:-gpt-4o}", "gpt-4o"},
		{"${TOOLRUN_TEST_UNSET_VAR}", ""},
		{"$include: base.yaml", "$include: base.yaml"},
	}
	for _, tt := range tests {
		if got := expandEnv(tt.in); got != tt.want {
			t.Errorf("expandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadRejectsNonStringInclude(t *testing.T) {
	path := writeConfig(t, "toolrun.yaml", "$include:\n  - 42\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "must be strings") {
		t.Fatalf("expected include type error, got %v", err)
	}
}

func TestJSONSchemaUsesYAMLNames(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	if !strings.Contains(string(data), "poll_interval") {
		t.Fatalf("schema missing poll_interval field")
	}
}

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)+"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
