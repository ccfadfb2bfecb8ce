package config

import (
	"fmt"
	"strings"
	"time"
)

// DefaultInstructions is the assistant profile prompt used when none is configured.
const DefaultInstructions = "You are a helpful assistant specializing in options trading data. Use the provided tools to fetch and analyze options data when requested."

// Config is the main configuration structure for toolrun.
type Config struct {
	Version   int             `yaml:"version"`
	Server    ServerConfig    `yaml:"server"`
	Assistant AssistantConfig `yaml:"assistant"`
	Tools     ToolsConfig     `yaml:"tools"`
	Responses ResponsesConfig `yaml:"responses"`
	Session   SessionConfig   `yaml:"session"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ServerConfig struct {
	Host              string        `yaml:"host"`
	HTTPPort          int           `yaml:"http_port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	// AllowedOrigins is checked by the websocket upgrader. Empty allows same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`
	// ChatRateLimit throttles chat messages per client session.
	ChatRateLimit RateLimitConfig `yaml:"chat_rate_limit"`
}

// RateLimitConfig configures a token bucket. A zero rate disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.HTTPPort)
}

// AssistantConfig configures the conversational assistant backend.
type AssistantConfig struct {
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	Model          string        `yaml:"model"`
	Name           string        `yaml:"name"`
	Instructions   string        `yaml:"instructions"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ToolsConfig configures the tool registry and its definition store.
type ToolsConfig struct {
	// Dir holds tools_config.json and <name>.star script sources.
	Dir           string        `yaml:"dir"`
	Watch         bool          `yaml:"watch"`
	WatchDebounce time.Duration `yaml:"watch_debounce"`
	Script        ScriptConfig  `yaml:"script"`
	Builtin       BuiltinConfig `yaml:"builtin"`
}

// ScriptConfig bounds starlark tool execution.
type ScriptConfig struct {
	MaxSteps     uint64        `yaml:"max_steps"`
	Timeout      time.Duration `yaml:"timeout"`
	EnvAllowlist []string      `yaml:"env_allowlist"`
}

// BuiltinConfig configures the compiled-in tools.
type BuiltinConfig struct {
	UnusualWhales UnusualWhalesConfig `yaml:"unusual_whales"`
	Dashboard     DashboardConfig     `yaml:"dashboard"`
}

type UnusualWhalesConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type DashboardConfig struct {
	Model string `yaml:"model"`
}

// ResponsesConfig configures the oversize guard and its backing store.
type ResponsesConfig struct {
	// Backend is one of memory, file, sqlite, postgres, s3.
	Backend        string        `yaml:"backend"`
	ThresholdBytes int           `yaml:"threshold_bytes"`
	Dir            string        `yaml:"dir"`
	DSN            string        `yaml:"dsn"`
	S3             S3Config      `yaml:"s3"`
	Retention      time.Duration `yaml:"retention"`
	PruneSchedule  string        `yaml:"prune_schedule"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// SessionConfig configures the signed client-session cookie.
type SessionConfig struct {
	Secret     string        `yaml:"secret"`
	CookieName string        `yaml:"cookie_name"`
	TTL        time.Duration `yaml:"ttl"`
	Secure     bool          `yaml:"secure"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"service_name"`
	Environment  string  `yaml:"environment"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads, merges, decodes, defaults and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8000
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}

	if cfg.Assistant.Model == "" {
		cfg.Assistant.Model = "gpt-4-1106-preview"
	}
	if cfg.Assistant.Name == "" {
		cfg.Assistant.Name = "Chat Assistant"
	}
	if cfg.Assistant.Instructions == "" {
		cfg.Assistant.Instructions = DefaultInstructions
	}
	if cfg.Assistant.PollInterval == 0 {
		cfg.Assistant.PollInterval = time.Second
	}
	if cfg.Assistant.RequestTimeout == 0 {
		cfg.Assistant.RequestTimeout = 60 * time.Second
	}

	if cfg.Tools.Dir == "" {
		cfg.Tools.Dir = "tool_plugins"
	}
	if cfg.Tools.WatchDebounce == 0 {
		cfg.Tools.WatchDebounce = 250 * time.Millisecond
	}
	if cfg.Tools.Script.MaxSteps == 0 {
		cfg.Tools.Script.MaxSteps = 1_000_000
	}
	if cfg.Tools.Script.Timeout == 0 {
		cfg.Tools.Script.Timeout = 30 * time.Second
	}
	if cfg.Tools.Builtin.UnusualWhales.BaseURL == "" {
		cfg.Tools.Builtin.UnusualWhales.BaseURL = "https://api.unusualwhales.com"
	}
	if cfg.Tools.Builtin.UnusualWhales.Timeout == 0 {
		cfg.Tools.Builtin.UnusualWhales.Timeout = 30 * time.Second
	}
	if cfg.Tools.Builtin.Dashboard.Model == "" {
		cfg.Tools.Builtin.Dashboard.Model = "gpt-4o"
	}

	if cfg.Responses.Backend == "" {
		cfg.Responses.Backend = "file"
	}
	if cfg.Responses.ThresholdBytes == 0 {
		cfg.Responses.ThresholdBytes = 500
	}
	if cfg.Responses.Dir == "" {
		cfg.Responses.Dir = "api_responses"
	}
	if cfg.Responses.PruneSchedule == "" {
		cfg.Responses.PruneSchedule = "@hourly"
	}

	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = "toolrun_session"
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = 24 * time.Hour
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "toolrun"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// ConfigValidationError aggregates every problem found in a config.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	var issues []string

	if err := ValidateVersion(cfg.Version); err != nil {
		issues = append(issues, err.Error())
	}
	if cfg.Server.HTTPPort < 0 || cfg.Server.HTTPPort > 65535 {
		issues = append(issues, "server.http_port must be between 0 and 65535")
	}
	if cfg.Server.ChatRateLimit.RequestsPerSecond < 0 || cfg.Server.ChatRateLimit.Burst < 0 {
		issues = append(issues, "server.chat_rate_limit values must be >= 0")
	}
	if cfg.Assistant.PollInterval < 0 {
		issues = append(issues, "assistant.poll_interval must be positive")
	}
	if cfg.Responses.ThresholdBytes < 0 {
		issues = append(issues, "responses.threshold_bytes must be >= 0")
	}
	if cfg.Responses.Retention < 0 {
		issues = append(issues, "responses.retention must be >= 0")
	}

	switch strings.ToLower(cfg.Responses.Backend) {
	case "memory":
	case "file":
		if strings.TrimSpace(cfg.Responses.Dir) == "" {
			issues = append(issues, "responses.dir is required for the file backend")
		}
	case "sqlite", "postgres":
		if strings.TrimSpace(cfg.Responses.DSN) == "" {
			issues = append(issues, fmt.Sprintf("responses.dsn is required for the %s backend", cfg.Responses.Backend))
		}
	case "s3":
		if strings.TrimSpace(cfg.Responses.S3.Bucket) == "" {
			issues = append(issues, "responses.s3.bucket is required for the s3 backend")
		}
	default:
		issues = append(issues, fmt.Sprintf("responses.backend %q must be one of memory, file, sqlite, postgres, s3", cfg.Responses.Backend))
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		issues = append(issues, "logging.format must be \"json\" or \"text\"")
	}
	if cfg.Tracing.SamplingRate < 0 || cfg.Tracing.SamplingRate > 1 {
		issues = append(issues, "tracing.sampling_rate must be between 0 and 1")
	}
	if cfg.Tracing.Enabled && strings.TrimSpace(cfg.Tracing.Endpoint) == "" {
		issues = append(issues, "tracing.endpoint is required when tracing is enabled")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}
