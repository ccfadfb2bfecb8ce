package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/haasonsaas/toolrun/internal/config"
)

const defaultConfigName = "toolrun.yaml"

var configPath string

func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("TOOLRUN_CONFIG")); env != "" {
		return env
	}
	return defaultConfigName
}

// loadConfig loads the resolved config file. A missing default file falls
// back to built-in defaults; a missing explicit file is an error.
func loadConfig(path string) (*config.Config, error) {
	resolved := resolveConfigPath(path)
	cfg, err := config.Load(resolved)
	if err != nil {
		if resolved == defaultConfigName && errors.Is(err, fs.ErrNotExist) {
			slog.Warn("config file not found, using defaults", "path", resolved)
			cfg = config.Default()
		} else {
			return nil, err
		}
	}
	applyEnvFallbacks(cfg)
	return cfg, nil
}

func applyEnvFallbacks(cfg *config.Config) {
	if cfg.Assistant.APIKey == "" {
		cfg.Assistant.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Tools.Builtin.UnusualWhales.APIKey == "" {
		cfg.Tools.Builtin.UnusualWhales.APIKey = os.Getenv("UNUSUAL_WHALES_API_KEY")
	}
}
