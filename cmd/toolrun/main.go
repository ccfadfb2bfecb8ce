// Package main provides the CLI entry point for toolrun, a chat orchestrator
// that connects an assistant backend to a hot-reloadable set of tools.
//
// # Basic Usage
//
// Start the server:
//
//	toolrun serve --config toolrun.yaml
//
// Manage tools without a running server:
//
//	toolrun tools list
//	toolrun tools create my_tool --file my_tool.star
//	toolrun tools disable my_tool
//
// Inspect stored large responses:
//
//	toolrun responses get <id>
//	toolrun responses prune --older-than 72h
//
// # Environment Variables
//
//   - TOOLRUN_CONFIG: Path to configuration file (default: toolrun.yaml)
//   - OPENAI_API_KEY: used when assistant.api_key is not set
//   - UNUSUAL_WHALES_API_KEY: used when tools.builtin.unusual_whales.api_key is not set
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "toolrun",
		Short: "toolrun - assistant run loop with dynamic tools",
		Long: `toolrun streams assistant runs to chat clients and resolves the
assistant's tool calls against a registry of built-in and script tools.

Tools live in a directory of tools_config.json plus <name>.star sources and
are reloaded whenever that directory changes.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file (default: $TOOLRUN_CONFIG or toolrun.yaml)")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildToolsCmd(),
		buildResponsesCmd(),
		buildConfigCmd(),
	)
	return rootCmd
}
