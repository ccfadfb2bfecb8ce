package main

import (
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd creates the "serve" command that starts the HTTP gateway.
func buildServeCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the toolrun HTTP server",
		Long: `Start the toolrun HTTP server.

The server will:
1. Load configuration and open the large-response store
2. Load the tool registry and, if enabled, watch the tools directory
3. Connect to the assistant backend
4. Serve chat (SSE and websocket), tool management, health and metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  toolrun serve

  # Start with debug logging
  toolrun serve --config /etc/toolrun/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// =============================================================================
// Tools Commands
// =============================================================================

func buildToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Manage tool definitions in the tools directory",
		Long: `Manage tool definitions directly in the tools directory.

A running server with tools.watch enabled picks up these changes on its own.`,
	}
	cmd.AddCommand(
		buildToolsListCmd(),
		buildToolsShowCmd(),
		buildToolsCreateCmd(),
		buildToolsUpdateCmd(),
		buildToolsDeleteCmd(),
		buildToolsToggleCmd("enable", true),
		buildToolsToggleCmd("disable", false),
		buildToolsCallCmd(),
	)
	return cmd
}

func buildToolsListCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored tools and whether they load",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsList(cmd, configPath, jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the function-calling descriptors as JSON")
	return cmd
}

func buildToolsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print a tool's script source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsShow(cmd, configPath, args[0])
		},
	}
}

func buildToolsCreateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a tool from a script file, or enable a built-in by name",
		Example: `  toolrun tools create iv_rank --file iv_rank.star
  toolrun tools create get_option_contracts`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsCreate(cmd, configPath, args[0], file)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Script source file (- for stdin)")
	return cmd
}

func buildToolsUpdateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "update <name>",
		Short: "Replace a tool's script source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsUpdate(cmd, configPath, args[0], file)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Script source file (- for stdin)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func buildToolsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsDelete(cmd, configPath, args[0])
		},
	}
}

func buildToolsToggleCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name>",
		Short: "Mark a tool " + use + "d",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsSetEnabled(cmd, configPath, args[0], enabled)
		},
	}
}

func buildToolsCallCmd() *cobra.Command {
	var argsJSON string
	cmd := &cobra.Command{
		Use:     "call <name>",
		Short:   "Invoke a tool directly with JSON arguments",
		Example: `  toolrun tools call get_option_contracts --args '{"ticker":"AAPL"}'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsCall(cmd, configPath, args[0], argsJSON)
		},
	}
	cmd.Flags().StringVar(&argsJSON, "args", "{}", "Tool arguments as a JSON object")
	return cmd
}

// =============================================================================
// Responses Commands
// =============================================================================

func buildResponsesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "responses",
		Short: "Inspect and prune stored large responses",
	}
	cmd.AddCommand(buildResponsesGetCmd(), buildResponsesPruneCmd())
	return cmd
}

func buildResponsesGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print a stored response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResponsesGet(cmd, configPath, args[0])
		},
	}
}

func buildResponsesPruneCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete stored responses older than a cutoff",
		Long: `Delete stored responses older than --older-than, or older than
responses.retention from the config when the flag is omitted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResponsesPrune(cmd, configPath, olderThan)
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Age cutoff (e.g. 72h)")
	return cmd
}

// =============================================================================
// Config Commands
// =============================================================================

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "schema",
			Short: "Print the configuration JSON Schema",
			Args:  cobra.NoArgs,
			RunE:  runConfigSchema,
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the configuration file",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigValidate(cmd, configPath)
			},
		},
	)
	return cmd
}
