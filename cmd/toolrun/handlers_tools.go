package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/toolrun/internal/tools"
)

// =============================================================================
// Tools Command Handlers
// =============================================================================

// withApp loads config, builds the shared components, runs fn and closes them.
func withApp(cmd *cobra.Command, configPath string, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()
	return fn(ctx, a)
}

func runToolsList(cmd *cobra.Command, configPath string, jsonOut bool) error {
	return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
		if err := a.registry.Load(ctx); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOut {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(a.registry.Describe())
		}

		defs, err := a.registry.Definitions(ctx)
		if err != nil {
			return err
		}
		if len(defs) == 0 {
			fmt.Fprintf(out, "No tools defined in %s\n", a.toolStore.Dir())
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tKIND\tENABLED\tSTATUS")
		for _, def := range defs {
			kind := "builtin"
			if def.Source != "" {
				kind = "script"
			}
			status := "disabled"
			if def.Enabled {
				status = "failed"
				if inst, ok := a.registry.Get(def.Name); ok {
					status = "loaded"
					kind = inst.Kind()
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", def.Name, kind, def.Enabled, status)
		}
		return w.Flush()
	})
}

func runToolsShow(cmd *cobra.Command, configPath, name string) error {
	return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
		code, err := a.registry.Source(ctx, name)
		if err != nil {
			return err
		}
		if code == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "%s is a built-in tool and has no script source\n", name)
			return nil
		}
		_, err = io.WriteString(cmd.OutOrStdout(), code)
		return err
	})
}

func runToolsCreate(cmd *cobra.Command, configPath, name, file string) error {
	source, err := readSource(cmd, file)
	if err != nil {
		return err
	}
	return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
		if err := a.registry.Create(ctx, name, source); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Tool %s created successfully\n", name)
		return nil
	})
}

func runToolsUpdate(cmd *cobra.Command, configPath, name, file string) error {
	source, err := readSource(cmd, file)
	if err != nil {
		return err
	}
	return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
		if err := a.registry.Update(ctx, name, source); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Tool %s updated successfully\n", name)
		return nil
	})
}

func runToolsDelete(cmd *cobra.Command, configPath, name string) error {
	return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
		if err := a.registry.Delete(ctx, name); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Tool %s deleted\n", name)
		return nil
	})
}

func runToolsSetEnabled(cmd *cobra.Command, configPath, name string, enabled bool) error {
	return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
		if err := a.registry.SetEnabled(ctx, name, enabled); err != nil {
			return err
		}
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Tool %s %s\n", name, state)
		return nil
	})
}

func runToolsCall(cmd *cobra.Command, configPath, name, argsJSON string) error {
	if !json.Valid([]byte(argsJSON)) {
		return fmt.Errorf("--args must be valid JSON")
	}
	return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
		if err := a.registry.Load(ctx); err != nil {
			return err
		}
		res := a.registry.Execute(ctx, name, json.RawMessage(argsJSON))
		if errors.Is(res.Err, tools.ErrNotFound) {
			return res.Err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(res.Output))
		if res.Failed() {
			return res.Err
		}
		return nil
	})
}

// readSource reads a script from file, or from stdin when file is "-".
// An empty path yields empty source, which is valid only for built-ins.
func readSource(cmd *cobra.Command, file string) (string, error) {
	switch strings.TrimSpace(file) {
	case "":
		return "", nil
	case "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", file, err)
		}
		return string(data), nil
	}
}
