package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/toolrun/internal/config"
)

// =============================================================================
// Responses Command Handlers
// =============================================================================

func runResponsesGet(cmd *cobra.Command, configPath, id string) error {
	return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
		payload, err := a.guard.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("response %s: %w", id, err)
		}
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, payload, "", "  "); err != nil {
			pretty.Reset()
			pretty.Write(payload)
		}
		pretty.WriteByte('\n')
		_, err = pretty.WriteTo(cmd.OutOrStdout())
		return err
	})
}

func runResponsesPrune(cmd *cobra.Command, configPath string, olderThan time.Duration) error {
	return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
		if olderThan <= 0 {
			olderThan = a.cfg.Responses.Retention
		}
		if olderThan <= 0 {
			return fmt.Errorf("no cutoff: pass --older-than or set responses.retention")
		}
		removed, err := a.responseStore.Prune(ctx, time.Now().Add(-olderThan))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d stored responses older than %s\n", removed, olderThan)
		return nil
	})
}

// =============================================================================
// Config Command Handlers
// =============================================================================

func runConfigSchema(cmd *cobra.Command, args []string) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return err
}

func runConfigValidate(cmd *cobra.Command, configPath string) error {
	path := resolveConfigPath(configPath)
	if _, err := config.Load(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", path)
	return nil
}
