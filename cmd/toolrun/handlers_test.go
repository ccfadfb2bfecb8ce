package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const echoScript = `
description = "echo"
parameters = {"type": "object", "properties": {"msg": {"type": "string"}}}

def execute(args):
    return {"echo": args.get("msg", "")}
`

func writeTestConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	toolsDir := filepath.Join(dir, "tools")
	cfg := fmt.Sprintf(`
tools:
  dir: %s
responses:
  backend: memory
logging:
  level: error
  format: text
`, toolsDir)
	path := filepath.Join(dir, "toolrun.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path, dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestToolsCommands(t *testing.T) {
	cfgPath, dir := writeTestConfig(t)
	script := filepath.Join(dir, "echo.star")
	if err := os.WriteFile(script, []byte(echoScript), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}

	out, err := execute(t, "tools", "create", "echo", "--file", script, "--config", cfgPath)
	if err != nil || !strings.Contains(out, "Tool echo created successfully") {
		t.Fatalf("create = %q, %v", out, err)
	}
	if _, err := execute(t, "tools", "create", "echo", "--file", script, "--config", cfgPath); err == nil {
		t.Fatal("expected conflict on second create")
	}

	out, err = execute(t, "tools", "list", "--config", cfgPath)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if fields := strings.Fields(lineFor(out, "echo")); len(fields) != 4 || fields[1] != "script" || fields[3] != "loaded" {
		t.Fatalf("list output:\n%s", out)
	}

	out, err = execute(t, "tools", "call", "echo", "--args", `{"msg":"hi"}`, "--config", cfgPath)
	if err != nil || strings.TrimSpace(out) != `{"echo":"hi"}` {
		t.Fatalf("call = %q, %v", out, err)
	}

	out, err = execute(t, "tools", "show", "echo", "--config", cfgPath)
	if err != nil || out != echoScript {
		t.Fatalf("show = %q, %v", out, err)
	}

	if _, err := execute(t, "tools", "disable", "echo", "--config", cfgPath); err != nil {
		t.Fatalf("disable: %v", err)
	}
	out, _ = execute(t, "tools", "list", "--config", cfgPath)
	if fields := strings.Fields(lineFor(out, "echo")); len(fields) != 4 || fields[3] != "disabled" {
		t.Fatalf("list after disable:\n%s", out)
	}
	if _, err := execute(t, "tools", "call", "echo", "--config", cfgPath); err == nil {
		t.Fatal("expected disabled tool to be unavailable")
	}

	if _, err := execute(t, "tools", "delete", "echo", "--config", cfgPath); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := execute(t, "tools", "show", "echo", "--config", cfgPath); err == nil {
		t.Fatal("expected show after delete to fail")
	}
}

func TestToolsCreateBuiltin(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	if _, err := execute(t, "tools", "create", "get_option_contracts", "--config", cfgPath); err != nil {
		t.Fatalf("create builtin: %v", err)
	}
	out, err := execute(t, "tools", "show", "get_option_contracts", "--config", cfgPath)
	if err != nil || !strings.Contains(out, "built-in") {
		t.Fatalf("show = %q, %v", out, err)
	}
	if _, err := execute(t, "tools", "create", "not_a_builtin", "--config", cfgPath); err == nil {
		t.Fatal("expected empty source for an unknown name to fail")
	}
}

func TestConfigCommands(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	out, err := execute(t, "config", "validate", "--config", cfgPath)
	if err != nil || !strings.Contains(out, "is valid") {
		t.Fatalf("validate = %q, %v", out, err)
	}

	out, err = execute(t, "config", "schema")
	if err != nil || !strings.Contains(out, "toolrun configuration") {
		t.Fatalf("schema = %q, %v", out, err)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("responses:\n  backend: floppy\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "config", "validate", "--config", bad); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestResponsesPruneRequiresCutoff(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	if _, err := execute(t, "responses", "prune", "--config", cfgPath); err == nil {
		t.Fatal("expected error without a cutoff")
	}
	out, err := execute(t, "responses", "prune", "--older-than", "1h", "--config", cfgPath)
	if err != nil || !strings.Contains(out, "Pruned 0") {
		t.Fatalf("prune = %q, %v", out, err)
	}
	if _, err := execute(t, "responses", "get", "missing", "--config", cfgPath); err == nil {
		t.Fatal("expected not found")
	}
}

func lineFor(out, name string) string {
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, name+" ") {
			return line
		}
	}
	return ""
}

func TestExamplePluginsLoad(t *testing.T) {
	dir := t.TempDir()
	abs, err := filepath.Abs(filepath.Join("..", "..", "examples", "tool_plugins"))
	if err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "toolrun.yaml")
	cfg := fmt.Sprintf("tools:\n  dir: %s\nresponses:\n  backend: memory\nlogging:\n  level: error\n", abs)
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "tools", "list", "--config", cfgPath)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, name := range []string{
		"get_option_contracts",
		"get_option_contract_historic",
		"options_screener",
		"dashboard_component_generator",
		"get_stock_quote",
	} {
		fields := strings.Fields(lineFor(out, name))
		if len(fields) != 4 || fields[3] != "loaded" {
			t.Errorf("%s not loaded:\n%s", name, out)
		}
	}
}
