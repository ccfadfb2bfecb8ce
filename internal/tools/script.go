package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	starlarkjson "go.starlark.net/lib/json"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

const (
	maxScriptResponseBytes = 10 << 20
	threadContextKey       = "toolrun.context"
)

// ScriptConfig bounds script execution.
type ScriptConfig struct {
	MaxSteps     uint64
	Timeout      time.Duration
	EnvAllowlist []string
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// ScriptEngine compiles starlark tool sources. A script defines three
// globals:
//
//	description = "Fetch option contracts for a ticker"
//	parameters = {"type": "object", "properties": {"ticker": {"type": "string"}}, "required": ["ticker"]}
//	def execute(args):
//	    resp = http.get("https://example.test/" + args["ticker"], headers={"Authorization": "Bearer " + env("API_KEY")})
//	    if resp.status != 200:
//	        return {"error": "Failed to fetch data: %d" % resp.status}
//	    return resp.json()
//
// The predeclared environment provides http.get, env (restricted to the
// allowlist), json.encode/json.decode and struct.
type ScriptEngine struct {
	maxSteps uint64
	timeout  time.Duration
	envAllow map[string]bool
	client   *http.Client
	logger   *slog.Logger
	http     *starlarkstruct.Module
}

// NewScriptEngine creates an engine with the given limits.
func NewScriptEngine(cfg ScriptConfig) *ScriptEngine {
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = 1_000_000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	e := &ScriptEngine{
		maxSteps: cfg.MaxSteps,
		timeout:  cfg.Timeout,
		envAllow: make(map[string]bool, len(cfg.EnvAllowlist)),
		client:   cfg.HTTPClient,
		logger:   cfg.Logger,
	}
	for _, name := range cfg.EnvAllowlist {
		e.envAllow[name] = true
	}
	e.http = &starlarkstruct.Module{
		Name: "http",
		Members: starlark.StringDict{
			"get": starlark.NewBuiltin("http.get", e.httpGet),
		},
	}
	return e
}

// Compile executes the module top level and extracts the tool globals.
func (e *ScriptEngine) Compile(name, source string) (Tool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	thread := e.newThread(ctx, name)
	stop := e.cancelOnDone(ctx, thread)
	globals, err := starlark.ExecFileOptions(&syntax.FileOptions{}, thread, name+ScriptExt, source, e.predeclared())
	stop()
	if err != nil {
		return nil, &ValidationError{Field: "code", Message: scriptErrorMessage(err), Cause: err}
	}
	globals.Freeze()

	description, ok := starlark.AsString(globals["description"])
	if !ok || description == "" {
		return nil, &ValidationError{Field: "code", Message: "script must define a non-empty string `description`"}
	}
	params, ok := globals["parameters"].(*starlark.Dict)
	if !ok {
		return nil, &ValidationError{Field: "code", Message: "script must define a dict `parameters`"}
	}
	schema, err := encodeStarlark(thread, params)
	if err != nil {
		return nil, &ValidationError{Field: "code", Message: "parameters: " + err.Error(), Cause: err}
	}
	execute, ok := globals["execute"].(starlark.Callable)
	if !ok {
		return nil, &ValidationError{Field: "code", Message: "script must define a function `execute(args)`"}
	}

	return &scriptTool{
		engine:      e,
		name:        name,
		description: description,
		schema:      schema,
		execute:     execute,
	}, nil
}

func (e *ScriptEngine) predeclared() starlark.StringDict {
	return starlark.StringDict{
		"http":   e.http,
		"json":   starlarkjson.Module,
		"env":    starlark.NewBuiltin("env", e.env),
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
}

func (e *ScriptEngine) newThread(ctx context.Context, name string) *starlark.Thread {
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			e.logger.DebugContext(ctx, "tool script output", "tool", name, "msg", msg)
		},
	}
	thread.SetLocal(threadContextKey, ctx)
	thread.SetMaxExecutionSteps(e.maxSteps)
	return thread
}

// cancelOnDone cancels thread when ctx ends. The returned func releases the watcher.
func (e *ScriptEngine) cancelOnDone(ctx context.Context, thread *starlark.Thread) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()
	return func() { close(done) }
}

func (e *ScriptEngine) env(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	if !e.envAllow[name] {
		return nil, fmt.Errorf("env: %s is not in the allowlist", name)
	}
	value, ok := os.LookupEnv(name)
	if !ok || value == "" {
		return starlark.None, nil
	}
	return starlark.String(value), nil
}

func (e *ScriptEngine) httpGet(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		rawURL  string
		params  *starlark.Dict
		headers *starlark.Dict
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "url", &rawURL, "params?", &params, "headers?", &headers); err != nil {
		return nil, err
	}
	ctx, _ := thread.Local(threadContextKey).(context.Context)
	if ctx == nil {
		ctx = context.Background()
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%s: unsupported scheme %q", b.Name(), u.Scheme)
	}
	if params != nil {
		q := u.Query()
		for _, item := range params.Items() {
			key, value, err := stringPair(item)
			if err != nil {
				return nil, fmt.Errorf("%s: params: %w", b.Name(), err)
			}
			if value == "" {
				continue
			}
			q.Set(key, value)
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	req.Header.Set("Accept", "application/json")
	if headers != nil {
		for _, item := range headers.Items() {
			key, value, err := stringPair(item)
			if err != nil {
				return nil, fmt.Errorf("%s: headers: %w", b.Name(), err)
			}
			req.Header.Set(key, value)
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxScriptResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", b.Name(), err)
	}

	text := string(body)
	decode := starlark.NewBuiltin("response.json", func(thread *starlark.Thread, _ *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
		return starlark.Call(thread, starlarkjson.Module.Members["decode"], starlark.Tuple{starlark.String(text)}, nil)
	})
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"status": starlark.MakeInt(resp.StatusCode),
		"body":   starlark.String(text),
		"json":   decode,
	}), nil
}

type scriptTool struct {
	engine      *ScriptEngine
	name        string
	description string
	schema      json.RawMessage
	execute     starlark.Callable
}

func (t *scriptTool) Name() string            { return t.name }
func (t *scriptTool) Description() string     { return t.description }
func (t *scriptTool) Schema() json.RawMessage { return t.schema }

func (t *scriptTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, t.engine.timeout)
	defer cancel()
	thread := t.engine.newThread(ctx, t.name)
	stop := t.engine.cancelOnDone(ctx, thread)
	defer stop()

	payload, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	input, err := starlark.Call(thread, starlarkjson.Module.Members["decode"], starlark.Tuple{starlark.String(payload)}, nil)
	if err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}

	result, err := starlark.Call(thread, t.execute, starlark.Tuple{input}, nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", scriptErrorMessage(err), ctxErr)
		}
		return nil, errors.New(scriptErrorMessage(err))
	}

	encoded, err := encodeStarlark(thread, result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	var out any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if m, ok := out.(map[string]any); ok && len(m) == 1 {
		if msg, ok := m["error"].(string); ok {
			return ErrorPayload{Error: msg}, nil
		}
	}
	return out, nil
}

func encodeStarlark(thread *starlark.Thread, v starlark.Value) (json.RawMessage, error) {
	encoded, err := starlark.Call(thread, starlarkjson.Module.Members["encode"], starlark.Tuple{v}, nil)
	if err != nil {
		return nil, err
	}
	s, ok := starlark.AsString(encoded)
	if !ok {
		return nil, fmt.Errorf("json.encode returned %s", encoded.Type())
	}
	return json.RawMessage(s), nil
}

func stringPair(item starlark.Tuple) (string, string, error) {
	key, ok := starlark.AsString(item[0])
	if !ok {
		return "", "", fmt.Errorf("key %s is not a string", item[0])
	}
	switch v := item[1].(type) {
	case starlark.String:
		return key, string(v), nil
	case starlark.NoneType:
		return key, "", nil
	default:
		return key, v.String(), nil
	}
}

func scriptErrorMessage(err error) string {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Msg
	}
	return err.Error()
}
