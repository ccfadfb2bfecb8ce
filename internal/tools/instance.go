package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/toolrun/internal/observability"
)

// Instance is the live, executable binding of an enabled Definition.
type Instance struct {
	def    Definition
	tool   Tool
	kind   string
	schema *jsonschema.Schema
	env    *invokeEnv
}

// invokeEnv carries the collaborators shared by every instance of a registry.
type invokeEnv struct {
	guard   Guard
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

func newInstance(def Definition, tool Tool, kind string, env *invokeEnv) (*Instance, error) {
	if tool.Name() != def.Name {
		return nil, &ValidationError{Field: "name", Message: fmt.Sprintf("implementation reports name %q, want %q", tool.Name(), def.Name)}
	}
	schema, err := CompileSchema(def.Name, tool.Schema())
	if err != nil {
		return nil, err
	}
	if env == nil {
		env = &invokeEnv{logger: slog.Default()}
	}
	return &Instance{def: def, tool: tool, kind: kind, schema: schema, env: env}, nil
}

func (i *Instance) Name() string            { return i.def.Name }
func (i *Instance) Description() string     { return i.tool.Description() }
func (i *Instance) Schema() json.RawMessage { return i.tool.Schema() }

// Kind names the implementation behind the instance: "script" or "builtin:<name>".
func (i *Instance) Kind() string { return i.kind }

// Descriptor returns the function-calling description of the instance.
func (i *Instance) Descriptor() Descriptor {
	return Descriptor{
		Name:        i.def.Name,
		Description: i.tool.Description(),
		Parameters:  i.tool.Schema(),
	}
}

// Result is the outcome of one invocation. Output is always valid JSON; on
// failure it holds an ErrorPayload and Err describes the cause.
type Result struct {
	Output json.RawMessage
	Err    error
}

// Failed reports whether the invocation degraded to an error payload.
func (r Result) Failed() bool { return r.Err != nil }

// Invoke parses raw JSON arguments, validates them against the parameter
// schema, executes the tool and applies the guard. It never returns a raw
// fault: every failure becomes an ErrorPayload in Result.Output.
func (i *Instance) Invoke(ctx context.Context, raw json.RawMessage) Result {
	start := time.Now()
	ctx, span := i.env.tracer.TraceToolExecution(ctx, i.def.Name, toolCallID(ctx))
	defer span.End()

	value, err := i.invoke(ctx, raw)
	status := "success"
	if err != nil {
		execErr := classifyExecError(i.def.Name, err)
		status = string(execErr.Type)
		observability.RecordError(span, execErr)
		i.env.logger.WarnContext(ctx, "tool invocation failed",
			"tool", i.def.Name,
			"error_type", execErr.Type,
			"error", execErr.Message,
		)
		value = execErr.Payload()
		err = execErr
	} else if _, ok := value.(ErrorPayload); ok {
		status = "error"
	}
	i.env.metrics.RecordToolExecution(i.def.Name, status, time.Since(start).Seconds())

	out, merr := json.Marshal(value)
	if merr != nil {
		execErr := &ExecutionError{Type: ExecutionEncoding, ToolName: i.def.Name, Message: "tool result is not JSON serializable", Cause: merr}
		out, _ = json.Marshal(execErr.Payload())
		return Result{Output: out, Err: execErr}
	}
	return Result{Output: out, Err: err}
}

func (i *Instance) invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := i.decodeArgs(raw)
	if err != nil {
		return nil, err
	}

	value, err := i.execute(ctx, args)
	if err != nil {
		return nil, err
	}
	if i.env.guard == nil {
		return value, nil
	}
	return i.env.guard.Wrap(ctx, value)
}

func (i *Instance) decodeArgs(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		trimmed = []byte("{}")
	}
	var decoded any
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return nil, &ExecutionError{Type: ExecutionInvalidArgs, ToolName: i.def.Name, Message: "arguments are not valid JSON: " + err.Error(), Cause: err}
	}
	args, ok := decoded.(map[string]any)
	if !ok {
		return nil, &ExecutionError{Type: ExecutionInvalidArgs, ToolName: i.def.Name, Message: "arguments must be a JSON object"}
	}
	if err := i.schema.Validate(args); err != nil {
		verr := &ValidationError{Field: "arguments", Message: describeSchemaError(err), Cause: err}
		return nil, &ExecutionError{Type: ExecutionInvalidArgs, ToolName: i.def.Name, Message: verr.Error(), Cause: verr}
	}
	return args, nil
}

func (i *Instance) execute(ctx context.Context, args map[string]any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			i.env.logger.ErrorContext(ctx, "tool panicked",
				"tool", i.def.Name,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			value = nil
			err = &ExecutionError{Type: ExecutionPanic, ToolName: i.def.Name, Message: fmt.Sprintf("tool %s failed unexpectedly", i.def.Name)}
		}
	}()
	return i.tool.Execute(ctx, args)
}

func toolCallID(ctx context.Context) string {
	if id, ok := ctx.Value(observability.ToolCallIDKey).(string); ok {
		return id
	}
	return ""
}
