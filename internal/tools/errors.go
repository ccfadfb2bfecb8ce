package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates the named tool does not exist.
	ErrNotFound = errors.New("tool not found")

	// ErrConflict indicates a tool with the same name already exists.
	ErrConflict = errors.New("tool already exists")
)

// ValidationError reports malformed input: a bad tool name, source that does
// not compile, or arguments rejected by the parameter schema.
type ValidationError struct {
	Field   string
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// ExecutionErrorType classifies a failed invocation.
type ExecutionErrorType string

const (
	ExecutionInvalidArgs ExecutionErrorType = "invalid_args"
	ExecutionFailed      ExecutionErrorType = "execution"
	ExecutionTimeout     ExecutionErrorType = "timeout"
	ExecutionCanceled    ExecutionErrorType = "canceled"
	ExecutionPanic       ExecutionErrorType = "panic"
	ExecutionEncoding    ExecutionErrorType = "encoding"
)

// ExecutionError is a captured tool failure. It is logged and converted to an
// ErrorPayload; it never terminates a run.
type ExecutionError struct {
	Type     ExecutionErrorType
	ToolName string
	Message  string
	Cause    error
}

func (e *ExecutionError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[tool:%s]", e.Type))
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// Payload returns the message reported to the assistant.
func (e *ExecutionError) Payload() ErrorPayload {
	if e.Message != "" {
		return ErrorPayload{Error: e.Message}
	}
	if e.Cause != nil {
		return ErrorPayload{Error: e.Cause.Error()}
	}
	return ErrorPayload{Error: string(e.Type)}
}

func classifyExecError(toolName string, err error) *ExecutionError {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr
	}
	typ := ExecutionFailed
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		typ = ExecutionTimeout
	case errors.Is(err, context.Canceled):
		typ = ExecutionCanceled
	}
	return &ExecutionError{Type: typ, ToolName: toolName, Message: err.Error(), Cause: err}
}

// LoadError records a definition that could not be turned into an instance.
type LoadError struct {
	Name  string
	Cause error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load tool %s: %v", e.Name, e.Cause)
}

func (e *LoadError) Unwrap() error { return e.Cause }
