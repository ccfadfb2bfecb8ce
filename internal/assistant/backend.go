// Package assistant defines the collaborator interface the run loop drives
// and an implementation backed by the OpenAI Assistants API.
package assistant

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/toolrun/internal/tools"
)

// RunStatus is the lifecycle state of a run as reported by the backend.
type RunStatus string

const (
	StatusQueued         RunStatus = "queued"
	StatusInProgress     RunStatus = "in_progress"
	StatusRequiresAction RunStatus = "requires_action"
	StatusCompleted      RunStatus = "completed"
	StatusFailed         RunStatus = "failed"
	StatusExpired        RunStatus = "expired"
	StatusCancelled      RunStatus = "cancelled"
)

// ActionSubmitToolOutputs is the only required action the run loop handles.
const ActionSubmitToolOutputs = "submit_tool_outputs"

// RunState is one observation of a run.
type RunState struct {
	ConversationID string
	RunID          string
	Status         RunStatus
	RequiredAction *RequiredAction
	// LastError carries the backend's failure detail for failed runs.
	LastError string
}

// RequiredAction asks the caller to do something before the run can continue.
type RequiredAction struct {
	Type      string
	ToolCalls []ToolCallRequest
}

// ToolCallRequest is one function call the assistant wants executed.
type ToolCallRequest struct {
	ID           string
	Name         string
	RawArguments string
}

// ToolResult answers a ToolCallRequest.
type ToolResult struct {
	CallID string
	Output json.RawMessage
}

// Backend is the remote assistant service. Sessions are conversation
// threads; profiles are assistant configurations carrying the tool list.
type Backend interface {
	CreateSession(ctx context.Context) (string, error)
	CreateProfile(ctx context.Context, descriptors []tools.Descriptor) (string, error)
	PostMessage(ctx context.Context, sessionID, text string) error
	StartRun(ctx context.Context, profileID, sessionID string) (string, error)
	PollRun(ctx context.Context, sessionID, runID string) (*RunState, error)
	SubmitToolResults(ctx context.Context, sessionID, runID string, results []ToolResult) error
	ReadFinalMessage(ctx context.Context, sessionID string) (string, error)
}
