package testharness

import (
	"context"
	"fmt"
	"sync"

	"github.com/haasonsaas/toolrun/internal/assistant"
	"github.com/haasonsaas/toolrun/internal/tools"
)

// Step is one scripted PollRun observation.
type Step struct {
	Status    assistant.RunStatus
	Action    *assistant.RequiredAction
	LastError string
	// Err makes the poll fail instead of returning a state.
	Err error
}

// ToolCalls is shorthand for a submit_tool_outputs required action.
func ToolCalls(calls ...assistant.ToolCallRequest) *assistant.RequiredAction {
	return &assistant.RequiredAction{Type: assistant.ActionSubmitToolOutputs, ToolCalls: calls}
}

// ScriptedBackend is a deterministic assistant.Backend. Each StartRun
// consumes the next script; polls walk the steps of the current script and
// repeat the last step once it is exhausted.
type ScriptedBackend struct {
	mu sync.Mutex

	scripts      [][]Step
	step         int
	runs         int
	sessions     int
	FinalMessage string
	// Fail maps an operation name (e.g. "start_run") to the error it returns.
	Fail map[string]error

	Profiles  [][]tools.Descriptor
	Messages  []string
	Submitted [][]assistant.ToolResult
	Polls     int
	Ops       []string
}

// NewScriptedBackend creates a backend with one script per expected run.
func NewScriptedBackend(scripts ...[]Step) *ScriptedBackend {
	return &ScriptedBackend{scripts: scripts, FinalMessage: "done", Fail: map[string]error{}}
}

func (b *ScriptedBackend) record(op string) error {
	b.Ops = append(b.Ops, op)
	return b.Fail[op]
}

func (b *ScriptedBackend) CreateSession(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("create_session"); err != nil {
		return "", err
	}
	b.sessions++
	return fmt.Sprintf("thread_%d", b.sessions), nil
}

func (b *ScriptedBackend) CreateProfile(ctx context.Context, descriptors []tools.Descriptor) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("create_profile"); err != nil {
		return "", err
	}
	b.Profiles = append(b.Profiles, descriptors)
	return fmt.Sprintf("asst_%d", len(b.Profiles)), nil
}

func (b *ScriptedBackend) PostMessage(ctx context.Context, sessionID, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("post_message"); err != nil {
		return err
	}
	b.Messages = append(b.Messages, text)
	return nil
}

func (b *ScriptedBackend) StartRun(ctx context.Context, profileID, sessionID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("start_run"); err != nil {
		return "", err
	}
	b.runs++
	b.step = 0
	return fmt.Sprintf("run_%d", b.runs), nil
}

func (b *ScriptedBackend) PollRun(ctx context.Context, sessionID, runID string) (*assistant.RunState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("poll_run"); err != nil {
		return nil, err
	}
	b.Polls++
	if b.runs == 0 || b.runs > len(b.scripts) || len(b.scripts[b.runs-1]) == 0 {
		return nil, fmt.Errorf("no script for %s", runID)
	}
	script := b.scripts[b.runs-1]
	s := script[min(b.step, len(script)-1)]
	b.step++
	if s.Err != nil {
		return nil, s.Err
	}
	return &assistant.RunState{
		ConversationID: sessionID,
		RunID:          runID,
		Status:         s.Status,
		RequiredAction: s.Action,
		LastError:      s.LastError,
	}, nil
}

func (b *ScriptedBackend) SubmitToolResults(ctx context.Context, sessionID, runID string, results []assistant.ToolResult) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("submit_tool_results"); err != nil {
		return err
	}
	b.Submitted = append(b.Submitted, append([]assistant.ToolResult(nil), results...))
	return nil
}

func (b *ScriptedBackend) ReadFinalMessage(ctx context.Context, sessionID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("read_final_message"); err != nil {
		return "", err
	}
	return b.FinalMessage, nil
}

// OpsSnapshot returns a copy of the recorded operation names.
func (b *ScriptedBackend) OpsSnapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.Ops...)
}

var _ assistant.Backend = (*ScriptedBackend)(nil)
