package runloop

import (
	"errors"
	"fmt"

	"github.com/haasonsaas/toolrun/internal/assistant"
)

// ErrEmptyMessage is returned by Run for a blank user message.
var ErrEmptyMessage = errors.New("message is required")

// Messages surfaced to the client as error events.
const (
	msgUnexpectedAction = "unexpected action"
	msgUnexpectedStatus = "an unexpected error occurred, please try again"
	msgBackend          = "the assistant is unavailable, please try again"
)

// TerminalError is a run that ended without completing: a failed, expired
// or cancelled status, or a required action the loop cannot perform. It is
// not retried.
type TerminalError struct {
	Status assistant.RunStatus
	Detail string
}

func (e *TerminalError) Error() string {
	msg := fmt.Sprintf("run failed with status %s", e.Status)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}
