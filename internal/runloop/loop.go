// Package runloop drives an assistant run to a terminal state: it polls the
// backend, executes the tool calls the assistant requests and streams the
// observable transitions to the caller as events.
package runloop

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/toolrun/internal/assistant"
	"github.com/haasonsaas/toolrun/internal/backoff"
	"github.com/haasonsaas/toolrun/internal/observability"
	"github.com/haasonsaas/toolrun/internal/tools"
)

// DefaultPollInterval is the wait between polls of a queued or in-progress run.
const DefaultPollInterval = time.Second

// Tools is the registry surface the loop uses.
type Tools interface {
	Describe() []tools.Descriptor
	Execute(ctx context.Context, name string, raw json.RawMessage) tools.Result
}

// Config configures a Loop.
type Config struct {
	PollInterval time.Duration
	Sessions     *SessionCache
	Logger       *slog.Logger
	Metrics      *observability.Metrics
	Tracer       *observability.Tracer
}

// Loop runs conversations against a backend. A single run proceeds strictly
// sequentially; runs for different client sessions are independent, and a
// second message from the same client waits for the first run to finish.
type Loop struct {
	backend      assistant.Backend
	tools        Tools
	sessions     *SessionCache
	pollInterval time.Duration
	logger       *slog.Logger
	metrics      *observability.Metrics
	tracer       *observability.Tracer

	locksMu sync.Mutex
	locks   map[string]*sessionLock
}

// New creates a loop.
func New(backend assistant.Backend, registry Tools, cfg Config) *Loop {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Sessions == nil {
		cfg.Sessions = NewSessionCache(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		backend:      backend,
		tools:        registry,
		sessions:     cfg.Sessions,
		pollInterval: cfg.PollInterval,
		logger:       cfg.Logger.With("component", "runloop"),
		metrics:      cfg.Metrics,
		tracer:       cfg.Tracer,
		locks:        make(map[string]*sessionLock),
	}
}

// Sessions exposes the session cache.
func (l *Loop) Sessions() *SessionCache { return l.sessions }

// Run posts message to the client's conversation and starts a run. Events
// are delivered on the returned channel as they happen; the channel is
// closed when the run reaches a terminal state, a backend call fails, or ctx
// is done.
func (l *Loop) Run(ctx context.Context, clientSession, message string) (<-chan Event, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}
	events := make(chan Event, 1)
	go func() {
		defer close(events)
		l.run(ctx, clientSession, message, events)
	}()
	return events, nil
}

type runOutcome string

const (
	outcomeCompleted        runOutcome = "completed"
	outcomeFailed           runOutcome = "failed"
	outcomeUnexpectedAction runOutcome = "unexpected_action"
	outcomeUnexpectedStatus runOutcome = "unexpected_status"
	outcomeBackendError     runOutcome = "backend_error"
	outcomeCanceled         runOutcome = "canceled"
)

func (l *Loop) run(ctx context.Context, clientSession, message string, events chan<- Event) {
	start := time.Now()
	unlock := l.lockSession(clientSession)
	defer unlock()

	ctx = observability.WithClientSession(ctx, clientSession)
	outcome := l.drive(ctx, clientSession, message, events)
	l.metrics.RecordRun(string(outcome), time.Since(start).Seconds())
}

func (l *Loop) drive(ctx context.Context, clientSession, message string, events chan<- Event) runOutcome {
	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(ctx context.Context, op string, err error) runOutcome {
		if ctx.Err() != nil {
			l.logger.InfoContext(ctx, "run abandoned", "op", op, "error", err)
			return outcomeCanceled
		}
		l.logger.ErrorContext(ctx, "assistant backend call failed", "op", op, "error", err)
		emit(errorEvent(msgBackend))
		return outcomeBackendError
	}

	state, err := l.ensureSession(ctx, clientSession)
	if err != nil {
		return fail(ctx, "setup_session", err)
	}
	ctx = observability.WithConversationID(ctx, state.ConversationID)

	ctx, span := l.tracer.TraceRun(ctx, clientSession, state.ConversationID)
	defer span.End()

	if err := l.backend.PostMessage(ctx, state.ConversationID, message); err != nil {
		observability.RecordError(span, err)
		return fail(ctx, "post_message", err)
	}
	runID, err := l.backend.StartRun(ctx, state.ProfileID, state.ConversationID)
	if err != nil {
		observability.RecordError(span, err)
		return fail(ctx, "start_run", err)
	}
	state.LastRunID = runID
	l.sessions.Put(clientSession, state)
	ctx = observability.WithRunID(ctx, runID)
	span.SetAttributes(attribute.String("run.id", runID))
	l.logger.InfoContext(ctx, "run started")

	for {
		run, err := l.backend.PollRun(ctx, state.ConversationID, runID)
		if err != nil {
			observability.RecordError(span, err)
			return fail(ctx, "poll_run", err)
		}
		l.metrics.RecordPoll(string(run.Status))
		l.logger.DebugContext(ctx, "run status", "status", run.Status)

		switch run.Status {
		case assistant.StatusCompleted:
			text, err := l.backend.ReadFinalMessage(ctx, state.ConversationID)
			if err != nil {
				observability.RecordError(span, err)
				return fail(ctx, "read_final_message", err)
			}
			if !emit(assistantMessage(text)) {
				return outcomeCanceled
			}
			l.logger.InfoContext(ctx, "run completed")
			return outcomeCompleted

		case assistant.StatusRequiresAction:
			action := run.RequiredAction
			if action == nil || action.Type != assistant.ActionSubmitToolOutputs {
				actionType := ""
				if action != nil {
					actionType = action.Type
				}
				l.logger.ErrorContext(ctx, "unexpected required action", "action", actionType)
				emit(errorEvent(msgUnexpectedAction))
				return outcomeUnexpectedAction
			}
			results, ok := l.executeCalls(ctx, action.ToolCalls, emit)
			if !ok {
				return outcomeCanceled
			}
			if err := l.backend.SubmitToolResults(ctx, state.ConversationID, runID, results); err != nil {
				observability.RecordError(span, err)
				return fail(ctx, "submit_tool_results", err)
			}
			l.logger.DebugContext(ctx, "tool results submitted", "count", len(results))

		case assistant.StatusFailed, assistant.StatusExpired, assistant.StatusCancelled:
			terr := &TerminalError{Status: run.Status, Detail: run.LastError}
			observability.RecordError(span, terr)
			l.logger.ErrorContext(ctx, "run ended without completing", "status", run.Status, "detail", run.LastError)
			emit(errorEvent(terr.Error()))
			return outcomeFailed

		case assistant.StatusQueued, assistant.StatusInProgress:
			if !l.wait(ctx) {
				l.logger.InfoContext(ctx, "run abandoned while waiting", "status", run.Status)
				return outcomeCanceled
			}

		default:
			l.logger.ErrorContext(ctx, "unexpected run status", "status", run.Status)
			emit(errorEvent(msgUnexpectedStatus))
			return outcomeUnexpectedStatus
		}
	}
}

// ensureSession returns the client's conversation, creating the
// conversation and the tool-bearing profile on first use. The profile
// captures the registry's descriptors once per session.
func (l *Loop) ensureSession(ctx context.Context, clientSession string) (SessionState, error) {
	state := l.sessions.Get(clientSession)
	if state.ProfileID == "" {
		descriptors := l.tools.Describe()
		profileID, err := l.backend.CreateProfile(ctx, descriptors)
		if err != nil {
			return state, err
		}
		state.ProfileID = profileID
		l.logger.InfoContext(ctx, "assistant profile created", "profile_id", profileID, "tools", len(descriptors))
	}
	if state.ConversationID == "" {
		conversationID, err := l.backend.CreateSession(ctx)
		if err != nil {
			return state, err
		}
		state.ConversationID = conversationID
		l.logger.InfoContext(ctx, "conversation created", "conversation_id", conversationID)
	}
	l.sessions.Put(clientSession, state)
	return state, nil
}

// executeCalls runs each requested tool in order. A failing call still
// yields a result and an event; the batch is never cut short except by
// cancellation.
func (l *Loop) executeCalls(ctx context.Context, calls []assistant.ToolCallRequest, emit func(Event) bool) ([]assistant.ToolResult, bool) {
	results := make([]assistant.ToolResult, 0, len(calls))
	for _, call := range calls {
		if ctx.Err() != nil {
			return nil, false
		}
		callCtx := observability.WithToolCall(ctx, call.Name, call.ID)
		res := l.tools.Execute(callCtx, call.Name, json.RawMessage(call.RawArguments))
		if errors.Is(res.Err, tools.ErrNotFound) {
			l.logger.WarnContext(callCtx, "tool not found")
		}
		results = append(results, assistant.ToolResult{CallID: call.ID, Output: res.Output})
		if !emit(toolOutput(call.Name, res.Output)) {
			return nil, false
		}
	}
	return results, true
}

func (l *Loop) wait(ctx context.Context) bool {
	return backoff.Sleep(ctx, l.pollInterval) == nil
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func (l *Loop) lockSession(sessionID string) func() {
	if strings.TrimSpace(sessionID) == "" {
		return func() {}
	}

	l.locksMu.Lock()
	lock := l.locks[sessionID]
	if lock == nil {
		lock = &sessionLock{}
		l.locks[sessionID] = lock
	}
	lock.refs++
	l.locksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		l.locksMu.Lock()
		lock.refs--
		if lock.refs <= 0 {
			delete(l.locks, sessionID)
		}
		l.locksMu.Unlock()
	}
}
