package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/toolrun/internal/backoff"
	"github.com/haasonsaas/toolrun/internal/observability"
	"github.com/haasonsaas/toolrun/internal/tools"
)

// OpenAIConfig configures OpenAIBackend.
type OpenAIConfig struct {
	APIKey string
	// BaseURL overrides the API endpoint, e.g. for a proxy or a test server.
	BaseURL      string
	Model        string
	Name         string
	Instructions string
	// RequestTimeout bounds each API call. Zero means no per-call timeout.
	RequestTimeout time.Duration
	MaxRetries     int
	// Backoff spaces out retries. A zero policy uses backoff.DefaultPolicy.
	Backoff    backoff.Policy
	HTTPClient *http.Client
	Logger     *slog.Logger
	Tracer     *observability.Tracer
}

// OpenAIBackend implements Backend with the OpenAI Assistants API. Sessions
// map to threads and profiles map to assistants.
//
// Calls are retried with exponential backoff on rate limits and 5xx
// responses. Per-call timeouts are retried only for reads and thread
// creation; a timed-out message post, run start or tool submission may
// already have been applied, so it is returned to the caller instead.
//
// OpenAIBackend is safe for concurrent use.
type OpenAIBackend struct {
	client       *openai.Client
	model        string
	name         string
	instructions string
	timeout      time.Duration
	maxRetries   int
	backoff      backoff.Policy
	logger       *slog.Logger
	tracer       *observability.Tracer
}

// NewOpenAIBackend creates a backend. Defaults: 3 attempts, exponential backoff from 1s.
func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("assistant api key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = backoff.DefaultPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAIBackend{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		name:         cfg.Name,
		instructions: cfg.Instructions,
		timeout:      cfg.RequestTimeout,
		maxRetries:   cfg.MaxRetries,
		backoff:      cfg.Backoff,
		logger:       cfg.Logger.With("component", "assistant"),
		tracer:       cfg.Tracer,
	}, nil
}

func (b *OpenAIBackend) CreateSession(ctx context.Context) (string, error) {
	var thread openai.Thread
	err := b.call(ctx, "create_session", repeatable, func(ctx context.Context) (err error) {
		thread, err = b.client.CreateThread(ctx, openai.ThreadRequest{})
		return err
	})
	if err != nil {
		return "", err
	}
	return thread.ID, nil
}

func (b *OpenAIBackend) CreateProfile(ctx context.Context, descriptors []tools.Descriptor) (string, error) {
	req := openai.AssistantRequest{
		Model:        b.model,
		Name:         &b.name,
		Instructions: &b.instructions,
		Tools:        convertTools(descriptors),
	}
	var created openai.Assistant
	err := b.call(ctx, "create_profile", mutating, func(ctx context.Context) (err error) {
		created, err = b.client.CreateAssistant(ctx, req)
		return err
	})
	if err != nil {
		return "", err
	}
	b.logger.DebugContext(ctx, "assistant created", "assistant_id", created.ID, "tools", len(descriptors))
	return created.ID, nil
}

func (b *OpenAIBackend) PostMessage(ctx context.Context, sessionID, text string) error {
	return b.call(ctx, "post_message", mutating, func(ctx context.Context) error {
		_, err := b.client.CreateMessage(ctx, sessionID, openai.MessageRequest{
			Role:    string(openai.ThreadMessageRoleUser),
			Content: text,
		})
		return err
	})
}

func (b *OpenAIBackend) StartRun(ctx context.Context, profileID, sessionID string) (string, error) {
	var run openai.Run
	err := b.call(ctx, "start_run", mutating, func(ctx context.Context) (err error) {
		run, err = b.client.CreateRun(ctx, sessionID, openai.RunRequest{AssistantID: profileID})
		return err
	})
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

func (b *OpenAIBackend) PollRun(ctx context.Context, sessionID, runID string) (*RunState, error) {
	var run openai.Run
	err := b.call(ctx, "poll_run", repeatable, func(ctx context.Context) (err error) {
		run, err = b.client.RetrieveRun(ctx, sessionID, runID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return convertRun(run), nil
}

func (b *OpenAIBackend) SubmitToolResults(ctx context.Context, sessionID, runID string, results []ToolResult) error {
	outputs := make([]openai.ToolOutput, len(results))
	for i, r := range results {
		outputs[i] = openai.ToolOutput{ToolCallID: r.CallID, Output: string(r.Output)}
	}
	return b.call(ctx, "submit_tool_results", mutating, func(ctx context.Context) error {
		_, err := b.client.SubmitToolOutputs(ctx, sessionID, runID, openai.SubmitToolOutputsRequest{ToolOutputs: outputs})
		return err
	})
}

// ReadFinalMessage returns the text of the newest message in the thread.
func (b *OpenAIBackend) ReadFinalMessage(ctx context.Context, sessionID string) (string, error) {
	limit := 1
	order := "desc"
	var list openai.MessagesList
	err := b.call(ctx, "read_final_message", repeatable, func(ctx context.Context) (err error) {
		list, err = b.client.ListMessage(ctx, sessionID, &limit, &order, nil, nil, nil)
		return err
	})
	if err != nil {
		return "", err
	}
	if len(list.Messages) == 0 {
		return "", errors.New("thread has no messages")
	}
	var parts []string
	for _, content := range list.Messages[0].Content {
		if content.Text != nil {
			parts = append(parts, content.Text.Value)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// callKind says whether an operation is safe to send twice.
type callKind int

const (
	// mutating calls change thread or run state on the server.
	mutating callKind = iota
	// repeatable calls are reads, or creates whose duplicate is harmless.
	repeatable
)

// call runs fn inside a span with the per-call timeout and retry policy.
func (b *OpenAIBackend) call(ctx context.Context, op string, kind callKind, fn func(ctx context.Context) error) error {
	ctx, span := b.tracer.TraceBackendCall(ctx, op)
	defer span.End()

	var lastErr error
	for attempt := 0; attempt < b.maxRetries; attempt++ {
		if attempt > 0 {
			if err := backoff.Sleep(ctx, b.backoff.Delay(attempt)); err != nil {
				return err
			}
		}

		lastErr = b.attempt(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil || !isRetryableError(lastErr, kind) {
			break
		}
		b.logger.WarnContext(ctx, "assistant call failed, retrying", "op", op, "attempt", attempt+1, "error", lastErr)
	}
	observability.RecordError(span, lastErr)
	return fmt.Errorf("assistant %s: %w", op, lastErr)
}

func (b *OpenAIBackend) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if b.timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return fn(ctx)
}

// isRetryableError reports rate limits and server errors, plus timeouts for
// repeatable calls.
func isRetryableError(err error, kind callKind) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return kind == repeatable && errors.Is(err, context.DeadlineExceeded)
}

func convertTools(descriptors []tools.Descriptor) []openai.AssistantTool {
	out := make([]openai.AssistantTool, len(descriptors))
	for i, d := range descriptors {
		var params map[string]any
		if err := json.Unmarshal(d.Parameters, &params); err != nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = openai.AssistantTool{
			Type: openai.AssistantToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  params,
			},
		}
	}
	return out
}

func convertRun(run openai.Run) *RunState {
	state := &RunState{
		ConversationID: run.ThreadID,
		RunID:          run.ID,
		Status:         RunStatus(run.Status),
	}
	if run.LastError != nil {
		state.LastError = run.LastError.Message
	}
	if run.RequiredAction != nil {
		action := &RequiredAction{Type: string(run.RequiredAction.Type)}
		if run.RequiredAction.SubmitToolOutputs != nil {
			for _, call := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
				action.ToolCalls = append(action.ToolCalls, ToolCallRequest{
					ID:           call.ID,
					Name:         call.Function.Name,
					RawArguments: call.Function.Arguments,
				})
			}
		}
		state.RequiredAction = action
	}
	return state
}
