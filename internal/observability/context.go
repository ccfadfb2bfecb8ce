package observability

import "context"

// ContextKey is the type for context keys used in logging.
type ContextKey string

const (
	RequestIDKey      ContextKey = "request_id"
	ClientSessionKey  ContextKey = "client_session"
	ConversationIDKey ContextKey = "conversation_id"
	RunIDKey          ContextKey = "run_id"
	ToolNameKey       ContextKey = "tool"
	ToolCallIDKey     ContextKey = "tool_call_id"
)

// correlationKeys is the order in which ids are attached to log records.
var correlationKeys = []ContextKey{
	RequestIDKey,
	ClientSessionKey,
	ConversationIDKey,
	RunIDKey,
	ToolNameKey,
	ToolCallIDKey,
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

func WithClientSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ClientSessionKey, id)
}

func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ConversationIDKey, id)
}

func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RunIDKey, id)
}

// WithToolCall tags the context with the tool being invoked and the call id
// the assistant backend assigned to it.
func WithToolCall(ctx context.Context, tool, callID string) context.Context {
	ctx = context.WithValue(ctx, ToolNameKey, tool)
	return context.WithValue(ctx, ToolCallIDKey, callID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

// GetConversationID retrieves the conversation ID from the context.
func GetConversationID(ctx context.Context) string {
	return stringValue(ctx, ConversationIDKey)
}

// GetRunID retrieves the run ID from the context.
func GetRunID(ctx context.Context) string {
	return stringValue(ctx, RunIDKey)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
