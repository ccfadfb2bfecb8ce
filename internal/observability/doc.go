// Package observability provides structured logging, Prometheus metrics and
// OpenTelemetry tracing for toolrun.
//
// # Logging
//
// NewLogger returns a *slog.Logger whose handler redacts secrets (API keys,
// bearer tokens, JWTs) and stamps every record with the correlation ids found
// in the context: request_id, client_session, conversation_id, run_id, tool
// and tool_call_id. Components accept a plain *slog.Logger so tests can pass
// slog.Default() or a discard logger.
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	ctx = observability.WithRunID(observability.WithConversationID(ctx, convID), runID)
//	logger.InfoContext(ctx, "run started")
//
// # Metrics
//
// NewMetrics registers every toolrun metric family with the given registerer.
// Passing a fresh prometheus.NewRegistry() keeps tests isolated.
//
// # Tracing
//
// NewTracer exports spans over OTLP/gRPC when an endpoint is configured and
// otherwise falls back to the global no-op provider.
package observability
