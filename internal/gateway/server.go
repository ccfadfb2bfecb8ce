// Package gateway exposes the chat run loop, the tool registry and stored
// large responses over HTTP, server-sent events and websockets.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/toolrun/internal/config"
	"github.com/haasonsaas/toolrun/internal/observability"
	"github.com/haasonsaas/toolrun/internal/ratelimit"
	"github.com/haasonsaas/toolrun/internal/runloop"
	"github.com/haasonsaas/toolrun/internal/tools"
)

// Runner starts one assistant run and streams its events.
type Runner interface {
	Run(ctx context.Context, clientSession, message string) (<-chan runloop.Event, error)
}

// ResponseReader resolves large_response ids to their stored payloads.
type ResponseReader interface {
	Get(ctx context.Context, id string) (json.RawMessage, error)
}

// Options wires the server's collaborators.
type Options struct {
	Server    config.ServerConfig
	Session   config.SessionConfig
	Metrics   config.MetricsConfig
	Registry  *tools.Registry
	Runner    Runner
	Responses ResponseReader
	// Gatherer backs the metrics endpoint. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	Recorder *observability.Metrics
	Logger   *slog.Logger
}

// Server is the HTTP gateway.
type Server struct {
	opts       Options
	registry   *tools.Registry
	runner     Runner
	responses  ResponseReader
	sessions   *SessionManager
	metrics    *observability.Metrics
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	limiter    *ratelimit.Limiter
	handler    http.Handler
	httpServer *http.Server
	listener   net.Listener
}

// New builds a Server. It does not listen until Start is called.
func New(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sessions, err := NewSessionManager(opts.Session, logger)
	if err != nil {
		return nil, err
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		opts:      opts,
		registry:  opts.Registry,
		runner:    opts.Runner,
		responses: opts.Responses,
		sessions:  sessions,
		limiter:   ratelimit.New(opts.Server.ChatRateLimit.RequestsPerSecond, opts.Server.ChatRateLimit.Burst),
		metrics:   opts.Recorder,
		logger:    logger.With("component", "gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     originChecker(opts.Server.AllowedOrigins),
		},
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Sessions returns the client-session cookie manager.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /chat/ws", s.handleChatWS)

	for _, prefix := range []string{"", "/api"} {
		mux.HandleFunc("GET "+prefix+"/tools", s.handleListTools)
		mux.HandleFunc("POST "+prefix+"/tools", s.handleCreateTool)
		mux.HandleFunc("GET "+prefix+"/tools/{name}", s.handleGetTool)
		mux.HandleFunc("PUT "+prefix+"/tools/{name}", s.handleUpdateTool)
		mux.HandleFunc("DELETE "+prefix+"/tools/{name}", s.handleDeleteTool)
		mux.HandleFunc("POST "+prefix+"/tools/{name}/enable", s.handleSetEnabled(true))
		mux.HandleFunc("POST "+prefix+"/tools/{name}/disable", s.handleSetEnabled(false))
	}
	mux.HandleFunc("GET /responses/{id}", s.handleGetResponse)
	mux.HandleFunc("GET /api/response/{id}", s.handleGetResponse)

	mux.HandleFunc("POST /refresh_api_call", s.handleRefreshAPICall)
	mux.HandleFunc("POST /generate_dashboard_component", s.handleGenerateDashboard)

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.opts.Metrics.Enabled {
		path := s.opts.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, metricsHandler(s.opts.Gatherer))
	}

	h := recordPattern(mux)
	h = s.sessionMiddleware(h)
	h = s.loggingMiddleware(h)
	h = s.recoverMiddleware(h)
	h = requestIDMiddleware(h)
	return h
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	n := 0
	if s.registry != nil {
		n = s.registry.Len()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "tools": n})
}
