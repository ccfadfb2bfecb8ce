package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/haasonsaas/toolrun/internal/runloop"
)

// handleChat starts a run for the posted message and streams its events as
// server-sent events, one "data:" record per event.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r)
	if err != nil {
		writeFailure(w, r, s.logger, err)
		return
	}
	message, err := p.Required("message")
	if err != nil {
		writeFailure(w, r, s.logger, err)
		return
	}

	session := SessionFromContext(r.Context())
	if ok, retryAfter := s.limiter.Allow(session); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	events, err := s.runner.Run(r.Context(), session, message)
	if err != nil {
		if errors.Is(err, runloop.ErrEmptyMessage) {
			writeError(w, http.StatusBadRequest, "message is required")
			return
		}
		writeFailure(w, r, s.logger, err)
		return
	}

	rc := http.NewResponseController(w)
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush() //nolint:errcheck

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			s.logger.ErrorContext(r.Context(), "encode event", "type", ev.Type, "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			s.logger.DebugContext(r.Context(), "sse client gone", "error", err)
			drain(events)
			return
		}
		if err := rc.Flush(); err != nil {
			s.logger.DebugContext(r.Context(), "sse flush failed", "error", err)
			drain(events)
			return
		}
	}
}

// drain consumes the rest of a run's events so the producing goroutine can
// observe cancellation and exit.
func drain(events <-chan runloop.Event) {
	for range events {
	}
}
