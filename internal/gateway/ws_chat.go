package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/toolrun/internal/runloop"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsPendingMessages = 8
	wsPingInterval    = 30 * time.Second
	wsPongWait        = 60 * time.Second
	wsWriteWait       = 10 * time.Second
)

type wsChatFrame struct {
	Message string `json:"message"`
}

// wsChat is one websocket chat connection. Client frames are queued and run
// one at a time; every run event is written back as its own text frame.
type wsChat struct {
	server  *Server
	conn    *websocket.Conn
	session string
	inbox   chan string
	send    chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
}

func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	// The upgrade response is written on the hijacked connection, so a
	// freshly minted session cookie has to be passed through explicitly.
	var header http.Header
	if cookies := w.Header().Values("Set-Cookie"); len(cookies) > 0 {
		header = http.Header{"Set-Cookie": cookies}
	}
	conn, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		s.logger.DebugContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &wsChat{
		server:  s,
		conn:    conn,
		session: SessionFromContext(r.Context()),
		inbox:   make(chan string, wsPendingMessages),
		send:    make(chan []byte, 64),
		ctx:     ctx,
		cancel:  cancel,
	}
	c.run()
}

func (c *wsChat) run() {
	defer func() {
		c.cancel()
		_ = c.conn.Close()
	}()
	go c.writeLoop()
	go c.dispatchLoop()
	c.readLoop()
}

func (c *wsChat) readLoop() {
	c.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.server.logger.DebugContext(c.ctx, "websocket read ended", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame wsChatFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendEvent(runloop.Event{Type: runloop.EventError, Content: "invalid frame: expected {\"message\": string}"})
			continue
		}
		message := strings.TrimSpace(frame.Message)
		if message == "" {
			c.sendEvent(runloop.Event{Type: runloop.EventError, Content: "message is required"})
			continue
		}

		if ok, _ := c.server.limiter.Allow(c.session); !ok {
			c.sendEvent(runloop.Event{Type: runloop.EventError, Content: "rate limit exceeded"})
			continue
		}

		select {
		case c.inbox <- message:
		default:
			c.sendEvent(runloop.Event{Type: runloop.EventError, Content: "too many pending messages"})
		}
	}
}

func (c *wsChat) dispatchLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case message := <-c.inbox:
			c.runMessage(message)
		}
	}
}

func (c *wsChat) runMessage(message string) {
	events, err := c.server.runner.Run(c.ctx, c.session, message)
	if err != nil {
		if !errors.Is(err, runloop.ErrEmptyMessage) {
			c.server.logger.ErrorContext(c.ctx, "start run", "error", err)
		}
		c.sendEvent(runloop.Event{Type: runloop.EventError, Content: "unable to start run"})
		return
	}
	for ev := range events {
		if !c.sendEvent(ev) {
			drain(events)
			return
		}
	}
}

func (c *wsChat) sendEvent(ev runloop.Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		c.server.logger.ErrorContext(c.ctx, "encode event", "type", ev.Type, "error", err)
		return true
	}
	select {
	case c.send <- data:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *wsChat) writeLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage, //nolint:errcheck
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait))
			_ = c.conn.Close()
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.cancel()
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.cancel()
				_ = c.conn.Close()
				return
			}
		}
	}
}
