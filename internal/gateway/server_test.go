package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/toolrun/internal/config"
	"github.com/haasonsaas/toolrun/internal/observability"
	"github.com/haasonsaas/toolrun/internal/ratelimit"
	"github.com/haasonsaas/toolrun/internal/responses"
	"github.com/haasonsaas/toolrun/internal/runloop"
	"github.com/haasonsaas/toolrun/internal/tools"
	"github.com/haasonsaas/toolrun/internal/tools/dashboard"
)

type fakeRunner struct {
	mu       sync.Mutex
	events   []runloop.Event
	sessions []string
	messages []string
	panics   bool
}

func (f *fakeRunner) Run(ctx context.Context, clientSession, message string) (<-chan runloop.Event, error) {
	if f.panics {
		panic("runner exploded")
	}
	if strings.TrimSpace(message) == "" {
		return nil, runloop.ErrEmptyMessage
	}
	f.mu.Lock()
	f.sessions = append(f.sessions, clientSession)
	f.messages = append(f.messages, message)
	f.mu.Unlock()

	ch := make(chan runloop.Event, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (f *fakeRunner) calls() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sessions...), append([]string(nil), f.messages...)
}

type stubTool struct {
	name string
	exec func(args map[string]any) (any, error)
}

func (s *stubTool) Name() string            { return s.name }
func (s *stubTool) Description() string     { return "stub " + s.name }
func (s *stubTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (s *stubTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	if s.exec == nil {
		return map[string]any{"ok": true}, nil
	}
	return s.exec(args)
}

const echoScript = `
description = "echo"
parameters = {"type": "object", "properties": {"msg": {"type": "string"}}}

def execute(args):
    return {"echo": args.get("msg", "")}
`

type testEnv struct {
	server    *Server
	handler   http.Handler
	runner    *fakeRunner
	registry  *tools.Registry
	store     *tools.MemoryStore
	responses *responses.MemoryStore
	gatherer  *prometheus.Registry
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, defs ...tools.Definition) *testEnv {
	t.Helper()
	catalog := tools.NewCatalog(tools.NewScriptEngine(tools.ScriptConfig{}))
	catalog.RegisterTool(&stubTool{name: "quote"})
	catalog.RegisterTool(&stubTool{name: dashboard.ToolName, exec: func(args map[string]any) (any, error) {
		return map[string]any{"component": "chart", "query": args["query"]}, nil
	}})
	store := tools.NewMemoryStore(defs...)
	registry := tools.NewRegistry(store, catalog, tools.RegistryOptions{Logger: testLogger()})
	if err := registry.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	respStore := responses.NewMemoryStore()
	gatherer := prometheus.NewRegistry()
	runner := &fakeRunner{events: []runloop.Event{
		{Type: runloop.EventToolOutput, Name: "quote", Output: json.RawMessage(`{"ok":true}`)},
		{Type: runloop.EventAssistantMessage, Content: "done"},
	}}

	srv, err := New(Options{
		Session:   config.SessionConfig{Secret: "test-secret", CookieName: "toolrun_session"},
		Metrics:   config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Registry:  registry,
		Runner:    runner,
		Responses: responses.NewGuard(respStore),
		Gatherer:  gatherer,
		Recorder:  observability.NewMetrics(gatherer),
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testEnv{
		server:    srv,
		handler:   srv.Handler(),
		runner:    runner,
		registry:  registry,
		store:     store,
		responses: respStore,
		gatherer:  gatherer,
	}
}

func (e *testEnv) do(method, target string, body io.Reader, contentType string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) form(method, target string, values url.Values) *httptest.ResponseRecorder {
	return e.do(method, target, strings.NewReader(values.Encode()), "application/x-www-form-urlencoded")
}

func (e *testEnv) json(method, target, body string) *httptest.ResponseRecorder {
	return e.do(method, target, strings.NewReader(body), "application/json")
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestChatStreamsServerSentEvents(t *testing.T) {
	env := newTestEnv(t)

	rec := env.form(http.MethodPost, "/chat", url.Values{"message": {"price AAPL"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}
	want := "data: {\"type\":\"tool_output\",\"name\":\"quote\",\"output\":{\"ok\":true}}\n\n" +
		"data: {\"type\":\"assistant_message\",\"content\":\"done\"}\n\n"
	if rec.Body.String() != want {
		t.Fatalf("body =\n%s\nwant\n%s", rec.Body.String(), want)
	}

	sessions, messages := env.runner.calls()
	if len(messages) != 1 || messages[0] != "price AAPL" {
		t.Fatalf("messages = %v", messages)
	}
	if sessions[0] == "" {
		t.Fatal("expected a client session id")
	}
}

func TestChatAcceptsJSONBody(t *testing.T) {
	env := newTestEnv(t)
	rec := env.json(http.MethodPost, "/chat", `{"message":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if _, messages := env.runner.calls(); len(messages) != 1 || messages[0] != "hello" {
		t.Fatalf("messages = %v", messages)
	}
}

func TestChatRequiresMessage(t *testing.T) {
	env := newTestEnv(t)
	for _, rec := range []*httptest.ResponseRecorder{
		env.form(http.MethodPost, "/chat", url.Values{}),
		env.json(http.MethodPost, "/chat", `{"message":"   "}`),
		env.json(http.MethodPost, "/chat", `{not json`),
	} {
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
		}
	}
	if _, messages := env.runner.calls(); len(messages) != 0 {
		t.Fatalf("runner should not be called, got %v", messages)
	}
}

func TestChatReusesSessionCookie(t *testing.T) {
	env := newTestEnv(t)

	first := env.form(http.MethodPost, "/chat", url.Values{"message": {"one"}})
	cookies := first.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "toolrun_session" || !cookies[0].HttpOnly {
		t.Fatalf("cookies = %+v", cookies)
	}

	req := strings.NewReader(url.Values{"message": {"two"}}.Encode())
	second := env.do(http.MethodPost, "/chat", req, "application/x-www-form-urlencoded", cookies[0])
	if len(second.Result().Cookies()) != 0 {
		t.Fatal("valid session should not be re-issued")
	}

	sessions, _ := env.runner.calls()
	if len(sessions) != 2 || sessions[0] != sessions[1] {
		t.Fatalf("sessions = %v, want the same id twice", sessions)
	}
}

func TestChatRateLimit(t *testing.T) {
	env := newTestEnv(t)
	env.server.limiter = ratelimit.New(0.01, 1)

	first := env.form(http.MethodPost, "/chat", url.Values{"message": {"one"}})
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d", first.Code)
	}
	cookie := first.Result().Cookies()[0]
	body := strings.NewReader(url.Values{"message": {"two"}}.Encode())
	second := env.do(http.MethodPost, "/chat", body, "application/x-www-form-urlencoded", cookie)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	// A different client session has its own bucket.
	if rec := env.form(http.MethodPost, "/chat", url.Values{"message": {"three"}}); rec.Code != http.StatusOK {
		t.Fatalf("other session status = %d", rec.Code)
	}
}

func TestToolLifecycle(t *testing.T) {
	env := newTestEnv(t, tools.Definition{Name: "quote", Enabled: true})

	rec := env.form(http.MethodPost, "/tools", url.Values{"name": {"echo"}, "code": {echoScript}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	if msg := decodeBody(t, rec)["message"]; msg != "Tool echo created successfully" {
		t.Fatalf("message = %v", msg)
	}

	rec = env.form(http.MethodPost, "/tools", url.Values{"name": {"echo"}, "code": {echoScript}})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate create status = %d", rec.Code)
	}

	rec = env.do(http.MethodGet, "/tools", nil, "")
	list := decodeBody(t, rec)
	if list["echo"] != "script" || list["quote"] != "builtin:quote" {
		t.Fatalf("list = %v", list)
	}

	rec = env.do(http.MethodGet, "/tools/echo", nil, "")
	if got := decodeBody(t, rec); got["name"] != "echo" || got["code"] != echoScript {
		t.Fatalf("get = %v", got)
	}

	updated := strings.Replace(echoScript, `"echo"`, `"echo v2"`, 1)
	rec = env.json(http.MethodPut, "/api/tools/echo", mustJSON(t, map[string]string{"code": updated}))
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}
	if inst, ok := env.registry.Get("echo"); !ok || inst.Description() != "echo v2" {
		t.Fatal("update not reflected in registry")
	}

	rec = env.do(http.MethodPost, "/tools/echo/disable", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("disable status = %d", rec.Code)
	}
	if _, ok := decodeBody(t, env.do(http.MethodGet, "/tools", nil, ""))["echo"]; ok {
		t.Fatal("disabled tool still listed")
	}
	rec = env.do(http.MethodPost, "/tools/echo/enable", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("enable status = %d", rec.Code)
	}

	for i := 0; i < 2; i++ {
		rec = env.do(http.MethodDelete, "/tools/echo", nil, "")
		if rec.Code != http.StatusNoContent {
			t.Fatalf("delete #%d status = %d", i, rec.Code)
		}
	}
	if rec = env.do(http.MethodGet, "/tools/echo", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", rec.Code)
	}
}

func TestToolErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		target string
		values url.Values
		want   int
	}{
		{"create without name", http.MethodPost, "/tools", url.Values{"code": {echoScript}}, http.StatusBadRequest},
		{"create bad name", http.MethodPost, "/tools", url.Values{"name": {"bad name"}, "code": {echoScript}}, http.StatusBadRequest},
		{"create bad code", http.MethodPost, "/tools", url.Values{"name": {"bad"}, "code": {"def execute(:"}}, http.StatusBadRequest},
		{"update unknown", http.MethodPut, "/tools/missing", url.Values{"code": {echoScript}}, http.StatusNotFound},
		{"enable unknown", http.MethodPost, "/tools/missing/enable", nil, http.StatusNotFound},
		{"get unknown", http.MethodGet, "/tools/missing", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.form(tt.method, tt.target, tt.values)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestRefreshAPICall(t *testing.T) {
	env := newTestEnv(t, tools.Definition{Name: "echo", Enabled: true, Source: echoScript})

	rec := env.form(http.MethodPost, "/refresh_api_call", url.Values{"tool_name": {"echo"}, "args": {`{"msg":"hi"}`}})
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"echo":"hi"}` {
		t.Fatalf("form call = %d %s", rec.Code, rec.Body.String())
	}

	rec = env.json(http.MethodPost, "/refresh_api_call", `{"tool_name":"echo","args":{"msg":"json"}}`)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"echo":"json"}` {
		t.Fatalf("json call = %d %s", rec.Code, rec.Body.String())
	}

	rec = env.form(http.MethodPost, "/refresh_api_call", url.Values{"tool_name": {"echo"}, "args": {`{"msg":`}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad args status = %d", rec.Code)
	}

	rec = env.form(http.MethodPost, "/refresh_api_call", url.Values{"tool_name": {"nope"}, "args": {`{}`}})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown tool status = %d", rec.Code)
	}

	rec = env.form(http.MethodPost, "/refresh_api_call", url.Values{"tool_name": {"echo"}, "args": {`{"msg":1}`}})
	if rec.Code != http.StatusOK {
		t.Fatalf("invalid args status = %d", rec.Code)
	}
	if _, ok := decodeBody(t, rec)["error"]; !ok {
		t.Fatalf("expected error payload, got %s", rec.Body.String())
	}
}

func TestGenerateDashboardComponent(t *testing.T) {
	env := newTestEnv(t)
	rec := env.form(http.MethodPost, "/generate_dashboard_component", url.Values{"query": {"volume"}})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unloaded status = %d", rec.Code)
	}

	env = newTestEnv(t, tools.Definition{Name: dashboard.ToolName, Enabled: true})
	rec = env.form(http.MethodPost, "/generate_dashboard_component", url.Values{"query": {"volume"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody(t, rec); got["component"] != "chart" || got["query"] != "volume" {
		t.Fatalf("body = %v", got)
	}

	rec = env.form(http.MethodPost, "/generate_dashboard_component", url.Values{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing query status = %d", rec.Code)
	}
}

func TestGetStoredResponse(t *testing.T) {
	env := newTestEnv(t)
	payload := `{"rows":[1,2,3]}`
	if err := env.responses.Put(context.Background(), "abc123", []byte(payload)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	for _, target := range []string{"/responses/abc123", "/api/response/abc123"} {
		rec := env.do(http.MethodGet, target, nil, "")
		if rec.Code != http.StatusOK || rec.Body.String() != payload {
			t.Fatalf("%s = %d %s", target, rec.Code, rec.Body.String())
		}
	}
	if rec := env.do(http.MethodGet, "/responses/missing", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d", rec.Code)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	env := newTestEnv(t, tools.Definition{Name: "quote", Enabled: true})

	rec := env.do(http.MethodGet, "/healthz", nil, "")
	got := decodeBody(t, rec)
	if got["status"] != "ok" || got["tools"] != float64(1) {
		t.Fatalf("healthz = %v", got)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatal("expected a request id header")
	}

	rec = env.do(http.MethodGet, "/metrics", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `toolrun_http_requests_total{method="GET",path="GET /healthz",status_code="200"} 1`) {
		t.Fatalf("metrics missing healthz request:\n%s", rec.Body.String())
	}
}

func TestPanicRecovery(t *testing.T) {
	env := newTestEnv(t)
	env.runner.panics = true

	rec := env.form(http.MethodPost, "/chat", url.Values{"message": {"boom"}})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeBody(t, rec)["error"]; got != "internal server error" {
		t.Fatalf("error = %v", got)
	}
}

func TestOriginChecker(t *testing.T) {
	if originChecker(nil) != nil {
		t.Fatal("empty allow list should keep the same-origin default")
	}
	check := originChecker([]string{"https://app.example.com/"})
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://app.example.com", true},
		{"https://APP.example.com", true},
		{"https://evil.example.com", false},
		{"::bad", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/chat/ws", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := check(req); got != tt.want {
			t.Errorf("origin %q = %v, want %v", tt.origin, got, tt.want)
		}
	}
	if !originChecker([]string{"*"})(httptest.NewRequest(http.MethodGet, "/", nil)) {
		t.Fatal("wildcard should allow everything")
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}
