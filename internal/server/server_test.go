package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/HerbHall/nepenthes/internal/function"
	"go.uber.org/zap"
)

// fakeFunctions satisfies FunctionSource for testing.
type fakeFunctions struct {
	mu     sync.Mutex
	infos  []function.Info
	result any
	err    error
	calls  []string
	events []string
}

func (f *fakeFunctions) Infos() []function.Info { return f.infos }

func (f *fakeFunctions) Invoke(_ context.Context, name string, event json.RawMessage) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	f.events = append(f.events, string(event))
	if name == "missing" {
		return nil, fmt.Errorf("%w: %q", function.ErrUnknownFunction, name)
	}
	return f.result, f.err
}

func (f *fakeFunctions) invoked() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...), append([]string(nil), f.events...)
}

func newTestServer(funcs *fakeFunctions, ready ReadinessChecker) *Server {
	if funcs == nil {
		funcs = &fakeFunctions{}
	}
	return New(Config{Addr: "127.0.0.1:0"}, funcs, ready, zap.NewNop())
}

func serve(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHandleHealthz(t *testing.T) {
	w := serve(newTestServer(nil, nil), "GET", "/healthz", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "alive" {
		t.Errorf("status = %q, want %q", body["status"], "alive")
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header from middleware chain")
	}
}

func TestHandleReadyz(t *testing.T) {
	tests := []struct {
		name       string
		ready      ReadinessChecker
		wantStatus int
		wantBody   string
	}{
		{"nil checker", nil, http.StatusOK, "ready"},
		{"healthy", func(context.Context) error { return nil }, http.StatusOK, "ready"},
		{"unhealthy", func(context.Context) error { return errors.New("broker disconnected") }, http.StatusServiceUnavailable, "not ready"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(newTestServer(nil, tt.ready), "GET", "/readyz", "")
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body map[string]string
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["status"] != tt.wantBody {
				t.Errorf("status = %q, want %q", body["status"], tt.wantBody)
			}
			if tt.wantStatus != http.StatusOK && !strings.Contains(body["error"], "broker disconnected") {
				t.Errorf("error = %q", body["error"])
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(nil, nil)
	serve(srv, "GET", "/healthz", "")

	w := serve(srv, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "http_requests_total") {
		t.Error("expected http_requests_total in /metrics output")
	}
}

func TestHandleHealth(t *testing.T) {
	funcs := &fakeFunctions{infos: []function.Info{{Name: function.NamePlugStatus}}}
	w := serve(newTestServer(funcs, nil), "GET", "/api/v1/health", "")

	var body HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Service != "nepenthes" || body.Functions != 1 {
		t.Errorf("health = %+v", body)
	}
	if body.Version["version"] == "" {
		t.Error("expected version in health response")
	}
}

func TestHandleFunctions(t *testing.T) {
	funcs := &fakeFunctions{infos: []function.Info{
		{Name: function.NameAlarmEmail, Description: "email", Trigger: function.TriggerSNS},
		{Name: function.NamePlugStatus, Description: "status", Trigger: function.TriggerSchedule},
	}}
	w := serve(newTestServer(funcs, nil), "GET", "/api/v1/functions", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var infos []function.Info
	if err := json.NewDecoder(w.Body).Decode(&infos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(infos) != 2 || infos[1].Trigger != function.TriggerSchedule {
		t.Errorf("infos = %+v", infos)
	}
}

func TestHandleInvoke(t *testing.T) {
	funcs := &fakeFunctions{result: function.Response{StatusCode: 200, Body: "ok"}}
	w := serve(newTestServer(funcs, nil), "POST", "/api/v1/functions/log-puller/invoke", `{"should_heartbeat":true}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	var resp function.Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != 200 || resp.Body != "ok" {
		t.Errorf("response = %+v", resp)
	}

	calls, events := funcs.invoked()
	if len(calls) != 1 || calls[0] != "log-puller" {
		t.Errorf("calls = %v", calls)
	}
	if events[0] != `{"should_heartbeat":true}` {
		t.Errorf("event = %s", events[0])
	}
}

func TestHandleInvoke_EmptyBody(t *testing.T) {
	funcs := &fakeFunctions{result: "done"}
	w := serve(newTestServer(funcs, nil), "POST", "/api/v1/functions/plug-status/invoke", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if _, events := funcs.invoked(); events[0] != "{}" {
		t.Errorf("event = %q, want {}", events[0])
	}
}

func TestHandleInvoke_Errors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		err        error
		wantStatus int
		wantType   string
		wantFunc   string
	}{
		{"invalid json", "/api/v1/functions/plug-on/invoke", `{"Records":`, nil, http.StatusBadRequest, ProblemBadEvent, "plug-on"},
		{"unknown function", "/api/v1/functions/missing/invoke", `{}`, nil, http.StatusNotFound, ProblemUnknownFunction, "missing"},
		{"function failed", "/api/v1/functions/plug-on/invoke", `{}`, errors.New("vendor unreachable"), http.StatusBadGateway, ProblemFunctionFailed, "plug-on"},
		{"too large", "/api/v1/functions/plug-on/invoke", `"` + strings.Repeat("x", maxEventBytes) + `"`, nil, http.StatusBadRequest, ProblemBadEvent, "plug-on"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(newTestServer(&fakeFunctions{err: tt.err}, nil), "POST", tt.path, tt.body)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Errorf("content-type = %q", ct)
			}
			var p Problem
			if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if p.Type != tt.wantType || p.Status != tt.wantStatus {
				t.Errorf("problem = %+v", p)
			}
			if p.Instance != tt.path {
				t.Errorf("instance = %q, want %q", p.Instance, tt.path)
			}
			if p.Function != tt.wantFunc {
				t.Errorf("function = %q, want %q", p.Function, tt.wantFunc)
			}
		})
	}
}

func TestHandleInvoke_Throttled(t *testing.T) {
	funcs := &fakeFunctions{result: "done"}
	srv := New(Config{Addr: "127.0.0.1:0", InvokeRate: 0.001, InvokeBurst: 2}, funcs, nil, zap.NewNop())

	for i := 0; i < 2; i++ {
		if w := serve(srv, "POST", "/api/v1/functions/plug-on/invoke", ""); w.Code != http.StatusOK {
			t.Fatalf("invoke %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	w := serve(srv, "POST", "/api/v1/functions/plug-on/invoke", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	var p Problem
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Type != ProblemInvokeThrottled || p.Function != "plug-on" {
		t.Errorf("problem = %+v", p)
	}
	if calls, _ := funcs.invoked(); len(calls) != 2 {
		t.Errorf("calls = %v, want 2", calls)
	}

	// Listing functions never spends the invoke budget.
	for i := 0; i < 5; i++ {
		if w := serve(srv, "GET", "/api/v1/functions", ""); w.Code != http.StatusOK {
			t.Fatalf("functions: status = %d, want %d", w.Code, http.StatusOK)
		}
	}
}

func TestHandleInvoke_PanicNamesFunction(t *testing.T) {
	srv := New(Config{Addr: "127.0.0.1:0"}, panickingFunctions{}, nil, zap.NewNop())

	w := serve(srv, "POST", "/api/v1/functions/log-puller/invoke", "{}")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var p Problem
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Type != ProblemFunctionPanicked || p.Function != "log-puller" {
		t.Errorf("problem = %+v", p)
	}
}

type panickingFunctions struct{}

func (panickingFunctions) Infos() []function.Info { return nil }

func (panickingFunctions) Invoke(context.Context, string, json.RawMessage) (any, error) {
	panic("nil meter map")
}

func TestSwaggerDoc(t *testing.T) {
	srv := New(Config{Addr: "127.0.0.1:0", Swagger: true}, &fakeFunctions{}, nil, zap.NewNop())

	w := serve(srv, "GET", "/swagger/doc.json", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var doc struct {
		BasePath string                    `json:"basePath"`
		Paths    map[string]map[string]any `json:"paths"`
	}
	if err := json.NewDecoder(w.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.BasePath != "/api/v1" {
		t.Errorf("basePath = %q, want /api/v1", doc.BasePath)
	}
	for path, method := range map[string]string{
		"/health":                  "get",
		"/functions":               "get",
		"/functions/{name}/invoke": "post",
	} {
		if _, ok := doc.Paths[path][method]; !ok {
			t.Errorf("doc has no %s %s", method, path)
		}
	}
}

func TestSwaggerDisabledByDefault(t *testing.T) {
	w := serve(newTestServer(nil, nil), "GET", "/swagger/doc.json", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandleInvoke_MethodNotAllowed(t *testing.T) {
	w := serve(newTestServer(nil, nil), "GET", "/api/v1/functions/plug-on/invoke", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestNotFoundRoute(t *testing.T) {
	w := serve(newTestServer(nil, nil), "GET", "/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("content-type = %q", ct)
	}
	var p Problem
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Type != ProblemNoRoute || p.Function != "" {
		t.Errorf("problem = %+v", p)
	}
}

func TestNew_DefaultAddr(t *testing.T) {
	srv := New(Config{}, &fakeFunctions{}, nil, zap.NewNop())
	if srv.httpServer.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", srv.httpServer.Addr)
	}
}

func TestStartShutdown(t *testing.T) {
	srv := newTestServer(nil, nil)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Errorf("Start returned %v after shutdown", err)
	}
}
