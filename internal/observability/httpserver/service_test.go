package httpserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	logx "ticketwatch/pkg/logx"
)

func TestHandlerRoutes(t *testing.T) {
	t.Parallel()

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ticketwatch_up 1\n")) })
	var unhealthy atomic.Bool
	s := New(Config{Pprof: true}, Handlers{
		Metrics: metrics,
		Health:  func() (bool, any) { ok := !unhealthy.Load(); return ok, map[string]bool{"healthy": ok} },
	}, logx.Nop())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{path: "/metrics", status: http.StatusOK, body: "ticketwatch_up 1"},
		{path: "/livez", status: http.StatusOK, body: "ok"},
		{path: "/healthz", status: http.StatusOK, body: `"healthy": true`},
		{path: "/debug/pprof/", status: http.StatusOK, body: "goroutine"},
		{path: "/nope", status: http.StatusNotFound},
	}
	for _, tt := range tests {
		resp, err := http.Get(srv.URL + tt.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tt.path, err)
		}
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != tt.status {
			t.Fatalf("GET %s status = %d, want %d", tt.path, resp.StatusCode, tt.status)
		}
		if tt.body != "" && !strings.Contains(string(b), tt.body) {
			t.Fatalf("GET %s body = %q, want %q", tt.path, b, tt.body)
		}
	}

	unhealthy.Store(true)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy status = %d", resp.StatusCode)
	}
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()
	s := New(Config{Token: "s3cret"}, Handlers{}, logx.Nop())
	h := s.Handler()

	for _, tc := range []struct {
		name   string
		req    *http.Request
		status int
	}{
		{name: "missing", req: httptest.NewRequest(http.MethodGet, "/livez", nil), status: http.StatusUnauthorized},
		{name: "query", req: httptest.NewRequest(http.MethodGet, "/livez?token=s3cret", nil), status: http.StatusOK},
		{name: "wrong", req: httptest.NewRequest(http.MethodGet, "/livez?token=x", nil), status: http.StatusUnauthorized},
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, tc.req)
		if rec.Code != tc.status {
			t.Fatalf("%s: status = %d, want %d", tc.name, rec.Code, tc.status)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer: status = %d", rec.Code)
	}
}

func TestPprofDisabledByDefault(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	New(Config{}, Handlers{}, logx.Nop()).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestStartServesAndStops(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Handlers{}, logx.Nop())
	s.Start(context.Background())

	deadline := time.Now().Add(3 * time.Second)
	for s.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatalf("server did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}
	resp, err := http.Get("http://" + s.Addr() + "/livez")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Stop(ctx)
	if s.Supervisor() != nil {
		t.Fatalf("supervisor still set after Stop")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:9464": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":9464":          false,
		"0.0.0.0:9464":   false,
		"bad":            false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
