package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestProxyRequestPassthrough(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("backend saw method %s, want POST", r.Method)
		}
		if got := r.Header.Get("X-Custom"); got != "forwarded" {
			t.Errorf("X-Custom = %q, want forwarded", got)
		}
		w.Header().Set("X-Backend", "yes")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer backend.Close()

	e := New(Config{})
	defer e.Close()

	resp := e.ProxyRequest(context.Background(), &Request{
		RequestID: "req-1",
		TargetURL: backend.URL,
		Method:    http.MethodPost,
		Headers:   map[string]string{"X-Custom": "forwarded"},
		Body:      []byte(`{"q":1}`),
	})

	if !resp.Success {
		t.Fatalf("proxy failed: %s", resp.ErrorMessage)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if string(resp.Body) != `{"ok":true}` {
		t.Errorf("body = %q", resp.Body)
	}
	if resp.Headers["X-Backend"] != "yes" {
		t.Errorf("backend headers not passed through: %v", resp.Headers)
	}
	if resp.RequestID != "req-1" {
		t.Errorf("request_id = %q", resp.RequestID)
	}
	if resp.ResponseTimeMs < 0 {
		t.Errorf("response_time_ms = %v", resp.ResponseTimeMs)
	}
}

func TestProxyRequestTimeout(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	e := New(Config{})
	defer e.Close()

	resp := e.ProxyRequest(context.Background(), &Request{
		TargetURL:      backend.URL,
		Method:         http.MethodGet,
		TimeoutSeconds: 0.05,
	})

	if resp.Success {
		t.Fatal("slow backend should not succeed")
	}
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", resp.StatusCode)
	}
	if resp.ErrorMessage != "Request timeout" {
		t.Errorf("error_message = %q", resp.ErrorMessage)
	}
}

func TestProxyRequestConnectionRefused(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := backend.URL
	backend.Close() // nothing is listening anymore

	e := New(Config{})
	defer e.Close()

	resp := e.ProxyRequest(context.Background(), &Request{
		TargetURL: url,
		Method:    http.MethodGet,
	})

	if resp.Success {
		t.Fatal("unreachable backend should not succeed")
	}
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
	if !strings.Contains(resp.ErrorMessage, "Bad gateway") {
		t.Errorf("error_message = %q, want underlying cause", resp.ErrorMessage)
	}
}

func TestProxyRequestInvalidURL(t *testing.T) {
	e := New(Config{})
	defer e.Close()

	resp := e.ProxyRequest(context.Background(), &Request{
		TargetURL: "http://bad url with spaces",
		Method:    http.MethodGet,
	})

	if resp.Success || resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestHopByHopHeadersStripped(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Proxy-Authorization"); got != "" {
			t.Errorf("hop-by-hop header leaked: %q", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	e := New(Config{})
	defer e.Close()

	resp := e.ProxyRequest(context.Background(), &Request{
		TargetURL: backend.URL,
		Method:    http.MethodGet,
		Headers: map[string]string{
			"Proxy-Authorization": "secret",
			"X-Keep":              "yes",
		},
	})
	if !resp.Success {
		t.Fatalf("proxy failed: %s", resp.ErrorMessage)
	}
}

func TestHealthCheckService(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer backend.Close()

	e := New(Config{})
	defer e.Close()

	host, port := splitHostPort(t, backend.URL)

	if !e.HealthCheckService(context.Background(), "echo", host, port, "/health") {
		t.Error("healthy backend should report healthy")
	}
	healthy, known := e.GetServiceStatus("echo")
	if !known || !healthy {
		t.Errorf("cached status = %v/%v, want healthy/known", healthy, known)
	}

	if e.HealthCheckService(context.Background(), "echo", host, port, "/missing") {
		t.Error("404 health path should report unhealthy")
	}
	healthy, _ = e.GetServiceStatus("echo")
	if healthy {
		t.Error("cached status should reflect the latest probe")
	}

	if _, known := e.GetServiceStatus("never-probed"); known {
		t.Error("unprobed service should be unknown")
	}
}

func TestHealthCheckUnreachable(t *testing.T) {
	e := New(Config{})
	defer e.Close()

	// Port 1 is essentially never listening.
	if e.HealthCheckService(context.Background(), "ghost", "127.0.0.1", 1, "/health") {
		t.Error("unreachable service should report unhealthy")
	}
}

func splitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	trimmed := strings.TrimPrefix(rawURL, "http://")
	i := strings.LastIndexByte(trimmed, ':')
	if i < 0 {
		t.Fatalf("no port in %q", rawURL)
	}
	port := 0
	for _, c := range trimmed[i+1:] {
		port = port*10 + int(c-'0')
	}
	return trimmed[:i], port
}
