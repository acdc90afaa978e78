package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jobwire/gateway/internal/logging"
)

// Request describes one forwarding attempt to a backend.
type Request struct {
	RequestID      string
	TargetURL      string
	Method         string
	Headers        map[string]string
	Body           []byte
	TimeoutSeconds float64
}

// Response is the outcome of a forwarding attempt. Failures are encoded in
// the response rather than returned as errors.
type Response struct {
	RequestID      string
	Success        bool
	StatusCode     int
	Headers        map[string]string
	Body           []byte
	ResponseTimeMs float64
	ErrorMessage   string
}

// Config tunes the engine's shared transport.
type Config struct {
	DefaultTimeout      time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
}

// Engine forwards requests to backends over a single long-lived pooled
// client and tracks last-known backend health.
type Engine struct {
	client         *http.Client
	transport      *http.Transport
	defaultTimeout time.Duration

	mu           sync.RWMutex
	healthStatus map[string]bool

	closeOnce sync.Once
}

// New creates a proxy engine with a pooled transport.
func New(cfg Config) *Engine {
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.MaxIdleConnsPerHost == 0 {
		cfg.MaxIdleConnsPerHost = 10
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Engine{
		client:         &http.Client{Transport: transport},
		transport:      transport,
		defaultTimeout: cfg.DefaultTimeout,
		healthStatus:   make(map[string]bool),
	}
}

// ProxyRequest forwards the request and always returns a response. Timeouts
// map to 504, transport failures to 502, anything else unexpected to 500.
func (e *Engine) ProxyRequest(ctx context.Context, preq *Request) *Response {
	start := time.Now()

	timeout := e.defaultTimeout
	if preq.TimeoutSeconds > 0 {
		timeout = time.Duration(preq.TimeoutSeconds * float64(time.Second))
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(preq.Body) > 0 {
		body = bytes.NewReader(preq.Body)
	}

	req, err := http.NewRequestWithContext(ctx, preq.Method, preq.TargetURL, body)
	if err != nil {
		return e.failure(preq, start, 500, fmt.Sprintf("invalid proxy request: %v", err))
	}

	for k, v := range preq.Headers {
		if isHopByHop(k) {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		elapsedMs := float64(time.Since(start)) / float64(time.Millisecond)
		if errors.Is(err, context.DeadlineExceeded) {
			logging.Warn("backend request timed out",
				zap.String("request_id", preq.RequestID),
				zap.String("target_url", preq.TargetURL),
				zap.Float64("elapsed_ms", elapsedMs),
			)
			return e.failure(preq, start, 504, "Request timeout")
		}
		logging.Warn("backend request failed",
			zap.String("request_id", preq.RequestID),
			zap.String("target_url", preq.TargetURL),
			zap.Error(err),
		)
		return e.failure(preq, start, 502, fmt.Sprintf("Bad gateway: %v", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return e.failure(preq, start, 502, fmt.Sprintf("Bad gateway: reading response: %v", err))
	}

	headers := make(map[string]string, len(resp.Header))
	for k, vv := range resp.Header {
		if len(vv) > 0 {
			headers[k] = vv[0]
		}
	}

	return &Response{
		RequestID:      preq.RequestID,
		Success:        true,
		StatusCode:     resp.StatusCode,
		Headers:        headers,
		Body:           respBody,
		ResponseTimeMs: float64(time.Since(start)) / float64(time.Millisecond),
	}
}

func (e *Engine) failure(preq *Request, start time.Time, status int, msg string) *Response {
	return &Response{
		RequestID:      preq.RequestID,
		Success:        false,
		StatusCode:     status,
		ResponseTimeMs: float64(time.Since(start)) / float64(time.Millisecond),
		ErrorMessage:   msg,
	}
}

// HealthCheckService probes a backend with a bounded GET and caches the
// result for GetServiceStatus.
func (e *Engine) HealthCheckService(ctx context.Context, name, host string, port int, path string) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s:%d%s", host, port, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		e.setHealth(name, false)
		return false
	}

	resp, err := e.client.Do(req)
	if err != nil {
		e.setHealth(name, false)
		return false
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	healthy := resp.StatusCode >= 200 && resp.StatusCode < 300
	e.setHealth(name, healthy)
	return healthy
}

func (e *Engine) setHealth(name string, healthy bool) {
	e.mu.Lock()
	e.healthStatus[name] = healthy
	e.mu.Unlock()
}

// GetServiceStatus returns the last cached health result for a service.
// The second return is false when the service was never probed.
func (e *Engine) GetServiceStatus(name string) (bool, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	healthy, known := e.healthStatus[name]
	return healthy, known
}

// Close releases the pooled connections.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.transport.CloseIdleConnections()
	})
}

// hopByHopHeaders must not be forwarded between client and backend.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

func isHopByHop(header string) bool {
	return hopByHopHeaders[http.CanonicalHeaderKey(header)]
}
