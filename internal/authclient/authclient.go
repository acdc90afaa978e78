package authclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/jobwire/gateway/internal/logging"
)

// ValidationResult is the outcome of a token validation call.
type ValidationResult struct {
	Valid       bool     `json:"valid"`
	UserID      string   `json:"user_id,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Config configures the auth service client.
type Config struct {
	// ServiceURL is the full token validation endpoint.
	ServiceURL string
	Timeout    time.Duration
	CacheTTL   time.Duration
	CacheSize  int
}

// Client validates bearer tokens against an external auth service. Any
// network failure or non-200 response is treated as invalid: auth fails
// closed, unlike the rate limiter.
type Client struct {
	serviceURL string
	httpClient *http.Client
	cache      *expirable.LRU[string, *ValidationResult]
	closeOnce  sync.Once
}

// New creates an auth client. A zero cache TTL disables caching.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	c := &Client{
		serviceURL: cfg.ServiceURL,
		httpClient: &http.Client{Timeout: timeout},
	}

	if cfg.CacheTTL > 0 {
		size := cfg.CacheSize
		if size <= 0 {
			size = 4096
		}
		c.cache = expirable.NewLRU[string, *ValidationResult](size, nil, cfg.CacheTTL)
	}

	return c
}

// ValidateToken validates a bearer token. Results, valid or not, are
// cached for the configured TTL so a hot token does not hammer the auth
// service.
func (c *Client) ValidateToken(ctx context.Context, token string) *ValidationResult {
	if token == "" {
		return &ValidationResult{Valid: false, Error: "missing token"}
	}
	if c.serviceURL == "" {
		return &ValidationResult{Valid: false, Error: "auth service not configured"}
	}

	if c.cache != nil {
		if cached, ok := c.cache.Get(token); ok {
			return cached
		}
	}

	result := c.validate(ctx, token)

	if c.cache != nil {
		c.cache.Add(token, result)
	}
	return result
}

func (c *Client) validate(ctx context.Context, token string) *ValidationResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serviceURL, nil)
	if err != nil {
		return &ValidationResult{Valid: false, Error: fmt.Sprintf("building auth request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.Warn("auth service unreachable", zap.Error(err))
		return &ValidationResult{Valid: false, Error: "auth service unavailable"}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return &ValidationResult{Valid: false, Error: fmt.Sprintf("auth service returned %d", resp.StatusCode)}
	}

	var result ValidationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		logging.Warn("auth service returned malformed response", zap.Error(err))
		return &ValidationResult{Valid: false, Error: "malformed auth response"}
	}

	return &result
}

// Close releases the client's pooled connections.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.httpClient.CloseIdleConnections()
	})
}
