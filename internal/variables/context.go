package variables

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// RequestContext carries per-request state through the gateway pipeline.
// It is created once per inbound request and mutated in place only to set
// UserID/Authenticated after a successful auth check, and TargetService
// after route resolution.
type RequestContext struct {
	RequestID     string
	Method        string
	Path          string
	Headers       map[string]string
	QueryParams   map[string]string
	ClientIP      string
	UserID        string
	APIKey        string
	Authenticated bool
	Body          []byte

	// TargetService is the resolved backend service name, set by the
	// orchestrator after route resolution. Empty until then.
	TargetService string
}

// RequestContextKey is the context key under which the RequestContext is stored.
type RequestContextKey struct{}

// FromHTTP builds a RequestContext from an inbound HTTP request.
// Header keys are case-preserved as sent; multi-valued headers keep the
// first value. The body is not read here (the proxy streams it).
func FromHTTP(r *http.Request) *RequestContext {
	headers := make(map[string]string, len(r.Header))
	for k, vv := range r.Header {
		if len(vv) > 0 {
			headers[k] = vv[0]
		}
	}

	query := make(map[string]string)
	for k, vv := range r.URL.Query() {
		if len(vv) > 0 {
			query[k] = vv[0]
		}
	}

	return &RequestContext{
		Method:      r.Method,
		Path:        r.URL.Path,
		Headers:     headers,
		QueryParams: query,
		ClientIP:    ExtractClientIP(r),
		APIKey:      r.Header.Get("X-API-Key"),
	}
}

// GetFromRequest returns the RequestContext stored in the request's context,
// or nil if none is present.
func GetFromRequest(r *http.Request) *RequestContext {
	if ctx, ok := r.Context().Value(RequestContextKey{}).(*RequestContext); ok {
		return ctx
	}
	return nil
}

// WithRequestContext stores a RequestContext in ctx.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, RequestContextKey{}, rc)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header value. Returns "" if the header is missing or malformed.
func (rc *RequestContext) BearerToken() string {
	auth := rc.Headers["Authorization"]
	if auth == "" {
		auth = rc.Headers["authorization"]
	}
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	token := strings.TrimSpace(auth[len(prefix):])
	return token
}

// ExtractClientIP extracts the real client IP from the request, falling back
// from X-Forwarded-For and X-Real-IP to RemoteAddr.
func ExtractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
