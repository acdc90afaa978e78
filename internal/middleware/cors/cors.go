package cors

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jobwire/gateway/internal/config"
	"github.com/jobwire/gateway/internal/middleware"
)

// Handler manages cross-origin request handling for the gateway.
type Handler struct {
	enabled         bool
	allowOrigins    []string
	allowMethods    string
	allowHeaders    string
	maxAge          string
	allowAllOrigins bool
}

// New creates a new CORS handler from config
func New(cfg config.CORSConfig) *Handler {
	h := &Handler{
		enabled:      cfg.Enabled,
		allowOrigins: cfg.AllowOrigins,
	}

	if len(cfg.AllowMethods) > 0 {
		h.allowMethods = strings.Join(cfg.AllowMethods, ", ")
	} else {
		h.allowMethods = "GET, POST, PUT, DELETE, PATCH, OPTIONS"
	}

	if len(cfg.AllowHeaders) > 0 {
		h.allowHeaders = strings.Join(cfg.AllowHeaders, ", ")
	} else {
		h.allowHeaders = "Content-Type, Authorization, X-API-Key"
	}

	if cfg.MaxAgeSeconds > 0 {
		h.maxAge = strconv.Itoa(cfg.MaxAgeSeconds)
	} else {
		h.maxAge = "86400"
	}

	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			h.allowAllOrigins = true
			break
		}
	}

	return h
}

// IsEnabled returns whether CORS is enabled
func (h *Handler) IsEnabled() bool {
	return h.enabled
}

// IsPreflight returns true if the request is a CORS preflight
func (h *Handler) IsPreflight(r *http.Request) bool {
	return h.enabled && r.Method == http.MethodOptions &&
		r.Header.Get("Origin") != "" && r.Header.Get("Access-Control-Request-Method") != ""
}

// HandlePreflight writes a 204 response with CORS headers for preflight requests
func (h *Handler) HandlePreflight(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if !h.isOriginAllowed(origin) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	respOrigin := origin
	if h.allowAllOrigins {
		respOrigin = "*"
	}

	w.Header().Set("Access-Control-Allow-Origin", respOrigin)
	w.Header().Set("Access-Control-Allow-Methods", h.allowMethods)
	w.Header().Set("Access-Control-Allow-Headers", h.allowHeaders)
	w.Header().Set("Access-Control-Max-Age", h.maxAge)
	w.Header().Set("Vary", "Origin, Access-Control-Request-Method, Access-Control-Request-Headers")
	w.WriteHeader(http.StatusNoContent)
}

// ApplyHeaders adds CORS headers to a normal (non-preflight) response
func (h *Handler) ApplyHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" || !h.isOriginAllowed(origin) {
		return
	}

	respOrigin := origin
	if h.allowAllOrigins {
		respOrigin = "*"
	}

	w.Header().Set("Access-Control-Allow-Origin", respOrigin)
	w.Header().Add("Vary", "Origin")
}

func (h *Handler) isOriginAllowed(origin string) bool {
	if h.allowAllOrigins {
		return true
	}
	for _, o := range h.allowOrigins {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// Middleware returns the CORS handler as a chain middleware. Preflight
// requests are answered at the gateway; all other responses get the
// appropriate CORS headers applied.
func (h *Handler) Middleware() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		if !h.enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if h.IsPreflight(r) {
				h.HandlePreflight(w, r)
				return
			}
			h.ApplyHeaders(w, r)
			next.ServeHTTP(w, r)
		})
	}
}
