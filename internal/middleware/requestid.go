package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/jobwire/gateway/internal/variables"
)

func init() {
	// Batch crypto/rand reads into a pool to avoid a syscall per UUID.
	uuid.EnableRandPool()
}

// RequestIDHeader is the header carrying the per-request identifier.
const RequestIDHeader = "X-Request-ID"

// RequestID assigns every inbound request a unique identifier, builds the
// request context, and echoes the identifier on the response. An incoming
// X-Request-ID is trusted and propagated unchanged.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.New().String()
			}

			r.Header.Set(RequestIDHeader, requestID)
			w.Header().Set(RequestIDHeader, requestID)

			rc := variables.FromHTTP(r)
			rc.RequestID = requestID
			rc.Headers[RequestIDHeader] = requestID

			ctx := variables.WithRequestContext(r.Context(), rc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetRequestID extracts the request ID from the request context, falling
// back to the response-bound header set by the RequestID middleware.
func GetRequestID(r *http.Request) string {
	if rc := variables.GetFromRequest(r); rc != nil {
		return rc.RequestID
	}
	return r.Header.Get(RequestIDHeader)
}
