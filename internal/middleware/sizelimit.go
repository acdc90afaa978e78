package middleware

import (
	"net/http"

	"github.com/jobwire/gateway/internal/errors"
)

// BodySizeLimit rejects requests whose body exceeds maxBytes with 413.
// A declared Content-Length over the limit is rejected up front; chunked
// bodies are capped with http.MaxBytesReader so an oversized stream fails
// at read time inside the proxy.
func BodySizeLimit(maxBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		if maxBytes <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				errors.ErrRequestEntityTooLarge.
					WithRequestID(GetRequestID(r)).
					WriteJSON(w)
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
