package middleware

import (
	"net/http"

	"golang.org/x/sync/semaphore"

	"github.com/jobwire/gateway/internal/errors"
)

// ConcurrencyLimit caps the number of requests in flight. Requests over the
// cap are shed immediately with 503 rather than queued.
func ConcurrencyLimit(maxConcurrent int64) Middleware {
	return func(next http.Handler) http.Handler {
		if maxConcurrent <= 0 {
			return next
		}
		sem := semaphore.NewWeighted(maxConcurrent)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !sem.TryAcquire(1) {
				errors.ErrServiceUnavailable.
					WithDetail("Server is at capacity").
					WithRequestID(GetRequestID(r)).
					WriteJSON(w)
				return
			}
			defer sem.Release(1)

			next.ServeHTTP(w, r)
		})
	}
}
