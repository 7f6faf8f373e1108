package httpapi

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type requestIDKey struct{}

// requestIDHeader carries a per-request correlation ID so a caller can
// match a response back to the log lines the gateway wrote for it.
const requestIDHeader = "X-Request-Id"

// withRequestID stamps every request with a UUID, echoes it in the
// response header, and attaches it to the request context so a handler
// can log it alongside whatever it decides.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestID extracts the correlation ID withRequestID attached, or "" if
// the request was never wrapped (e.g. in a unit test calling a handler
// directly).
func requestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

// withRateLimit rejects requests once limiter's token bucket is
// exhausted, protecting the status and metrics endpoints from being
// scraped tightly enough to show up in their own flow metrics.
func withRateLimit(limiter *rate.Limiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
