package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/avaguard/internal/observability"
)

// maxRequestIDLength bounds an inbound X-Request-ID before it is echoed
// into logs and response bodies.
const maxRequestIDLength = 128

// RequestID returns a middleware that adds a request ID to each request.
// The ID is also the trace_id field of every JSON error body.
func RequestID() func(http.Handler) http.Handler {
	return RequestIDWithGenerator(func() string { return uuid.New().String() })
}

// RequestIDWithGenerator returns a middleware that uses a custom ID generator.
func RequestIDWithGenerator(generator func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := strings.TrimSpace(r.Header.Get(HeaderXRequestID))
			if requestID == "" || len(requestID) > maxRequestIDLength {
				requestID = generator()
			}

			ctx := observability.ContextWithRequestID(r.Context(), requestID)
			w.Header().Set(HeaderXRequestID, requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
