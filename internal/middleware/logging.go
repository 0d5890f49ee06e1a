package middleware

import (
	"net/http"
	"time"

	"github.com/vyrodovalexey/avaguard/internal/observability"
	"github.com/vyrodovalexey/avaguard/internal/util"
)

// AccessLog returns a middleware that logs one line per request. The
// client address comes from ClientIP when that middleware ran first, so
// the log shows the same identity the rate limiter keyed on.
func AccessLog(logger observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := util.NewStatusCapturingResponseWriter(w)
			next.ServeHTTP(rw, r)

			clientIP, ok := ClientIPFromContext(r.Context())
			if !ok {
				clientIP = stripPort(r.RemoteAddr)
			}

			logger.WithContext(r.Context()).Info("access",
				observability.String("method", r.Method),
				observability.String("path", r.URL.Path),
				observability.Int("status", rw.StatusCode),
				observability.Int("size", rw.Size),
				observability.Duration("latency", time.Since(start)),
				observability.String("client_ip", clientIP),
				observability.String("user_agent", r.UserAgent()),
			)
		})
	}
}
