package httputil

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/quietgrove/gatehouse/pkg/contextkeys"
	"github.com/quietgrove/gatehouse/pkg/observability"
)

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RequestLogging assigns a request ID, logs each request, and records
// request metrics. It runs first so every later stage sees the request ID.
func RequestLogging(logger *observability.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := contextkeys.WithRequestID(r.Context(), uuid.NewString())
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r.WithContext(ctx))

			duration := time.Since(start)
			if metrics != nil {
				metrics.ObserveRequest(r.Method, r.URL.Path, rw.statusCode, duration)
			}
			logger.ForRequest(ctx).WithFields(map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rw.statusCode,
				"duration_ms": duration.Milliseconds(),
			}).Info("request")
		})
	}
}

// Recovery recovers from handler panics and returns a 500 without leaking
// the panic value to the caller
func Recovery(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.ForRequest(r.Context()).
						WithField("panic", rec).
						WithField("stack", string(debug.Stack())).
						Error("panic recovered")
					WriteInternalError(w)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
