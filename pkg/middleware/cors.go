package middleware

import (
	"net/http"
	"strings"

	"github.com/quietgrove/gatehouse/pkg/httputil"
	"github.com/quietgrove/gatehouse/pkg/observability"
)

// CORS enforces the origin allow-list with credentials support.
//
// Because responses carry Allow-Credentials, the wildcard origin is never
// echoed; only exact allow-list matches are. State-changing requests from a
// disallowed origin are rejected outright rather than relying on the
// browser to discard the response.
type CORS struct {
	allowed map[string]struct{}
	logger  *observability.Logger
}

// NewCORS creates the CORS middleware from the configured origin allow-list
func NewCORS(allowedOrigins []string, logger *observability.Logger) *CORS {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[strings.TrimRight(origin, "/")] = struct{}{}
	}
	return &CORS{allowed: allowed, logger: logger}
}

// Handler applies CORS headers and answers preflight requests
func (c *CORS) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Same-origin or non-browser caller; nothing to enforce here.
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if !c.isAllowed(origin) {
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			if isStateChanging(r.Method) {
				c.logger.SecurityEvent(r.Context(), "cors_rejected", r.URL.Path, r.Method, "origin_not_allowed")
				httputil.WriteForbidden(w, "origin not allowed")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-CSRF-Token")
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (c *CORS) isAllowed(origin string) bool {
	_, ok := c.allowed[strings.TrimRight(origin, "/")]
	return ok
}
