// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined
// here. This prevents typos, documents dependencies, and makes key usage
// discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains *identity.Principal
	// Set by: middleware.AuthPipeline after token verification, tenant
	// resolution, and identity loading all succeed
	// Required by: every tenant-scoped handler
	PrincipalKey Key = "principal"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil request logging middleware
	// Used by: logger, security event records
	RequestIDKey Key = "request_id"

	// ClientIPKey contains the proxy-validated client IP string
	// Set by: middleware.RealIP
	// Used by: rate limiter keying, security event records
	ClientIPKey Key = "client_ip"
)

// WithPrincipal adds the authenticated principal to the context
func WithPrincipal(ctx context.Context, principal interface{}) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestID retrieves the request ID from the context, if set
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithClientIP adds the validated client IP to the context
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ClientIPKey, ip)
}

// ClientIP retrieves the validated client IP from the context, if set
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ClientIPKey).(string); ok {
		return ip
	}
	return ""
}
