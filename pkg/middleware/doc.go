// Package middleware holds the request-authentication pipeline stages:
// client IP resolution, CORS, the CSRF double-submit guard, distributed
// rate limiting, and the token-verify/tenant-resolve/identity-load chain.
//
// The stages compose in a fixed order (CORS, CSRF, rate limit, then the
// auth pipeline) so that cheap checks reject junk before expensive ones
// spend a provider call or a database query on it.
package middleware
