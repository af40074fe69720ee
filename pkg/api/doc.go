// Package api assembles the HTTP surface: the middleware chain in its
// fixed order, the login/refresh/logout handlers, probes, and metrics.
package api
