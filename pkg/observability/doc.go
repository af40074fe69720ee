// Package observability provides structured logging, Prometheus metrics,
// and health probes for the authentication pipeline.
//
// The Logger is a thin wrapper over log/slog producing JSON output with
// field chaining (WithField/WithError). SecurityEvent is the single entry
// point for recording rejections: it captures path, method, and caller
// identity but never token or CSRF secret values.
package observability
