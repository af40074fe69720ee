// Package httputil provides HTTP handler utilities for consistent error
// handling, JSON encoding, and shared middleware.
package httputil

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the wire shape of every rejection produced by the
// pipeline. RetryAfter and Limit are populated only for rate limiting.
type ErrorResponse struct {
	Detail     string `json:"detail"`
	RetryAfter int    `json:"retry_after,omitempty"`
	Limit      string `json:"limit,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorDetail writes a JSON error response with a machine-readable
// detail string
func WriteErrorDetail(w http.ResponseWriter, status int, detail string) {
	WriteJSON(w, status, ErrorResponse{Detail: detail}) //nolint:errcheck
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteErrorDetail(w, http.StatusBadRequest, detail)
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	WriteErrorDetail(w, http.StatusUnauthorized, detail)
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, detail string) {
	WriteErrorDetail(w, http.StatusForbidden, detail)
}

// WriteTooManyRequests writes a rate limit error (429) with the retry-after
// hint and the configured limit string
func WriteTooManyRequests(w http.ResponseWriter, detail string, retryAfter int, limit string) {
	WriteJSON(w, http.StatusTooManyRequests, ErrorResponse{ //nolint:errcheck
		Detail:     detail,
		RetryAfter: retryAfter,
		Limit:      limit,
	})
}

// WriteServiceUnavailable writes a service unavailable error (503)
func WriteServiceUnavailable(w http.ResponseWriter, detail string) {
	WriteErrorDetail(w, http.StatusServiceUnavailable, detail)
}

// WriteInternalError writes an internal server error (500) without leaking
// the underlying error to the caller
func WriteInternalError(w http.ResponseWriter) {
	WriteErrorDetail(w, http.StatusInternalServerError, "internal server error")
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// ParseJSON decodes JSON from the request body into the destination,
// writing a 400 on failure
func ParseJSON(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		WriteBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}
