package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quietgrove/gatehouse/pkg/observability"
)

func newTestCORS() *CORS {
	return NewCORS([]string{"https://app.gatehouse.test"},
		observability.NewLogger(observability.ErrorLevel, nil))
}

func corsRequest(method, origin string) *http.Request {
	req := httptest.NewRequest(method, "/api/things", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return req
}

func TestCORSAllowedOrigin(t *testing.T) {
	cors := newTestCORS()

	rec := httptest.NewRecorder()
	cors.Handler(okHandler()).ServeHTTP(rec, corsRequest(http.MethodGet, "https://app.gatehouse.test"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://app.gatehouse.test", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
}

func TestCORSPreflight(t *testing.T) {
	cors := newTestCORS()

	rec := httptest.NewRecorder()
	cors.Handler(okHandler()).ServeHTTP(rec, corsRequest(http.MethodOptions, "https://app.gatehouse.test"))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-CSRF-Token")
}

func TestCORSDisallowedOriginStateChanging(t *testing.T) {
	cors := newTestCORS()

	rec := httptest.NewRecorder()
	cors.Handler(okHandler()).ServeHTTP(rec, corsRequest(http.MethodPost, "https://evil.example"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSDisallowedOriginReadPassesWithoutHeaders(t *testing.T) {
	cors := newTestCORS()

	rec := httptest.NewRecorder()
	cors.Handler(okHandler()).ServeHTTP(rec, corsRequest(http.MethodGet, "https://evil.example"))

	// The browser will withhold the response; we just never vouch for it.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSNoOriginHeader(t *testing.T) {
	cors := newTestCORS()

	rec := httptest.NewRecorder()
	cors.Handler(okHandler()).ServeHTTP(rec, corsRequest(http.MethodPost, ""))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWildcardNeverEchoed(t *testing.T) {
	cors := NewCORS(nil, observability.NewLogger(observability.ErrorLevel, nil))

	rec := httptest.NewRecorder()
	cors.Handler(okHandler()).ServeHTTP(rec, corsRequest(http.MethodGet, "https://app.gatehouse.test"))
	assert.NotEqual(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
