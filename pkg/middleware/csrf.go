package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/quietgrove/gatehouse/pkg/config"
	"github.com/quietgrove/gatehouse/pkg/httputil"
	"github.com/quietgrove/gatehouse/pkg/observability"
)

// csrfTokenBytes of entropy per minted token; base64url-encoded this yields
// a 43-character value, comfortably above any sane minimum length.
const csrfTokenBytes = 32

// CSRFGuard implements the double-submit cookie check: browsers attach the
// cookie automatically, but only same-origin scripts can read it back into
// the header, so a matching pair proves the request came from our frontend.
//
// Only state-changing methods are checked. The guard never stores anything
// server-side; the comparison is purely between the two request halves.
type CSRFGuard struct {
	cfg     config.CSRFConfig
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewCSRFGuard creates a new CSRF guard
func NewCSRFGuard(cfg config.CSRFConfig, logger *observability.Logger, metrics *observability.Metrics) *CSRFGuard {
	return &CSRFGuard{cfg: cfg, logger: logger, metrics: metrics}
}

// MintCSRFToken generates a fresh random token for the csrf cookie
func MintCSRFToken() (string, error) {
	buf := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate CSRF token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// SetCookie writes the csrf cookie on a response. The cookie is deliberately
// NOT HttpOnly: the double-submit scheme requires the frontend to read it.
func (g *CSRFGuard) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     g.cfg.CookieName,
		Value:    token,
		Path:     "/",
		Secure:   g.cfg.Secure,
		HttpOnly: false,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the csrf cookie on logout
func (g *CSRFGuard) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     g.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   g.cfg.Secure,
		HttpOnly: false,
		SameSite: http.SameSiteLaxMode,
	})
}

// Handler rejects state-changing requests whose cookie and header tokens do
// not match. Safe methods and exempt paths pass through untouched.
func (g *CSRFGuard) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.cfg.Enabled || !isStateChanging(r.Method) || g.isExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(g.cfg.CookieName)
		if err != nil || cookie.Value == "" {
			g.reject(w, r, "missing_cookie")
			return
		}

		header := r.Header.Get(g.cfg.HeaderName)
		if header == "" {
			g.reject(w, r, "missing_header")
			return
		}

		if len(cookie.Value) < g.cfg.MinLength || len(header) < g.cfg.MinLength {
			g.reject(w, r, "token_too_short")
			return
		}

		if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
			g.reject(w, r, "token_mismatch")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (g *CSRFGuard) reject(w http.ResponseWriter, r *http.Request, reason string) {
	if g.metrics != nil {
		g.metrics.CSRFRejectionsTotal.WithLabelValues(reason).Inc()
	}
	// Reason codes only; the token values themselves are never logged.
	g.logger.SecurityEvent(r.Context(), "csrf_rejected", r.URL.Path, r.Method, reason)
	httputil.WriteForbidden(w, "CSRF token missing or invalid")
}

// isExempt matches exact paths and single-segment prefixes ("/auth/login"
// also exempts "/auth/login/").
func (g *CSRFGuard) isExempt(path string) bool {
	for _, exempt := range g.cfg.ExemptPaths {
		if path == exempt || strings.HasPrefix(path, exempt+"/") {
			return true
		}
	}
	return false
}

func isStateChanging(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}
