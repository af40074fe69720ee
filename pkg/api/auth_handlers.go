package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/quietgrove/gatehouse/pkg/httputil"
	"github.com/quietgrove/gatehouse/pkg/middleware"
	"github.com/quietgrove/gatehouse/pkg/observability"
)

// refreshCookieName holds the provider refresh token. Unlike the csrf
// cookie it is HttpOnly: scripts never need it, only this server does.
const refreshCookieName = "refresh_token"

// TokenExchanger is the slice of the provider client the handlers need
type TokenExchanger interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// AuthHandlers handles the login, refresh, and logout flows
type AuthHandlers struct {
	provider     TokenExchanger
	csrf         *middleware.CSRFGuard
	secureCookie bool
	logger       *observability.Logger
}

// NewAuthHandlers creates a new auth handlers instance
func NewAuthHandlers(provider TokenExchanger, csrf *middleware.CSRFGuard, secureCookie bool, logger *observability.Logger) *AuthHandlers {
	return &AuthHandlers{
		provider:     provider,
		csrf:         csrf,
		secureCookie: secureCookie,
		logger:       logger,
	}
}

// tokenResponse is the wire shape of a successful login or refresh
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// loginURL handles GET /auth/login-url
//
// The returned URL always carries the audience parameter; without it the
// provider would mint opaque tokens the verifier cannot check.
func (h *AuthHandlers) loginURL(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	httputil.WriteSuccess(w, map[string]string{ //nolint:errcheck
		"authorization_url": h.provider.AuthCodeURL(state),
		"state":             state,
	})
}

// login handles POST /auth/login
//
// Exchanges the authorization code, stashes the refresh token in an
// HttpOnly cookie, and mints the csrf cookie the frontend echoes back on
// later state-changing requests.
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !httputil.ParseJSON(w, r, &req) {
		return
	}
	if req.Code == "" {
		httputil.WriteBadRequest(w, "code is required")
		return
	}

	token, err := h.provider.Exchange(r.Context(), req.Code)
	if err != nil {
		h.logger.ForRequest(r.Context()).WithError(err).Warn("code exchange failed")
		httputil.WriteUnauthorized(w, "authorization code rejected")
		return
	}

	if token.RefreshToken != "" {
		h.setRefreshCookie(w, token.RefreshToken)
	}
	if err := h.issueCSRFCookie(w); err != nil {
		h.logger.ForRequest(r.Context()).WithError(err).Error("csrf token generation failed")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, newTokenResponse(token)) //nolint:errcheck
}

// refresh handles POST /auth/refresh
//
// Runs behind the CSRF guard: the refresh cookie rides along on any
// browser request, so without the header check a hostile page could mint
// fresh access tokens. The csrf cookie is rotated on every refresh.
func (h *AuthHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		httputil.WriteUnauthorized(w, "no active session")
		return
	}

	token, err := h.provider.Refresh(r.Context(), cookie.Value)
	if err != nil {
		h.logger.ForRequest(r.Context()).WithError(err).Warn("token refresh failed")
		h.clearRefreshCookie(w)
		httputil.WriteUnauthorized(w, "session expired")
		return
	}

	if token.RefreshToken != "" && token.RefreshToken != cookie.Value {
		h.setRefreshCookie(w, token.RefreshToken)
	}
	if err := h.issueCSRFCookie(w); err != nil {
		h.logger.ForRequest(r.Context()).WithError(err).Error("csrf token generation failed")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, newTokenResponse(token)) //nolint:errcheck
}

// logout handles POST /auth/logout
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	h.clearRefreshCookie(w)
	h.csrf.ClearCookie(w)
	httputil.WriteNoContent(w)
}

func (h *AuthHandlers) issueCSRFCookie(w http.ResponseWriter) error {
	token, err := middleware.MintCSRFToken()
	if err != nil {
		return err
	}
	h.csrf.SetCookie(w, token)
	return nil
}

func (h *AuthHandlers) setRefreshCookie(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    value,
		Path:     "/auth",
		Secure:   h.secureCookie,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandlers) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		Secure:   h.secureCookie,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func newTokenResponse(token *oauth2.Token) tokenResponse {
	expiresIn := 0
	if !token.Expiry.IsZero() {
		expiresIn = int(time.Until(token.Expiry).Seconds())
	}
	return tokenResponse{
		AccessToken: token.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn,
	}
}
