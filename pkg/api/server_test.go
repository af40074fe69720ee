package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/quietgrove/gatehouse/pkg/authn"
	"github.com/quietgrove/gatehouse/pkg/config"
	"github.com/quietgrove/gatehouse/pkg/httputil"
	"github.com/quietgrove/gatehouse/pkg/identity"
	"github.com/quietgrove/gatehouse/pkg/middleware"
	"github.com/quietgrove/gatehouse/pkg/observability"
)

type fakeExchanger struct {
	exchangeErr error
	refreshErr  error
	rotated     string
}

func (f *fakeExchanger) AuthCodeURL(state string) string {
	return "https://idp.gatehouse.test/authorize?audience=https%3A%2F%2Fapi.gatehouse.test&state=" + state
}

func (f *fakeExchanger) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &oauth2.Token{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		Expiry:       time.Now().Add(time.Hour),
	}, nil
}

func (f *fakeExchanger) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &oauth2.Token{
		AccessToken:  "access-refreshed",
		RefreshToken: f.rotated,
		Expiry:       time.Now().Add(time.Hour),
	}, nil
}

type fakeVerifier struct {
	claims *authn.Claims
	err    error
}

func (f *fakeVerifier) Verify(ctx context.Context, rawToken string) (*authn.Claims, error) {
	return f.claims, f.err
}

type fakeResolver struct {
	tenantID uuid.UUID
	err      error
}

func (f *fakeResolver) Resolve(ctx context.Context, externalOrgID string) (uuid.UUID, error) {
	return f.tenantID, f.err
}

type fakeLoader struct {
	principal *identity.Principal
	err       error
}

func (f *fakeLoader) Load(ctx context.Context, claims *authn.Claims, claimedTenant uuid.UUID) (*identity.Principal, error) {
	return f.principal, f.err
}

type serverFixture struct {
	server    *Server
	mr        *miniredis.Miniredis
	exchanger *fakeExchanger
	verifier  *fakeVerifier
	cfg       *config.Config
}

func testConfig() *config.Config {
	return &config.Config{
		CSRF: config.CSRFConfig{
			Enabled:     true,
			CookieName:  "csrf_token",
			HeaderName:  "X-CSRF-Token",
			MinLength:   32,
			ExemptPaths: []string{"/auth/login", "/auth/login-url", "/healthz", "/readyz"},
		},
		RateLimit: config.RateLimitConfig{
			Login:    config.Limit{Requests: 10, Window: 5 * time.Minute},
			Refresh:  config.Limit{Requests: 50, Window: 5 * time.Minute},
			TokenURL: config.Limit{Requests: 30, Window: 5 * time.Minute},
		},
		Environment:    "test",
		AllowedOrigins: []string{"https://app.gatehouse.test"},
	}
}

func newServerFixture(t *testing.T) *serverFixture {
	return newServerFixtureWithConfig(t, testConfig())
}

func newServerFixtureWithConfig(t *testing.T, cfg *config.Config) *serverFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, nil)
	metrics := observability.NewMetrics(nil)

	realip, err := middleware.NewRealIP(nil)
	require.NoError(t, err)

	tenantID := uuid.New()
	verifier := &fakeVerifier{claims: &authn.Claims{
		Subject: "auth0|64f1c9a2b8e7d90001a2b3c4",
		Email:   "ada@initech.example",
		OrgID:   "org_8GyHq2Lw",
	}}
	pipeline := middleware.NewAuthPipeline(
		verifier,
		&fakeResolver{tenantID: tenantID},
		&fakeLoader{principal: &identity.Principal{
			UserID:      uuid.New(),
			Email:       "ada@initech.example",
			TenantID:    tenantID,
			Role:        identity.RoleMember,
			Permissions: []identity.Permission{identity.PermissionRead, identity.PermissionWrite},
		}},
		logger, metrics,
	)

	exchanger := &fakeExchanger{}
	server := NewServer(Deps{
		Config:      cfg,
		Logger:      logger,
		Metrics:     metrics,
		RealIP:      realip,
		CSRF:        middleware.NewCSRFGuard(cfg.CSRF, logger, metrics),
		RateLimiter: middleware.NewRateLimiter(middleware.NewRedisCounterStore(client), cfg.Environment, logger, metrics),
		Pipeline:    pipeline,
		Provider:    exchanger,
	})

	return &serverFixture{server: server, mr: mr, exchanger: exchanger, verifier: verifier, cfg: cfg}
}

func (f *serverFixture) do(req *http.Request) *httptest.ResponseRecorder {
	if req.RemoteAddr == "" || req.RemoteAddr == "192.0.2.1:1234" {
		req.RemoteAddr = "203.0.113.7:51234"
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func loginRequest(code string) *http.Request {
	body, _ := json.Marshal(map[string]string{"code": code})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func cookieByName(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestLoginIssuesCookiesAndToken(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(loginRequest("goodcode"))
	require.Equal(t, http.StatusOK, rec.Code)

	var body tokenResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "access-goodcode", body.AccessToken)
	assert.Equal(t, "Bearer", body.TokenType)
	assert.Greater(t, body.ExpiresIn, 0)

	refresh := cookieByName(rec, "refresh_token")
	require.NotNil(t, refresh)
	assert.True(t, refresh.HttpOnly)

	csrf := cookieByName(rec, "csrf_token")
	require.NotNil(t, csrf)
	assert.False(t, csrf.HttpOnly, "frontend must be able to read the csrf cookie")
	assert.GreaterOrEqual(t, len(csrf.Value), 32)
}

func TestLoginEleventhAttemptRateLimited(t *testing.T) {
	f := newServerFixture(t)

	for i := 0; i < 10; i++ {
		rec := f.do(loginRequest("goodcode"))
		require.Equal(t, http.StatusOK, rec.Code, "attempt %d", i+1)
	}

	rec := f.do(loginRequest("goodcode"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var body httputil.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "10/5minutes", body.Limit)
	assert.Greater(t, body.RetryAfter, 0)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestLoginRateLimitIsPerIP(t *testing.T) {
	f := newServerFixture(t)

	for i := 0; i < 10; i++ {
		f.do(loginRequest("goodcode"))
	}
	require.Equal(t, http.StatusTooManyRequests, f.do(loginRequest("goodcode")).Code)

	other := loginRequest("goodcode")
	other.RemoteAddr = "198.51.100.4:1000"
	assert.Equal(t, http.StatusOK, f.do(other).Code)
}

func TestLoginCounterStoreDownFailsClosed(t *testing.T) {
	f := newServerFixture(t)
	f.mr.Close()

	rec := f.do(loginRequest("goodcode"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLoginBadCode(t *testing.T) {
	f := newServerFixture(t)
	f.exchanger.exchangeErr = errors.New("invalid_grant")

	rec := f.do(loginRequest("badcode"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshWithoutCSRFHeaderIsForbidden(t *testing.T) {
	f := newServerFixture(t)

	login := f.do(loginRequest("goodcode"))
	require.Equal(t, http.StatusOK, login.Code)

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(cookieByName(login, "refresh_token"))
	req.AddCookie(cookieByName(login, "csrf_token"))
	// Header deliberately omitted.
	rec := f.do(req)

	// 403, not 401: the session is fine, the request provenance is not.
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func refreshRequest(login *httptest.ResponseRecorder) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(cookieByName(login, "refresh_token"))
	csrf := cookieByName(login, "csrf_token")
	req.AddCookie(csrf)
	req.Header.Set("X-CSRF-Token", csrf.Value)
	return req
}

func TestRefreshBudgetsIndependentBehindSharedIP(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Refresh = config.Limit{Requests: 1, Window: 5 * time.Minute}
	f := newServerFixtureWithConfig(t, cfg)

	// Two users on one corporate NAT: same client IP, distinct sessions.
	loginA := f.do(loginRequest("user-a"))
	require.Equal(t, http.StatusOK, loginA.Code)
	loginB := f.do(loginRequest("user-b"))
	require.Equal(t, http.StatusOK, loginB.Code)

	assert.Equal(t, http.StatusOK, f.do(refreshRequest(loginA)).Code)
	assert.Equal(t, http.StatusOK, f.do(refreshRequest(loginB)).Code,
		"second session must not be charged for the first session's refresh")

	// The budget is still enforced within one session.
	rec := f.do(refreshRequest(loginA))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var body httputil.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "1/5minutes", body.Limit)
}

func TestRefreshCounterStoreDownFailsClosed(t *testing.T) {
	f := newServerFixture(t)

	login := f.do(loginRequest("goodcode"))
	require.Equal(t, http.StatusOK, login.Code)

	f.mr.Close()

	rec := f.do(refreshRequest(login))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRefreshHappyPathRotatesCSRFCookie(t *testing.T) {
	f := newServerFixture(t)
	f.exchanger.rotated = "refresh-rotated"

	login := f.do(loginRequest("goodcode"))
	require.Equal(t, http.StatusOK, login.Code)
	csrf := cookieByName(login, "csrf_token")

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(cookieByName(login, "refresh_token"))
	req.AddCookie(csrf)
	req.Header.Set("X-CSRF-Token", csrf.Value)
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body tokenResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "access-refreshed", body.AccessToken)

	rotated := cookieByName(rec, "csrf_token")
	require.NotNil(t, rotated)
	assert.NotEqual(t, csrf.Value, rotated.Value)
}

func TestRefreshWithoutSession(t *testing.T) {
	f := newServerFixture(t)

	login := f.do(loginRequest("goodcode"))
	csrf := cookieByName(login, "csrf_token")

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(csrf)
	req.Header.Set("X-CSRF-Token", csrf.Value)
	rec := f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutClearsCookies(t *testing.T) {
	f := newServerFixture(t)

	login := f.do(loginRequest("goodcode"))
	csrf := cookieByName(login, "csrf_token")

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(cookieByName(login, "refresh_token"))
	req.AddCookie(csrf)
	req.Header.Set("X-CSRF-Token", csrf.Value)
	rec := f.do(req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	refresh := cookieByName(rec, "refresh_token")
	require.NotNil(t, refresh)
	assert.Empty(t, refresh.Value)
	assert.Negative(t, refresh.MaxAge)
}

func TestLoginURLCarriesAudience(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/login-url", nil)
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Contains(t, body["authorization_url"], "audience=")
	assert.NotEmpty(t, body["state"])
}

func TestMeRequiresToken(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	rec := f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMeReturnsPrincipal(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer sometoken")
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ada@initech.example", body["email"])
	assert.Equal(t, "member", body["role"])
}

func TestExpiredTokenOnProtectedRoute(t *testing.T) {
	f := newServerFixture(t)
	f.verifier.claims = nil
	f.verifier.err = authn.ErrTokenExpired

	req := httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil)
	req.Header.Set("Authorization", "Bearer expired")
	rec := f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORSPreflightOnLogin(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
	req.Header.Set("Origin", "https://app.gatehouse.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := f.do(req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.gatehouse.test", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStateChangingRequestFromHostileOrigin(t *testing.T) {
	f := newServerFixture(t)

	req := loginRequest("goodcode")
	req.Header.Set("Origin", "https://evil.example")
	rec := f.do(req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealthz(t *testing.T) {
	cfg := testConfig()
	logger := observability.NewLogger(observability.ErrorLevel, nil)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	realip, err := middleware.NewRealIP(nil)
	require.NoError(t, err)

	server := NewServer(Deps{
		Config:      cfg,
		Logger:      logger,
		Health:      observability.NewHealthChecker(nil, client),
		RealIP:      realip,
		CSRF:        middleware.NewCSRFGuard(cfg.CSRF, logger, nil),
		RateLimiter: middleware.NewRateLimiter(middleware.NewRedisCounterStore(client), "test", logger, nil),
		Pipeline:    middleware.NewAuthPipeline(&fakeVerifier{}, &fakeResolver{}, &fakeLoader{}, logger, nil),
		Provider:    &fakeExchanger{},
	})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	mr.Close()
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
