package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/quietgrove/gatehouse/pkg/config"
	"github.com/quietgrove/gatehouse/pkg/httputil"
	"github.com/quietgrove/gatehouse/pkg/middleware"
	"github.com/quietgrove/gatehouse/pkg/observability"
)

// Server wires the authentication pipeline in front of the HTTP routes.
//
// The middleware order is fixed: recovery, request logging, client IP
// resolution, CORS, CSRF, then per-route rate limits, then the token
// pipeline on protected routes. Reordering these changes the security
// properties (e.g. rate limiting after token verification would let an
// attacker burn provider quota for free), so the chain is assembled in one
// place and nowhere else.
type Server struct {
	router       *mux.Router
	cfg          *config.Config
	logger       *observability.Logger
	metrics      *observability.Metrics
	authHandlers *AuthHandlers
}

// Deps are the constructed pipeline stages the server composes
type Deps struct {
	Config      *config.Config
	Logger      *observability.Logger
	Metrics     *observability.Metrics
	Health      *observability.HealthChecker
	RealIP      *middleware.RealIP
	CSRF        *middleware.CSRFGuard
	RateLimiter *middleware.RateLimiter
	Pipeline    *middleware.AuthPipeline
	Provider    TokenExchanger
}

// NewServer creates the API server and assembles the middleware chain
func NewServer(deps Deps) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		cfg:     deps.Config,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		authHandlers: NewAuthHandlers(deps.Provider, deps.CSRF, deps.Config.CSRF.Secure,
			deps.Logger),
	}

	cors := middleware.NewCORS(deps.Config.AllowedOrigins, deps.Logger)

	s.router.Use(
		httputil.Recovery(deps.Logger),
		httputil.RequestLogging(deps.Logger, deps.Metrics),
		deps.RealIP.Middleware,
		cors.Handler,
		deps.CSRF.Handler,
	)

	s.setupRoutes(deps)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(deps Deps) {
	limits := deps.Config.RateLimit

	// Probes and metrics. These are CSRF-exempt by configuration and never
	// rate limited so orchestrators are not locked out.
	if deps.Health != nil {
		s.router.HandleFunc("/healthz", deps.Health.Liveness).Methods("GET")
		s.router.HandleFunc("/readyz", deps.Health.Readiness).Methods("GET")
	}
	if deps.Metrics != nil {
		s.router.Handle("/metrics", deps.Metrics.Handler()).Methods("GET")
	}

	// Unauthenticated auth routes, each behind its own counter tier.
	// OPTIONS is included so preflights reach the CORS middleware; mux only
	// runs middleware on matched routes.
	s.router.Handle("/auth/login-url",
		deps.RateLimiter.Limit("token_url", limits.TokenURL, middleware.KeyByIP)(
			http.HandlerFunc(s.authHandlers.loginURL))).Methods("GET", "OPTIONS")
	s.router.Handle("/auth/login",
		deps.RateLimiter.Limit("login", limits.Login, middleware.KeyByIP)(
			http.HandlerFunc(s.authHandlers.login))).Methods("POST", "OPTIONS")
	// Refresh runs before the token pipeline, so the counter is keyed on
	// the session cookie rather than a principal: users sharing a NAT IP
	// must not drain each other's refresh budget.
	s.router.Handle("/auth/refresh",
		deps.RateLimiter.Limit("refresh", limits.Refresh, middleware.KeyBySessionCookie(refreshCookieName))(
			http.HandlerFunc(s.authHandlers.refresh))).Methods("POST", "OPTIONS")
	s.router.Handle("/auth/logout",
		http.HandlerFunc(s.authHandlers.logout)).Methods("POST", "OPTIONS")

	// Everything behind the full token pipeline.
	s.router.Handle("/auth/me",
		deps.Pipeline.Handler(http.HandlerFunc(s.me))).Methods("GET", "OPTIONS")

	protected := s.router.PathPrefix("/api/v1").Subrouter()
	protected.Use(deps.Pipeline.Handler)
	protected.HandleFunc("/whoami", s.me).Methods("GET", "OPTIONS")
}

// Handler returns the fully assembled HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// me returns the authenticated principal's identity
func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		// Unreachable behind the pipeline; kept as a guard against a route
		// being registered outside it.
		httputil.WriteUnauthorized(w, "not authenticated")
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{ //nolint:errcheck
		"user_id":     principal.UserID.String(),
		"email":       principal.Email,
		"tenant_id":   principal.TenantID.String(),
		"role":        principal.Role,
		"permissions": principal.Permissions,
	})
}
