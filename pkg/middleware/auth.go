package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/quietgrove/gatehouse/pkg/authn"
	"github.com/quietgrove/gatehouse/pkg/contextkeys"
	"github.com/quietgrove/gatehouse/pkg/httputil"
	"github.com/quietgrove/gatehouse/pkg/identity"
	"github.com/quietgrove/gatehouse/pkg/observability"
	"github.com/quietgrove/gatehouse/pkg/tenant"
)

// TokenVerifier validates a raw bearer token and returns its claims
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*authn.Claims, error)
}

// TenantResolver maps an external organization identifier to a tenant UUID
type TenantResolver interface {
	Resolve(ctx context.Context, externalOrgID string) (uuid.UUID, error)
}

// IdentityLoader resolves verified claims into a request Principal
type IdentityLoader interface {
	Load(ctx context.Context, claims *authn.Claims, claimedTenant uuid.UUID) (*identity.Principal, error)
}

// AuthPipeline runs the authentication stages in fixed order: bearer token
// extraction, token verification, tenant resolution, identity loading. Each
// stage sees only the output of the one before it, and the first failure
// ends the request.
//
// Status mapping: bad credentials are 401, a valid identity pointed at the
// wrong tenant is 403, and an unreachable dependency is 503 so clients can
// distinguish "re-authenticate" from "retry later".
type AuthPipeline struct {
	verifier TokenVerifier
	tenants  TenantResolver
	loader   IdentityLoader
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewAuthPipeline creates the authentication pipeline middleware
func NewAuthPipeline(verifier TokenVerifier, tenants TenantResolver, loader IdentityLoader, logger *observability.Logger, metrics *observability.Metrics) *AuthPipeline {
	return &AuthPipeline{
		verifier: verifier,
		tenants:  tenants,
		loader:   loader,
		logger:   logger,
		metrics:  metrics,
	}
}

// Handler authenticates the request and stores the Principal in the context
func (p *AuthPipeline) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawToken, ok := bearerToken(r)
		if !ok {
			p.reject(w, r, "missing_token", http.StatusUnauthorized, "missing or malformed Authorization header")
			return
		}

		claims, err := p.verifier.Verify(r.Context(), rawToken)
		if err != nil {
			p.rejectVerify(w, r, err)
			return
		}

		claimedTenant := uuid.Nil
		if claims.OrgID != "" {
			claimedTenant, err = p.tenants.Resolve(r.Context(), claims.OrgID)
			if err != nil {
				p.rejectTenant(w, r, err)
				return
			}
		}

		principal, err := p.loader.Load(r.Context(), claims, claimedTenant)
		if err != nil {
			p.rejectIdentity(w, r, err)
			return
		}

		if p.metrics != nil {
			p.metrics.AuthSuccessTotal.Inc()
		}
		ctx := contextkeys.WithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (p *AuthPipeline) rejectVerify(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, authn.ErrTokenExpired):
		p.reject(w, r, "token_expired", http.StatusUnauthorized, "token expired")
	case errors.Is(err, authn.ErrProviderMisconfigured):
		// Misconfiguration, not a bad caller: say so in the detail so the
		// operator finds the missing audience parameter quickly.
		p.reject(w, r, "provider_misconfigured", http.StatusUnauthorized,
			"received an opaque token; check the audience parameter on token requests")
	case errors.Is(err, authn.ErrProviderUnavailable):
		p.reject(w, r, "provider_unavailable", http.StatusServiceUnavailable, "identity provider unavailable")
	case errors.Is(err, authn.ErrInvalidClaims):
		p.reject(w, r, "invalid_claims", http.StatusUnauthorized, "token claims rejected")
	default:
		p.reject(w, r, "invalid_signature", http.StatusUnauthorized, "token verification failed")
	}
}

func (p *AuthPipeline) rejectTenant(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, tenant.ErrNotFound) {
		// The token verified but points at an organization we do not know:
		// a credential problem for this deployment, not a server fault.
		p.reject(w, r, "tenant_not_found", http.StatusForbidden, "organization not recognized")
		return
	}
	p.logger.ForRequest(r.Context()).WithError(err).Error("tenant resolution failed")
	p.reject(w, r, "tenant_lookup_failed", http.StatusServiceUnavailable, "tenant lookup unavailable")
}

func (p *AuthPipeline) rejectIdentity(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrMissingEmail):
		p.reject(w, r, "missing_email", http.StatusUnauthorized, "token missing email claim")
	case errors.Is(err, identity.ErrUserNotFound):
		p.reject(w, r, "user_not_found", http.StatusUnauthorized, "user not found")
	case errors.Is(err, identity.ErrUserInactive):
		p.reject(w, r, "user_inactive", http.StatusUnauthorized, "user deactivated")
	case errors.Is(err, identity.ErrTenantMismatch):
		p.reject(w, r, "tenant_mismatch", http.StatusForbidden, "tenant mismatch")
	default:
		p.logger.ForRequest(r.Context()).WithError(err).Error("identity lookup failed")
		p.reject(w, r, "identity_lookup_failed", http.StatusServiceUnavailable, "identity lookup unavailable")
	}
}

func (p *AuthPipeline) reject(w http.ResponseWriter, r *http.Request, reason string, status int, detail string) {
	if p.metrics != nil {
		p.metrics.AuthRejectionsTotal.WithLabelValues(reason).Inc()
	}
	p.logger.SecurityEvent(r.Context(), "auth_rejected", r.URL.Path, r.Method, reason)
	httputil.WriteErrorDetail(w, status, detail)
}

// GetPrincipal retrieves the authenticated principal from the context. The
// boolean is false on any route the pipeline does not wrap.
func GetPrincipal(ctx context.Context) (*identity.Principal, bool) {
	principal, ok := ctx.Value(contextkeys.PrincipalKey).(*identity.Principal)
	return principal, ok
}

// bearerToken extracts the bearer token from the Authorization header
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
