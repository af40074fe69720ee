package authn

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/quietgrove/gatehouse/pkg/config"
	"github.com/quietgrove/gatehouse/pkg/observability"
)

// Discover performs OIDC discovery against the configured issuer. The
// returned provider carries the remote key set (cached, refreshed on
// key-id miss so rotation needs no restart) and the token endpoints.
func Discover(ctx context.Context, cfg config.ProviderConfig) (*oidc.Provider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("%w: discovery failed: %v", ErrProviderUnavailable, err)
	}
	return provider, nil
}

// Verifier validates bearer tokens against the identity provider's signing
// keys and standard claims.
type Verifier struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	cfg      config.ProviderConfig
	logger   *observability.Logger
}

// NewVerifier creates a token verifier bound to a discovered provider.
// Only asymmetric algorithms are accepted; a symmetric or "none" algorithm
// in the token header fails signature verification.
func NewVerifier(provider *oidc.Provider, cfg config.ProviderConfig, logger *observability.Logger) *Verifier {
	oidcConfig := &oidc.Config{
		ClientID:             cfg.Audience,
		SupportedSigningAlgs: []string{oidc.RS256, oidc.RS384, oidc.RS512, oidc.ES256, oidc.ES384, oidc.ES512},
	}
	return &Verifier{
		provider: provider,
		verifier: provider.Verifier(oidcConfig),
		cfg:      cfg,
		logger:   logger,
	}
}

// rawClaims is the wire shape of the provider's claims we extract.
type rawClaims struct {
	Email string `json:"email"`
	OrgID string `json:"org_id"`
	Role  string `json:"role"`
}

// Verify validates the token's signature, issuer, audience, and expiry and
// returns the decoded claims. All failures are typed; none fall through to
// an allow path.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	// A provider given no target audience at issuance returns an opaque
	// token instead of a JWT. Detect that before signature work so the
	// operator sees a configuration error, not an attack signal.
	if strings.Count(rawToken, ".") != 2 {
		return nil, ErrProviderMisconfigured
	}

	ctx, cancel := context.WithTimeout(ctx, v.cfg.RequestTimeout)
	defer cancel()

	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, classifyVerifyError(err)
	}

	var rc rawClaims
	if err := idToken.Claims(&rc); err != nil {
		return nil, fmt.Errorf("%w: undecodable claims: %v", ErrInvalidClaims, err)
	}
	raw := make(map[string]interface{})
	if err := idToken.Claims(&raw); err != nil {
		return nil, fmt.Errorf("%w: undecodable claims: %v", ErrInvalidClaims, err)
	}

	if v.cfg.UserinfoCheck {
		if err := v.checkFreshness(ctx, rawToken); err != nil {
			return nil, err
		}
	}

	return &Claims{
		Subject:  idToken.Subject,
		Email:    rc.Email,
		OrgID:    rc.OrgID,
		Role:     rc.Role,
		Expiry:   idToken.Expiry,
		IssuedAt: idToken.IssuedAt,
		Raw:      raw,
	}, nil
}

// checkFreshness asks the provider's userinfo endpoint whether the session
// behind this token is still live. It catches server-side revocation that
// signature validation cannot see. The configured policy decides whether a
// failing call degrades (log and continue) or rejects.
func (v *Verifier) checkFreshness(ctx context.Context, rawToken string) error {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: rawToken})
	if _, err := v.provider.UserInfo(ctx, source); err != nil {
		if v.cfg.UserinfoPolicy == config.FailClosed {
			return fmt.Errorf("%w: userinfo check failed: %v", ErrProviderUnavailable, err)
		}
		v.logger.WithError(err).Warn("userinfo freshness check failed, continuing per fail-open policy")
	}
	return nil
}

// classifyVerifyError maps go-oidc verification failures onto the error
// taxonomy. go-oidc exposes expiry as a typed error; the rest are
// distinguished by message.
func classifyVerifyError(err error) error {
	var expired *oidc.TokenExpiredError
	if errors.As(err, &expired) {
		return fmt.Errorf("%w: expired at %s", ErrTokenExpired, expired.Expiry)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "audience"),
		strings.Contains(msg, "issued by a different provider"),
		strings.Contains(msg, "issuer"),
		strings.Contains(msg, "before the nbf"):
		return fmt.Errorf("%w: %v", ErrInvalidClaims, err)
	case strings.Contains(msg, "fetching keys"),
		strings.Contains(msg, "get keys"),
		strings.Contains(msg, "connection refused"):
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
}
