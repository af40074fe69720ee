package authn

import "errors"

// Sentinel errors for the token verification failure modes. Callers map
// these onto HTTP statuses; all of them mean the request is rejected.
var (
	// ErrInvalidSignature means the token signature did not verify against
	// the provider's published keys.
	ErrInvalidSignature = errors.New("invalid token signature")

	// ErrTokenExpired means the token's expiry has passed.
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidClaims means a standard claim (issuer, audience, not-before)
	// failed validation.
	ErrInvalidClaims = errors.New("invalid token claims")

	// ErrProviderMisconfigured means the bearer token is not a JWT at all.
	// The provider returns opaque tokens when no audience was supplied at
	// issuance, so this points at deployment configuration, not an attacker.
	ErrProviderMisconfigured = errors.New("opaque token: no audience configured at token issuance")

	// ErrProviderUnavailable means the provider could not be reached for a
	// key fetch or freshness check. Verification fails closed.
	ErrProviderUnavailable = errors.New("identity provider unavailable")
)
