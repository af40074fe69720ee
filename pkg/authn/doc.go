// Package authn verifies bearer tokens against the external identity
// provider and exchanges authorization codes and refresh tokens.
//
// Verification is local: signatures are checked against the provider's
// published key set, which go-oidc caches and refreshes on key-id miss so
// provider key rotation needs no redeploy. Standard claims (issuer,
// audience, expiry, not-before) are validated on every call. An optional
// userinfo round trip catches tokens whose server-side session has been
// revoked; its failure behavior is a declared policy, not an accident.
//
// Every failure mode is a typed sentinel error. A token that is not a JWT
// at all maps to ErrProviderMisconfigured rather than a signature failure,
// because the provider returns opaque tokens when the deployment forgot to
// configure an audience.
package authn
