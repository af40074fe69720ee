// Package identity turns verified token claims into the request Principal.
//
// The lookup key is the token's email claim, never the provider subject:
// subjects are provider-specific strings ("auth0|...", "google-oauth2|...")
// that are not UUIDs and must not be coerced into internal keys. The
// Principal carries the internal user UUID, tenant UUID, role, and the
// derived permission set for the rest of the request.
package identity
