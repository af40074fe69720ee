// Package tenant maps external organization identifiers to internal
// tenant IDs.
//
// Tokens from the identity provider carry a provider-assigned organization
// identifier; everything inside the system is keyed by the tenant's UUID.
// The resolver answers from an expiring in-process cache, falling back to
// the organizations table on miss. Provisioning a tenant is therefore a
// single database insert with no deploy.
package tenant
