package authn

import "time"

// Claims is the decoded, validated payload of a bearer token. The required
// fields are typed; everything else is carried opaquely in Raw for audit.
//
// Subject is the provider-assigned identifier and is NOT a database key.
// Its format varies by upstream identity source (it is frequently not a
// UUID), so nothing downstream may parse or coerce it.
type Claims struct {
	Subject  string
	Email    string
	OrgID    string // external organization identifier, tenant hint
	Role     string
	Expiry   time.Time
	IssuedAt time.Time
	Raw      map[string]interface{}
}
