package identity

import (
	"github.com/google/uuid"

	"github.com/quietgrove/gatehouse/pkg/authn"
)

// Role is the tenant-level role of a user
type Role string

const (
	RoleAdmin  Role = "admin"  // Full access to the tenant
	RoleMember Role = "member" // Can read and write tenant data
	RoleViewer Role = "viewer" // Read-only access
)

// Permission names an operation a role may perform
type Permission string

const (
	PermissionRead   Permission = "read"
	PermissionWrite  Permission = "write"
	PermissionManage Permission = "manage"
)

// rolePermissions is the fixed role-to-permission grant table.
var rolePermissions = map[Role][]Permission{
	RoleAdmin:  {PermissionRead, PermissionWrite, PermissionManage},
	RoleMember: {PermissionRead, PermissionWrite},
	RoleViewer: {PermissionRead},
}

// Principal is the authenticated caller for the lifetime of one request.
// It is created per-request, never persisted, and owned exclusively by the
// request's context.
//
// UserID is the internal primary key and the only identifier used for
// database operations. The provider subject survives inside Claims for
// audit but is never a lookup key.
type Principal struct {
	UserID      uuid.UUID
	Email       string
	TenantID    uuid.UUID
	Role        Role
	Permissions []Permission
	// Claims keeps the verified token payload for audit; it is not
	// consulted again for authorization decisions.
	Claims *authn.Claims
}

// HasPermission reports whether the principal's role grants the permission
func (p *Principal) HasPermission(perm Permission) bool {
	for _, granted := range p.Permissions {
		if granted == perm {
			return true
		}
	}
	return false
}

// permissionsForRole returns the grant set for a role, defaulting unknown
// roles to viewer.
func permissionsForRole(role Role) []Permission {
	if perms, ok := rolePermissions[role]; ok {
		return append([]Permission(nil), perms...)
	}
	return append([]Permission(nil), rolePermissions[RoleViewer]...)
}
