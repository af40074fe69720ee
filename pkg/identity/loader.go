package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/quietgrove/gatehouse/pkg/authn"
	"github.com/quietgrove/gatehouse/pkg/observability"
)

var (
	// ErrMissingEmail means the token carried no email claim, so no
	// internal lookup is possible.
	ErrMissingEmail = errors.New("token missing email claim")

	// ErrUserNotFound means no active user record matches the email.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserInactive means the matched user has been deactivated.
	ErrUserInactive = errors.New("user deactivated")

	// ErrTenantMismatch means the token's claimed tenant differs from the
	// user's recorded tenant. Treated as a hard failure: a stale or forged
	// tenant hint must not reach a handler.
	ErrTenantMismatch = errors.New("token tenant does not match user tenant")
)

// Loader resolves the internal user record behind a set of verified claims.
type Loader struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewLoader creates a new identity loader
func NewLoader(db *sql.DB, logger *observability.Logger) *Loader {
	return &Loader{db: db, logger: logger}
}

// Load produces the request Principal from verified claims.
//
// The provider subject is an opaque string whose format depends on the
// upstream identity source; it is never used as, or parsed into, the
// internal user key. Lookup goes strictly by unique email.
//
// claimedTenant is the tenant resolved from the token's organization hint,
// or uuid.Nil when the token carried none. A non-nil claimed tenant that
// disagrees with the user's recorded tenant fails the request.
func (l *Loader) Load(ctx context.Context, claims *authn.Claims, claimedTenant uuid.UUID) (*Principal, error) {
	if claims.Email == "" {
		return nil, ErrMissingEmail
	}

	query := `
		SELECT u.id, u.email, u.role, u.is_active, u.tenant_id
		FROM users u
		WHERE lower(u.email) = lower($1)
	`
	var (
		userID   uuid.UUID
		email    string
		role     string
		isActive bool
		tenantID uuid.UUID
	)
	err := l.db.QueryRowContext(ctx, query, claims.Email).
		Scan(&userID, &email, &role, &isActive, &tenantID)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !isActive {
		return nil, ErrUserInactive
	}

	if claimedTenant != uuid.Nil && claimedTenant != tenantID {
		l.logger.ForRequest(ctx).WithFields(map[string]interface{}{
			"user_id":          userID.String(),
			"token_tenant":     claimedTenant.String(),
			"user_tenant":      tenantID.String(),
			"provider_subject": claims.Subject,
		}).Warn("token tenant disagrees with user record")
		return nil, ErrTenantMismatch
	}

	// Both identifier spaces logged together so audits can correlate
	// provider events with internal records.
	l.logger.ForRequest(ctx).WithFields(map[string]interface{}{
		"user_id":          userID.String(),
		"provider_subject": claims.Subject,
		"tenant_id":        tenantID.String(),
	}).Info("authenticated")

	return &Principal{
		UserID:      userID,
		Email:       email,
		TenantID:    tenantID,
		Role:        Role(role),
		Permissions: permissionsForRole(Role(role)),
		Claims:      claims,
	}, nil
}
