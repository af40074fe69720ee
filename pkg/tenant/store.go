package tenant

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// PostgresStore resolves external organization identifiers against the
// organizations table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// LookupByExternalID finds the tenant whose stored external organization
// identifier matches. Adding a tenant is a plain insert into this table;
// no code change or deploy is involved.
func (s *PostgresStore) LookupByExternalID(ctx context.Context, externalOrgID string) (uuid.UUID, error) {
	query := `
		SELECT id
		FROM organizations
		WHERE external_org_id = $1 AND is_active = true
	`
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx, query, externalOrgID).Scan(&id)
	if err == sql.ErrNoRows {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to look up organization: %w", err)
	}
	return id, nil
}
