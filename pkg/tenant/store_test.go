package tenant

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStoreLookupFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	tenantID := uuid.New()
	mock.ExpectQuery("SELECT id").
		WithArgs("org_8GyHq2Lw").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(tenantID.String()))

	store := NewPostgresStore(db)
	got, err := store.LookupByExternalID(context.Background(), "org_8GyHq2Lw")
	require.NoError(t, err)
	assert.Equal(t, tenantID, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreLookupNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id").
		WithArgs("org_missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	store := NewPostgresStore(db)
	_, err = store.LookupByExternalID(context.Background(), "org_missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreLookupQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id").
		WithArgs("org_8GyHq2Lw").
		WillReturnError(errors.New("connection reset"))

	store := NewPostgresStore(db)
	_, err = store.LookupByExternalID(context.Background(), "org_8GyHq2Lw")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
