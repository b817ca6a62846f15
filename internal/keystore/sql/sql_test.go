package sql

import (
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/pqkeys/internal/keystore"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewFromDB(db, Postgres), mock
}

func TestInsert_MapsToInsertStatement(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO pqkeys_keys").WillReturnResult(sqlmock.NewResult(1, 1))

	rec := &keystore.Record{
		KeyID:     "key-1",
		Algorithm: "Kyber1024",
		Purpose:   "encapsulation",
		State:     keystore.Active,
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.Insert(rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_ScansRecord(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"key_id", "algorithm", "purpose", "state", "protector_name", "public_key", "protected_blob",
		"generation", "predecessor_id", "created_at", "rotated_at", "expires_at", "revoked_at", "revoked_reason", "tags",
	}).AddRow("key-1", "Kyber1024", "encapsulation", "active", "local", []byte("pub"), []byte("blob"),
		1, "", now, nil, nil, nil, "", "")

	mock.ExpectQuery("SELECT .* FROM pqkeys_keys WHERE key_id").WillReturnRows(rows)

	rec, err := s.Get("key-1")
	require.NoError(t, err)
	assert.Equal(t, "key-1", rec.KeyID)
	assert.Equal(t, keystore.Active, rec.State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT .* FROM pqkeys_keys WHERE key_id").WillReturnError(sql.ErrNoRows)

	_, err := s.Get("missing")
	require.ErrorIs(t, err, keystore.ErrNotFound)
}

func TestUpdate_NoRowsReturnsNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE pqkeys_keys").WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Update(&keystore.Record{KeyID: "ghost", State: keystore.Active})
	require.ErrorIs(t, err, keystore.ErrNotFound)
}

func TestCount_GroupsByState(t *testing.T) {
	s, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"state", "count"}).
		AddRow("active", 3).
		AddRow("compromised", 1)
	mock.ExpectQuery("SELECT state, COUNT").WillReturnRows(rows)

	counts, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, counts[keystore.Active])
	assert.Equal(t, 1, counts[keystore.Compromised])
}
