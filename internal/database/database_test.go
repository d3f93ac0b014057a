package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openServerDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "server.db"), ServerSchema, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")

	db, err := New(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = New(path, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM pending_events`).Scan(&n))
	assert.Zero(t, n)
}

func TestOpenVisitIndexRejectsSecondOpenVisit(t *testing.T) {
	db := openServerDB(t)
	now := time.Now().UTC()

	insert := `INSERT INTO visits (id, user_id, check_in_at, created_at) VALUES (?, ?, ?, ?)`
	_, err := db.Exec(insert, "v1", "u1", now, now)
	require.NoError(t, err)

	_, err = db.Exec(insert, "v2", "u1", now, now)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))

	// other users are unaffected
	_, err = db.Exec(insert, "v3", "u2", now, now)
	require.NoError(t, err)

	// closing the first visit frees the slot
	_, err = db.Exec(`UPDATE visits SET check_out_at = ? WHERE id = ?`, now, "v1")
	require.NoError(t, err)
	_, err = db.Exec(insert, "v4", "u1", now, now)
	require.NoError(t, err)
}

func TestCompanyNameIsCaseInsensitiveUnique(t *testing.T) {
	db := openServerDB(t)
	now := time.Now().UTC()

	_, err := db.Exec(`INSERT INTO companies (id, name, created_at) VALUES (?, ?, ?)`, "c1", "Acme", now)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO companies (id, name, created_at) VALUES (?, ?, ?)`, "c2", "ACME", now)
	assert.True(t, IsUniqueViolation(err))
}

func TestRebind(t *testing.T) {
	pg := &DB{Driver: DriverPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.Rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	lite := &DB{Driver: DriverSQLite}
	assert.Equal(t, "SELECT ?", lite.Rebind("SELECT ?"))
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "postgres://***@db:5432/app", redact(DriverPostgres, "postgres://user:pw@db:5432/app"))
	assert.Equal(t, "./x.db", redact(DriverSQLite, "./x.db"))
}

func TestIsUniqueViolationIgnoresOtherErrors(t *testing.T) {
	assert.False(t, IsUniqueViolation(nil))
	assert.False(t, IsUniqueViolation(assert.AnError))
}
