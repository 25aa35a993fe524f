package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "nested", "book.db"), "secret")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestRunMigrations_Idempotent(t *testing.T) {
	database := openTemp(t)

	require.NoError(t, database.RunMigrations())
	require.NoError(t, database.RunMigrations())

	var version int
	require.NoError(t, database.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version))
	assert.Equal(t, len(migrations), version)
}

func TestAuditTablesAreAppendOnly(t *testing.T) {
	database := openTemp(t)
	require.NoError(t, database.RunMigrations())

	_, err := database.Exec("INSERT INTO audit_log (action, detail, actor) VALUES ('provision', 'x', 'me')")
	require.NoError(t, err)

	_, err = database.Exec("UPDATE audit_log SET detail = 'y'")
	assert.ErrorContains(t, err, "append-only")
	_, err = database.Exec("DELETE FROM audit_log")
	assert.ErrorContains(t, err, "append-only")
}

func TestReset(t *testing.T) {
	database := openTemp(t)
	require.NoError(t, database.RunMigrations())

	_, err := database.Exec("INSERT INTO clients (name) VALUES ('Acme')")
	require.NoError(t, err)
	_, err = database.Exec("INSERT INTO audit_log (action, detail, actor) VALUES ('provision', 'x', 'me')")
	require.NoError(t, err)

	require.NoError(t, database.Reset())

	for _, table := range []string{"clients", "audit_log"} {
		var n int
		require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
		assert.Zero(t, n, table)
	}

	// triggers come back with the schema
	_, err = database.Exec("INSERT INTO audit_log (action, detail, actor) VALUES ('provision', 'x', 'me')")
	require.NoError(t, err)
	_, err = database.Exec("DELETE FROM audit_log")
	assert.ErrorContains(t, err, "append-only")
}

func TestOpen_WrongKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.db")
	database, err := Open(path, "right")
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations())
	require.NoError(t, database.Close())

	// sqlcipher rejects the key on first read
	other, err := Open(path, "wrong")
	if err == nil {
		defer other.Close()
		err = other.RunMigrations()
	}
	assert.Error(t, err)
}
