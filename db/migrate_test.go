package db

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	database.SetMaxOpenConns(1)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestMigrateFromEmpty(t *testing.T) {
	database := openMemoryDB(t)

	require.NoError(t, Migrate(database, nil))

	// Every engine table must exist after a fresh migration run.
	for _, table := range []string{
		"schema_migrations",
		"schedule_definitions",
		"export_jobs",
		"job_logs",
		"schedule_firings",
		"documents",
		"audit_log",
	} {
		var name string
		err := database.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s missing", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	database := openMemoryDB(t)

	require.NoError(t, Migrate(database, nil))

	var before int
	require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&before))
	assert.Greater(t, before, 0)

	// Second run applies nothing new.
	require.NoError(t, Migrate(database, nil))

	var after int
	require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&after))
	assert.Equal(t, before, after)
}

func TestOpenSetsPragmas(t *testing.T) {
	path := t.TempDir() + "/pragmas.db"
	database, err := Open(path, nil)
	require.NoError(t, err)
	defer database.Close()

	var fk int
	require.NoError(t, database.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	var mode string
	require.NoError(t, database.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}
