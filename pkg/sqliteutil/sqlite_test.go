package sqliteutil

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenDB_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "telemetry.db")

	db, err := OpenDB(path)
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestOpenDB_Memory(t *testing.T) {
	db, err := OpenDB(MemoryPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(t.Context(), "CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)
	_, err = db.ExecContext(t.Context(), "INSERT INTO t VALUES (1)")
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRowContext(t.Context(), "SELECT COUNT(*) FROM t").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestOpenDB_ParentIsFile(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	_, err := OpenDB(filepath.Join(blocker, "telemetry.db"))
	require.Error(t, err)
}

func TestMigrator_AppliesOnce(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer db.Close()

	migrations := []Migration{
		{Name: "test_001_create", UpSQL: "CREATE TABLE IF NOT EXISTS things (id INTEGER PRIMARY KEY)"},
		{Name: "test_002_insert", UpSQL: "INSERT INTO things (id) VALUES (1)"},
	}

	m := NewMigrator(db)
	require.NoError(t, m.Run(t.Context(), migrations))
	// A second run must not re-insert the row.
	require.NoError(t, m.Run(t.Context(), migrations))

	var n int
	require.NoError(t, db.QueryRowContext(t.Context(), "SELECT COUNT(*) FROM things").Scan(&n))
	assert.Equal(t, 1, n)

	assert.Equal(t, []string{"test_001_create", "test_002_insert"}, appliedNames(t, db))
}

func TestMigrator_FailedMigrationIsNotRecorded(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer db.Close()

	m := NewMigrator(db)
	err = m.Run(t.Context(), []Migration{{Name: "broken", UpSQL: "NOT SQL"}})
	require.Error(t, err)

	assert.Empty(t, appliedNames(t, db))
}

func appliedNames(t *testing.T, db *sql.DB) []string {
	t.Helper()

	rows, err := db.QueryContext(t.Context(), "SELECT name FROM migrations ORDER BY name")
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	return names
}

func busyTimeout(t *testing.T, db *sql.DB) int {
	t.Helper()

	var ms int
	require.NoError(t, db.QueryRowContext(t.Context(), "PRAGMA busy_timeout").Scan(&ms))
	return ms
}

func TestOpenDB_BusyTimeout(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	def, err := OpenDB(filepath.Join(dir, "default.db"))
	require.NoError(t, err)
	defer def.Close()
	assert.Equal(t, 5000, busyTimeout(t, def))

	custom, err := OpenDB(filepath.Join(dir, "custom.db"), WithBusyTimeout(250*time.Millisecond))
	require.NoError(t, err)
	defer custom.Close()
	assert.Equal(t, 250, busyTimeout(t, custom))
}

// holdWriteLock opens a second handle on path and keeps a write transaction
// open on it until the returned function commits it.
func holdWriteLock(t *testing.T, path string) func() error {
	t.Helper()

	db, err := OpenDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.ExecContext(t.Context(), "CREATE TABLE IF NOT EXISTS lock_holder (id INTEGER)")
	require.NoError(t, err)

	tx, err := db.BeginTx(t.Context(), nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(t.Context(), "INSERT INTO lock_holder (id) VALUES (1)")
	require.NoError(t, err)
	return tx.Commit
}

func TestIsBusyError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "busy.db")
	release := holdWriteLock(t, path)
	defer func() { _ = release() }()

	db, err := OpenDB(path, WithBusyTimeout(0))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(t.Context(), "INSERT INTO lock_holder (id) VALUES (2)")
	require.Error(t, err)
	assert.True(t, IsBusyError(err))

	assert.False(t, IsBusyError(nil))
	assert.False(t, IsBusyError(errors.New("disk full")))
}

func TestMigrator_RetriesWhileLocked(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "m.db")
	release := holdWriteLock(t, path)

	db, err := OpenDB(path, WithBusyTimeout(0))
	require.NoError(t, err)
	defer db.Close()

	released := make(chan error, 1)
	go func() {
		time.Sleep(100 * time.Millisecond)
		released <- release()
	}()

	err = NewMigrator(db).Run(t.Context(), []Migration{
		{Name: "test_001_create", UpSQL: "CREATE TABLE IF NOT EXISTS things (id INTEGER PRIMARY KEY)"},
	})
	require.NoError(t, err)
	require.NoError(t, <-released)

	assert.Equal(t, []string{"test_001_create"}, appliedNames(t, db))
}
