package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/docker/plugin-telemetry/pkg/sqliteutil"
)

var sqliteMigrations = []sqliteutil.Migration{
	{
		Name:        "settings_001_create_table",
		Description: "Create the settings key/value table",
		UpSQL: `CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			autoload INTEGER NOT NULL DEFAULT 1,
			updated_at TEXT NOT NULL
		)`,
	},
}

// SQLite stores settings in a table of the shared telemetry database. Every
// operation is a single statement, so concurrent processes never see a
// partially written value.
type SQLite struct {
	db *sql.DB
}

// NewSQLite prepares the settings table on db. The caller keeps ownership of db.
func NewSQLite(ctx context.Context, db *sql.DB) (*SQLite, error) {
	if err := sqliteutil.NewMigrator(db).Run(ctx, sqliteMigrations); err != nil {
		return nil, fmt.Errorf("failed to migrate settings table: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}

	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *SQLite) Set(ctx context.Context, key, value string, opts ...SetOption) error {
	if err := validateKey(key); err != nil {
		return err
	}

	o := ApplySetOptions(opts)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, autoload, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			autoload = excluded.autoload,
			updated_at = excluded.updated_at`,
		key, value, o.Autoload, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (s *SQLite) SetIfAbsent(ctx context.Context, key, value string, opts ...SetOption) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	o := ApplySetOptions(opts)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, autoload, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING`,
		key, value, o.Autoload, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key)
	return err
}

// Autoloaded returns every value flagged for preloading, keyed by name.
func (s *SQLite) Autoloaded(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM settings WHERE autoload = 1 ORDER BY key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		values[k] = v
	}
	return values, rows.Err()
}
