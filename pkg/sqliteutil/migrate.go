package sqliteutil

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration is one schema step. Names are global to the database, so each
// component prefixes its own (e.g. "settings_001_create_table").
type Migration struct {
	Name        string
	Description string
	UpSQL       string
}

// Lock contention with another process is retried this many times, with a
// doubling pause starting at busyRetryDelay, before Run gives up.
const (
	busyRetries    = 5
	busyRetryDelay = 50 * time.Millisecond
)

// Migrator applies migrations once and records them in a bookkeeping table.
type Migrator struct {
	db *sql.DB
}

func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Run applies every migration that has not been recorded yet, in order.
func (m *Migrator) Run(ctx context.Context, migrations []Migration) error {
	if err := m.retryBusy(ctx, m.createTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for i := range migrations {
		err := m.retryBusy(ctx, func(ctx context.Context) error {
			return m.apply(ctx, &migrations[i])
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migrations[i].Name, err)
		}
	}

	return nil
}

// retryBusy runs f again while it fails because another connection holds the
// write lock. busy_timeout covers most of these, but a transaction that read
// before trying to write gets SQLITE_BUSY without waiting.
func (m *Migrator) retryBusy(ctx context.Context, f func(context.Context) error) error {
	delay := busyRetryDelay
	for attempt := 1; ; attempt++ {
		err := f(ctx)
		if err == nil || !IsBusyError(err) || attempt == busyRetries {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (m *Migrator) createTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			name TEXT PRIMARY KEY,
			description TEXT,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

// apply runs one migration in a transaction. Two processes racing on the same
// migration both see INSERT OR IGNORE succeed; the DDL itself must therefore
// be idempotent (IF NOT EXISTS).
func (m *Migrator) apply(ctx context.Context, migration *Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM migrations WHERE name = ?", migration.Name).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if migration.UpSQL != "" {
		if _, err := tx.ExecContext(ctx, migration.UpSQL); err != nil {
			return fmt.Errorf("failed to execute migration SQL: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO migrations (name, description, applied_at) VALUES (?, ?, ?)",
		migration.Name, migration.Description, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}
