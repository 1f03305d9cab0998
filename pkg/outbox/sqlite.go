package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/docker/plugin-telemetry/pkg/event"
	"github.com/docker/plugin-telemetry/pkg/sqliteutil"
)

// TablePrefix is prepended to the normalized scope to name the queue table.
const TablePrefix = "telemetry_queue_"

// deleteChunk bounds the number of placeholders of one DELETE statement.
const deleteChunk = 500

var (
	ErrInvalidScope = errors.New("invalid outbox scope")

	// Underscores are refused so that the dash to underscore mapping
	// below never sends two slugs to the same table.
	scopePattern = regexp.MustCompile(`^[a-z0-9-]+$`)
)

// NormalizeScope lowercases scope and turns dashes into underscores so a
// plugin slug can be used as part of a table name.
func NormalizeScope(scope string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(scope))
	if !scopePattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	return strings.ReplaceAll(s, "-", "_"), nil
}

// TableName returns the queue table of scope.
func TableName(scope string) (string, error) {
	s, err := NormalizeScope(scope)
	if err != nil {
		return "", err
	}
	return TablePrefix + s, nil
}

// SQLiteStore keeps one scope's queue in its own table of a shared database.
// Rows that cannot be decoded are deleted by List and reported as errors.
// It holds no in-process lock; SQLite's statement atomicity is what makes
// concurrent appends, drains and removals from several processes safe.
type SQLiteStore struct {
	db    *sql.DB
	scope string
	table string
}

// NewSQLiteStore returns the store of scope and provisions its table. The
// caller keeps ownership of db.
func NewSQLiteStore(ctx context.Context, db *sql.DB, scope string) (*SQLiteStore, error) {
	table, err := TableName(scope)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db, scope: scope, table: table}
	if err := s.Provision(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Scope() string {
	return s.scope
}

func (s *SQLiteStore) Provision(ctx context.Context) error {
	migrations := []sqliteutil.Migration{
		{
			Name:        s.table + "_001_create_table",
			Description: "Create the telemetry queue table",
			UpSQL: `CREATE TABLE IF NOT EXISTS ` + s.table + ` (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				event TEXT NOT NULL,
				properties TEXT NOT NULL,
				timestamp TEXT NOT NULL
			)`,
		},
	}

	if err := sqliteutil.NewMigrator(s.db).Run(ctx, migrations); err != nil {
		return fmt.Errorf("failed to provision %s: %w", s.table, err)
	}
	return nil
}

func (s *SQLiteStore) Insert(ctx context.Context, name string, props *event.Properties, at time.Time) (int64, error) {
	data, err := json.Marshal(props)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal properties: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO "+s.table+" (event, properties, timestamp) VALUES (?, ?, ?)",
		name, string(data), at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) List(ctx context.Context) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, event, properties, timestamp FROM "+s.table+" ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		events  []Event
		rowErrs []error
		corrupt []int64
	)
	for rows.Next() {
		var (
			ev         Event
			properties string
			timestamp  string
		)
		if err := rows.Scan(&ev.ID, &ev.Name, &properties, &timestamp); err != nil {
			return events, err
		}

		ev.Properties = event.New()
		if err := json.Unmarshal([]byte(properties), ev.Properties); err != nil {
			rowErrs = append(rowErrs, fmt.Errorf("row %d: invalid properties: %w", ev.ID, err))
			corrupt = append(corrupt, ev.ID)
			continue
		}
		ev.EnqueuedAt, err = time.Parse(time.RFC3339Nano, timestamp)
		if err != nil {
			rowErrs = append(rowErrs, fmt.Errorf("row %d: invalid timestamp: %w", ev.ID, err))
			corrupt = append(corrupt, ev.ID)
			continue
		}

		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return events, err
	}
	rows.Close()

	// A row that does not decode now never will.
	if len(corrupt) > 0 {
		if err := s.Delete(ctx, corrupt); err != nil {
			rowErrs = append(rowErrs, fmt.Errorf("failed to drop undecodable rows: %w", err))
		}
	}

	return events, errors.Join(rowErrs...)
}

func (s *SQLiteStore) Delete(ctx context.Context, ids []int64) error {
	for start := 0; start < len(ids); start += deleteChunk {
		chunk := ids[start:min(start+deleteChunk, len(ids))]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")

		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+s.table+" WHERE id IN ("+placeholders+")", args...); err != nil {
			return err
		}
	}
	return nil
}

// Clear empties the table of scope, which may belong to another store of the
// same database. A scope that was never provisioned has nothing to clear.
func (s *SQLiteStore) Clear(ctx context.Context, scope string) error {
	table, err := TableName(scope)
	if err != nil {
		return err
	}

	var n int
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx, "DELETE FROM "+table)
	return err
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.table).Scan(&n)
	return n, err
}
