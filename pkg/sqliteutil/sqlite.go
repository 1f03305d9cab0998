package sqliteutil

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// MemoryPath opens a private in-memory database. It only lives as long as the
// returned *sql.DB because the pool is capped to a single connection.
const MemoryPath = ":memory:"

type openOptions struct {
	busyTimeout time.Duration
}

type Option func(*openOptions)

// WithBusyTimeout sets how long a statement waits on a lock held by another
// connection or process before failing with SQLITE_BUSY.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *openOptions) {
		o.busyTimeout = d
	}
}

// OpenDB opens a SQLite database shared by the outbox and the settings store.
//
// Several host processes may open the same file: WAL journaling lets readers
// proceed during a write and busy_timeout makes writers queue instead of
// failing. Inside one process the pool is capped to a single connection so
// writes are serialized.
func OpenDB(path string, opts ...Option) (*sql.DB, error) {
	o := openOptions{busyTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	if path != MemoryPath {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("cannot create database directory %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, o.busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		if IsCantOpenError(err) {
			return nil, DiagnoseDBOpenError(path, err)
		}
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		if IsCantOpenError(err) {
			return nil, DiagnoseDBOpenError(path, err)
		}
		return nil, err
	}

	return db, nil
}

// IsCantOpenError checks if the error is a SQLite CANTOPEN error (code 14).
func IsCantOpenError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CANTOPEN
	}
	return false
}

// IsBusyError reports whether a statement gave up waiting for a lock.
func IsBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}

// DiagnoseDBOpenError turns a CANTOPEN failure into a message that names the
// directory problem.
func DiagnoseDBOpenError(path string, originalErr error) error {
	dir := filepath.Dir(path)

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("cannot create database at %q: directory %q does not exist", path, dir)
		}
		return fmt.Errorf("cannot create database at %q: %w", path, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("cannot create database at %q: %q is not a directory", path, dir)
	}

	return fmt.Errorf("cannot create database at %q: permission denied or file cannot be created in %q (original error: %v)", path, dir, originalErr)
}
