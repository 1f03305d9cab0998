package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	DefaultMaxSize    = 10 * 1024 * 1024 // 10MB
	DefaultMaxBackups = 3
)

// File is an append-only log file that rolls over to numbered backups
// (debug.log.1, debug.log.2, ...) once a write would take it past MaxSize.
type File struct {
	path       string
	maxSize    int64
	maxBackups int

	mu   sync.Mutex
	f    *os.File
	size int64
}

type Option func(*File)

func WithMaxSize(size int64) Option {
	return func(f *File) {
		f.maxSize = size
	}
}

// WithMaxBackups sets how many rolled-over files are kept. Zero keeps none.
func WithMaxBackups(n int) Option {
	return func(f *File) {
		f.maxBackups = max(n, 0)
	}
}

// OpenFile opens path for appending, creating its directory if needed.
func OpenFile(path string, opts ...Option) (*File, error) {
	f := &File{
		path:       path,
		maxSize:    DefaultMaxSize,
		maxBackups: DefaultMaxBackups,
	}
	for _, opt := range opts {
		opt(f)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	if err := f.open(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) Path() string {
	return f.path
}

func (f *File) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.f == nil {
		return 0, os.ErrClosed
	}
	if f.size > 0 && f.size+int64(len(p)) > f.maxSize {
		if err := f.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := f.f.Write(p)
	f.size += int64(n)
	return n, err
}

// Rotate moves the current file to the first backup slot and starts a new one.
func (f *File) Rotate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rotate()
}

func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.f == nil {
		return nil
	}
	err := f.f.Close()
	f.f = nil
	return err
}

func (f *File) open() error {
	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}

	f.f = file
	f.size = info.Size()
	return nil
}

func (f *File) rotate() error {
	if f.f != nil {
		if err := f.f.Close(); err != nil {
			return err
		}
		f.f = nil
	}

	if f.maxBackups == 0 {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return f.open()
	}

	_ = os.Remove(f.backup(f.maxBackups))
	for n := f.maxBackups - 1; n >= 1; n-- {
		_ = os.Rename(f.backup(n), f.backup(n+1))
	}
	if err := os.Rename(f.path, f.backup(1)); err != nil && !os.IsNotExist(err) {
		return err
	}

	return f.open()
}

func (f *File) backup(n int) string {
	return fmt.Sprintf("%s.%d", f.path, n)
}
