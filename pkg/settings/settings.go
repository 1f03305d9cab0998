// Package settings is the persistent key/value capability shared by the
// consent gate, the one-shot ledger and the client. Values are strings; the
// helpers in this file encode flags and integers the same way everywhere.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// Flag values, kept human-readable because hosts often inspect them.
const (
	Yes = "yes"
	No  = "no"
)

var ErrEmptyKey = errors.New("settings key cannot be empty")

// Store persists string values by key.
type Store interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, opts ...SetOption) error
	// SetIfAbsent stores value only when key does not exist yet and reports
	// whether it did. The check and the write are one atomic step, also
	// across processes sharing the same backing storage.
	SetIfAbsent(ctx context.Context, key, value string, opts ...SetOption) (bool, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Watcher is implemented by stores that can notice changes made by another
// process.
type Watcher interface {
	Watch(ctx context.Context, onChange func()) error
}

// SetOptions carries storage hints. Stores are free to ignore them.
type SetOptions struct {
	// Autoload marks values that the host should preload on every request.
	// Large or rarely read values (unique id, timestamps) set it to false.
	Autoload bool
}

type SetOption func(*SetOptions)

func Autoload(autoload bool) SetOption {
	return func(o *SetOptions) {
		o.Autoload = autoload
	}
}

// ApplySetOptions resolves opts over the defaults (autoload on).
func ApplySetOptions(opts []SetOption) SetOptions {
	o := SetOptions{Autoload: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// GetOr returns the stored value or def when the key is absent.
func GetOr(ctx context.Context, s Store, key, def string) (string, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil {
		return def, err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

// GetInt reads a decimal integer. A missing key reads as zero.
func GetInt(ctx context.Context, s Store, key string) (int64, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok || v == "" {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("settings key %q holds %q, not an integer: %w", key, v, err)
	}
	return n, nil
}

func SetInt(ctx context.Context, s Store, key string, n int64, opts ...SetOption) error {
	return s.Set(ctx, key, strconv.FormatInt(n, 10), opts...)
}

// GetFlag reads a yes/no flag; anything but "yes" is false.
func GetFlag(ctx context.Context, s Store, key string) (bool, error) {
	v, err := GetOr(ctx, s, key, No)
	return v == Yes, err
}

func SetFlag(ctx context.Context, s Store, key string, on bool, opts ...SetOption) error {
	v := No
	if on {
		v = Yes
	}
	return s.Set(ctx, key, v, opts...)
}

func validateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}
