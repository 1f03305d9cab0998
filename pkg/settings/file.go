package settings

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-yaml"
	"github.com/natefinch/atomic"
)

// fileVersion is the current version of the settings file format.
const fileVersion = "v1"

// fileDocument is the on-disk layout:
//
//	version: v1
//	settings:
//	  myplugin_allow_tracking: "yes"
//	no_autoload:
//	  - myplugin_telemetry_unique_id
type fileDocument struct {
	Version    string            `yaml:"version,omitempty"`
	Settings   map[string]string `yaml:"settings,omitempty"`
	NoAutoload []string          `yaml:"no_autoload,omitempty"`
}

// File keeps settings in a YAML file that an operator can read and edit.
// Every Get re-reads the file so edits made by another process (or by hand)
// are seen immediately; writes replace the file atomically. Concurrent writers
// in different processes follow last-writer-wins.
type File struct {
	path string
	mu   sync.Mutex

	debounce time.Duration
}

func NewFile(path string) *File {
	return &File{path: path, debounce: 200 * time.Millisecond}
}

// Path returns the location of the YAML document.
func (f *File) Path() string {
	return f.path
}

func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return "", false, err
	}
	v, ok := doc.Settings[key]
	return v, ok, nil
}

func (f *File) Set(_ context.Context, key, value string, opts ...SetOption) error {
	if err := validateKey(key); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	return f.put(doc, key, value, opts)
}

// SetIfAbsent is atomic within the process only: the file has no lock that
// other writers would honor.
func (f *File) SetIfAbsent(_ context.Context, key, value string, opts ...SetOption) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return false, err
	}
	if _, ok := doc.Settings[key]; ok {
		return false, nil
	}
	return true, f.put(doc, key, value, opts)
}

func (f *File) put(doc *fileDocument, key, value string, opts []SetOption) error {
	doc.Settings[key] = value
	doc.NoAutoload = slices.DeleteFunc(doc.NoAutoload, func(k string) bool { return k == key })
	if !ApplySetOptions(opts).Autoload {
		doc.NoAutoload = append(doc.NoAutoload, key)
		slices.Sort(doc.NoAutoload)
	}

	return f.write(doc)
}

func (f *File) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	if _, ok := doc.Settings[key]; !ok {
		return nil
	}

	delete(doc.Settings, key)
	doc.NoAutoload = slices.DeleteFunc(doc.NoAutoload, func(k string) bool { return k == key })
	return f.write(doc)
}

// read parses the document, returning an empty one if the file doesn't exist.
func (f *File) read() (*fileDocument, error) {
	doc := &fileDocument{Settings: make(map[string]string)}

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to parse settings file %q: %w", f.path, err)
	}
	if doc.Settings == nil {
		doc.Settings = make(map[string]string)
	}
	return doc, nil
}

func (f *File) write(doc *fileDocument) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	doc.Version = fileVersion

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	return atomic.WriteFile(f.path, bytes.NewReader(data))
}

// Watch calls onChange, debounced, whenever the file is written, replaced or
// removed. It returns once the watcher is installed; watching stops when ctx
// is done.
func (f *File) Watch(ctx context.Context, onChange func()) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory rather than the file: atomic writes replace the
	// inode, which would silently end a watch on the file itself.
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go f.watchLoop(ctx, watcher, onChange)

	slog.Debug("Started watching settings file", "path", f.path)
	return nil
}

func (f *File) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, onChange func()) {
	defer watcher.Close()

	var debounceTimer *time.Timer
	target := filepath.Base(f.path)

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(f.debounce, func() {
				if ctx.Err() == nil {
					onChange()
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Settings file watcher error", "path", f.path, "error", err)
		}
	}
}
