package settings

import (
	"context"

	"github.com/docker/plugin-telemetry/pkg/concurrent"
)

type memoryEntry struct {
	value    string
	autoload bool
}

// Memory is a process-local Store, used by tests and by hosts that do not
// need durability.
type Memory struct {
	values *concurrent.Map[string, memoryEntry]
}

func NewMemory() *Memory {
	return &Memory{values: concurrent.NewMap[string, memoryEntry]()}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	e, ok := m.values.Load(key)
	return e.value, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string, opts ...SetOption) error {
	if err := validateKey(key); err != nil {
		return err
	}
	m.values.Store(key, memoryEntry{value: value, autoload: ApplySetOptions(opts).Autoload})
	return nil
}

func (m *Memory) SetIfAbsent(_ context.Context, key, value string, opts ...SetOption) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	_, loaded := m.values.LoadOrStore(key, memoryEntry{value: value, autoload: ApplySetOptions(opts).Autoload})
	return !loaded, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	m.values.Delete(key)
	return nil
}

// Autoloaded reports the autoload hint recorded for key.
func (m *Memory) Autoloaded(key string) bool {
	e, ok := m.values.Load(key)
	return ok && e.autoload
}

// Keys returns every stored key in ascending order.
func (m *Memory) Keys() []string {
	return concurrent.SortedKeys(m.values)
}
