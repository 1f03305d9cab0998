package concurrent

import (
	"cmp"
	"maps"
	"slices"
	"sync"
)

// Map is a map guarded by a RWMutex. It backs the in-memory settings store,
// so every method is safe for concurrent use.
type Map[K comparable, V any] struct {
	mu     sync.RWMutex
	values map[K]V
}

func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{
		values: make(map[K]V),
	}
}

func (m *Map[K, V]) Load(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	val, ok := m.values[key]
	return val, ok
}

func (m *Map[K, V]) Store(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value
}

// Update applies f to the current value (zero value when absent) and stores
// the result atomically with respect to other writers.
func (m *Map[K, V]) Update(key K, f func(current V, ok bool) V) V {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.values[key]
	next := f(current, ok)
	m.values[key] = next
	return next
}

// LoadOrStore returns the existing value of key if present. Otherwise it
// stores value. loaded reports which of the two happened.
func (m *Map[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.values[key]; ok {
		return current, true
	}
	m.values[key] = value
	return value, false
}

// Delete removes key and reports whether it was present.
func (m *Map[K, V]) Delete(key K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.values[key]
	delete(m.values, key)
	return ok
}

func (m *Map[K, V]) Length() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.values)
}

// SortedKeys returns the keys in ascending order.
func SortedKeys[K cmp.Ordered, V any](m *Map[K, V]) []K {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Sorted(maps.Keys(m.values))
}
