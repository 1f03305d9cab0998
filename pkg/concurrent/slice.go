package concurrent

import "sync"

// Slice is an append-mostly slice guarded by a RWMutex. The in-memory outbox
// keeps its rows in one, in insertion order.
type Slice[V any] struct {
	mu     sync.RWMutex
	values []V
}

func NewSlice[V any]() *Slice[V] {
	return &Slice[V]{}
}

func (s *Slice[V]) Append(value V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = append(s.values, value)
}

func (s *Slice[V]) Length() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.values)
}

func (s *Slice[V]) All() []V {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]V(nil), s.values...)
}

// DeleteFunc removes every element for which del returns true and returns
// how many were removed. Relative order of the remaining elements is kept.
func (s *Slice[V]) DeleteFunc(del func(V) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.values[:0]
	removed := 0
	for _, v := range s.values {
		if del(v) {
			removed++
			continue
		}
		kept = append(kept, v)
	}
	clear(s.values[len(kept):])
	s.values = kept
	return removed
}

func (s *Slice[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = nil
}
