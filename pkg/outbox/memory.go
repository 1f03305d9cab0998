package outbox

import (
	"cmp"
	"context"
	"slices"
	"sync/atomic"
	"time"

	"github.com/docker/plugin-telemetry/pkg/concurrent"
	"github.com/docker/plugin-telemetry/pkg/event"
)

// MemoryStore is a process-local Store for tests and for hosts that accept
// losing queued events on restart.
type MemoryStore struct {
	scope  string
	events *concurrent.Slice[Event]
	nextID atomic.Int64
}

func NewMemoryStore(scope string) *MemoryStore {
	return &MemoryStore{
		scope:  scope,
		events: concurrent.NewSlice[Event](),
	}
}

func (m *MemoryStore) Scope() string {
	return m.scope
}

func (m *MemoryStore) Provision(context.Context) error {
	return nil
}

func (m *MemoryStore) Insert(_ context.Context, name string, props *event.Properties, at time.Time) (int64, error) {
	id := m.nextID.Add(1)
	m.events.Append(Event{
		ID:         id,
		Name:       name,
		Properties: props.Clone(),
		EnqueuedAt: at,
	})
	return id, nil
}

func (m *MemoryStore) List(context.Context) ([]Event, error) {
	events := m.events.All()
	slices.SortFunc(events, func(a, b Event) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return events, nil
}

func (m *MemoryStore) Delete(_ context.Context, ids []int64) error {
	m.events.DeleteFunc(func(e Event) bool {
		return slices.Contains(ids, e.ID)
	})
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, scope string) error {
	if scope == m.scope {
		m.events.Clear()
	}
	return nil
}

func (m *MemoryStore) Count(context.Context) (int, error) {
	return m.events.Length(), nil
}
