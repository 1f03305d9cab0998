// Package outbox is the durability boundary of the pipeline: an event is
// persisted here before any delivery attempt and only deleted once the
// analytics backend accepted it.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/docker/plugin-telemetry/pkg/event"
)

// Event is one pending outbound record. Rows are never updated; delivery only
// deletes them.
type Event struct {
	// ID orders events within one scope. It is assigned on insert and grows
	// monotonically.
	ID         int64             `json:"id"`
	Name       string            `json:"event"`
	Properties *event.Properties `json:"properties"`
	// EnqueuedAt is informational; events never expire.
	EnqueuedAt time.Time `json:"timestamp"`
}

// Store persists events for a single scope. Every method must be atomic on
// its own so several processes can share the backing storage.
type Store interface {
	// Scope identifies the installation whose events the store holds.
	Scope() string
	// Provision creates the backing table. It is idempotent.
	Provision(ctx context.Context) error
	Insert(ctx context.Context, name string, props *event.Properties, at time.Time) (int64, error)
	// List returns every pending event ordered by ascending ID. Rows that
	// cannot be decoded are skipped and reported through the returned error,
	// alongside the events that could be read.
	List(ctx context.Context) ([]Event, error)
	// Delete removes the given rows. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []int64) error
	// Clear removes every row of scope.
	Clear(ctx context.Context, scope string) error
	Count(ctx context.Context) (int, error)
}

type Opt func(*Outbox)

func WithLogger(logger *slog.Logger) Opt {
	return func(o *Outbox) {
		o.logger = logger
	}
}

// WithClock overrides the source of EnqueuedAt.
func WithClock(now func() time.Time) Opt {
	return func(o *Outbox) {
		o.now = now
	}
}

// Outbox wraps a Store with the fire-and-forget contract callers rely on:
// persistence failures are logged and never returned from Append, DrainOrdered,
// Remove or ClearForScope, so telemetry cannot break the host's code path.
type Outbox struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func New(store Store, opts ...Opt) *Outbox {
	o := &Outbox{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Outbox) Scope() string {
	return o.store.Scope()
}

// Provision prepares the backing storage. Unlike the other operations its
// error is returned: it runs on activation where the host can report it.
func (o *Outbox) Provision(ctx context.Context) error {
	return o.store.Provision(ctx)
}

// Append persists one event. A failure loses the event and is only logged.
func (o *Outbox) Append(ctx context.Context, name string, props *event.Properties) {
	id, err := o.store.Insert(ctx, name, props, o.now().UTC())
	if err != nil {
		o.logger.Error("Failed to enqueue telemetry event", "event", name, "scope", o.store.Scope(), "error", err)
		return
	}
	o.logger.Debug("Enqueued telemetry event", "event", name, "id", id)
}

// DrainOrdered returns every pending event in insertion order without
// removing anything.
func (o *Outbox) DrainOrdered(ctx context.Context) []Event {
	events, err := o.store.List(ctx)
	if err != nil {
		o.logger.Error("Dropped unreadable queued telemetry events", "scope", o.store.Scope(), "readable", len(events), "error", err)
	}
	return events
}

// Remove deletes exactly ids.
func (o *Outbox) Remove(ctx context.Context, ids []int64) {
	if len(ids) == 0 {
		return
	}
	if err := o.store.Delete(ctx, ids); err != nil {
		o.logger.Error("Failed to remove delivered telemetry events", "scope", o.store.Scope(), "count", len(ids), "error", err)
	}
}

// ClearForScope drops every pending event of scope, typically on deactivation
// or uninstall.
func (o *Outbox) ClearForScope(ctx context.Context, scope string) {
	if err := o.store.Clear(ctx, scope); err != nil {
		o.logger.Error("Failed to clear telemetry queue", "scope", scope, "error", err)
	}
}

// Len returns the queue depth, or zero when it cannot be read.
func (o *Outbox) Len(ctx context.Context) int {
	n, err := o.store.Count(ctx)
	if err != nil {
		o.logger.Warn("Failed to count queued telemetry events", "scope", o.store.Scope(), "error", err)
		return 0
	}
	return n
}
