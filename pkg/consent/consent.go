// Package consent answers whether the plugin may transmit telemetry. The
// answer comes from a single persisted yes/no flag that defaults to denied.
package consent

import (
	"context"
	"log/slog"
	"sync"

	"github.com/docker/plugin-telemetry/pkg/settings"
)

// DefaultKey is the settings key holding the flag, relative to the plugin's
// settings prefix.
const DefaultKey = "allow_tracking"

// Observer is notified after the flag actually changed.
type Observer func(ctx context.Context, allowed bool)

type Opt func(*Gate)

func WithKey(key string) Opt {
	return func(g *Gate) {
		g.key = key
	}
}

func WithLogger(logger *slog.Logger) Opt {
	return func(g *Gate) {
		g.logger = logger
	}
}

// Gate is the consent check wrapped around every send path.
type Gate struct {
	store  settings.Store
	key    string
	logger *slog.Logger

	mu        sync.Mutex
	observers []Observer
	// last is the value observers were last told about; nil until the first
	// Grant, Revoke or Refresh.
	last *bool
}

func New(store settings.Store, opts ...Opt) *Gate {
	g := &Gate{
		store:  store,
		key:    DefaultKey,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Key returns the settings key the gate reads.
func (g *Gate) Key() string {
	return g.key
}

// IsAllowed reads the flag. A storage failure reads as denied.
func (g *Gate) IsAllowed(ctx context.Context) bool {
	allowed, err := settings.GetFlag(ctx, g.store, g.key)
	if err != nil {
		g.logger.Warn("Failed to read consent flag, treating as denied", "key", g.key, "error", err)
		return false
	}
	return allowed
}

// Grant persists consent and notifies observers if it was not already given.
func (g *Gate) Grant(ctx context.Context) error {
	return g.set(ctx, true)
}

// Revoke persists the refusal and notifies observers if consent was given.
func (g *Gate) Revoke(ctx context.Context) error {
	return g.set(ctx, false)
}

func (g *Gate) set(ctx context.Context, allowed bool) error {
	before := g.IsAllowed(ctx)
	if err := settings.SetFlag(ctx, g.store, g.key, allowed); err != nil {
		return err
	}

	g.mu.Lock()
	g.last = &allowed
	observers := append([]Observer(nil), g.observers...)
	g.mu.Unlock()

	if before == allowed {
		return nil
	}

	g.logger.Debug("Consent changed", "allowed", allowed)
	notify(ctx, observers, allowed)
	return nil
}

// OnChange registers an observer for opt-in and opt-out transitions.
func (g *Gate) OnChange(o Observer) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.observers = append(g.observers, o)
}

// Refresh re-reads the flag and notifies observers when it changed behind the
// gate's back, for instance in another process. The first call only records
// the current value.
func (g *Gate) Refresh(ctx context.Context) {
	allowed := g.IsAllowed(ctx)

	g.mu.Lock()
	previous := g.last
	g.last = &allowed
	observers := append([]Observer(nil), g.observers...)
	g.mu.Unlock()

	if previous == nil || *previous == allowed {
		return
	}

	g.logger.Debug("Consent changed externally", "allowed", allowed)
	notify(ctx, observers, allowed)
}

func notify(ctx context.Context, observers []Observer, allowed bool) {
	for _, o := range observers {
		o(ctx, allowed)
	}
}
