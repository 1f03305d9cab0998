// Package ledger records which one-shot lifecycle events already fired and
// counts key usage indicators (KUIs) towards their thresholds.
//
// "Fired" means attempted once, not delivered: a queued event that later
// fails is retried from the outbox, but it is never triggered a second time.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/docker/plugin-telemetry/pkg/settings"
)

const (
	firedPrefix = "event_sent_"
	countPrefix = "kui_count_"
)

var (
	ErrEmptyRuleName    = errors.New("kui rule name cannot be empty")
	ErrInvalidThreshold = errors.New("kui threshold must be at least 1")
	ErrDuplicateRule    = errors.New("duplicate kui rule")
	ErrUnknownKUI       = errors.New("unknown kui")
)

// Rule binds a KUI counter to the event fired when it reaches Threshold.
type Rule struct {
	Name      string `json:"name" yaml:"name"`
	Threshold int64  `json:"threshold" yaml:"threshold"`
	// Event defaults to kui_<name>_reached.
	Event string `json:"event,omitempty" yaml:"event,omitempty"`
}

// BoundEvent returns the name of the event fired at the threshold.
func (r Rule) BoundEvent() string {
	if r.Event != "" {
		return r.Event
	}
	return "kui_" + r.Name + "_reached"
}

func (r Rule) validate() error {
	if r.Name == "" {
		return ErrEmptyRuleName
	}
	if r.Threshold < 1 {
		return fmt.Errorf("%w: %q has %d", ErrInvalidThreshold, r.Name, r.Threshold)
	}
	return nil
}

type Opt func(*Ledger)

func WithLogger(logger *slog.Logger) Opt {
	return func(l *Ledger) {
		l.logger = logger
	}
}

type Ledger struct {
	store  settings.Store
	rules  []Rule
	logger *slog.Logger
}

// New validates rules and returns a ledger persisting into store.
func New(store settings.Store, rules []Rule, opts ...Opt) (*Ledger, error) {
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if err := r.validate(); err != nil {
			return nil, err
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateRule, r.Name)
		}
		seen[r.Name] = true
	}

	l := &Ledger{
		store:  store,
		rules:  slices.Clone(rules),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// HasFired reports whether name was already attempted. When the flag cannot be
// read the event is reported as fired: skipping a one-shot event is
// preferable to sending it twice.
func (l *Ledger) HasFired(ctx context.Context, name string) bool {
	fired, err := settings.GetFlag(ctx, l.store, firedPrefix+name)
	if err != nil {
		l.logger.Warn("Failed to read one-shot flag", "event", name, "error", err)
		return true
	}
	return fired
}

// Claim records name as attempted and reports whether this call did so.
// When several callers race, possibly from different processes, exactly one
// of them gets true.
func (l *Ledger) Claim(ctx context.Context, name string) (bool, error) {
	return l.store.SetIfAbsent(ctx, firedPrefix+name, settings.Yes)
}

func (l *Ledger) Rules() []Rule {
	return slices.Clone(l.rules)
}

// Rule looks up the rule of a KUI.
func (l *Ledger) Rule(kui string) (Rule, bool) {
	i := slices.IndexFunc(l.rules, func(r Rule) bool { return r.Name == kui })
	if i < 0 {
		return Rule{}, false
	}
	return l.rules[i], true
}

// RuleForEvent finds the rule whose bound event is name.
func (l *Ledger) RuleForEvent(name string) (Rule, bool) {
	i := slices.IndexFunc(l.rules, func(r Rule) bool { return r.BoundEvent() == name })
	if i < 0 {
		return Rule{}, false
	}
	return l.rules[i], true
}

// Increment adds one occurrence of kui and returns the new count. Counters are
// read-modify-write on the settings store: two processes incrementing at the
// same instant may lose one occurrence.
func (l *Ledger) Increment(ctx context.Context, kui string) (int64, error) {
	if _, ok := l.Rule(kui); !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownKUI, kui)
	}

	n, err := settings.GetInt(ctx, l.store, countPrefix+kui)
	if err != nil {
		return 0, err
	}
	n++
	if err := settings.SetInt(ctx, l.store, countPrefix+kui, n); err != nil {
		return 0, err
	}
	return n, nil
}

// Count returns the current counter, zero when unknown or unreadable.
func (l *Ledger) Count(ctx context.Context, kui string) int64 {
	n, err := settings.GetInt(ctx, l.store, countPrefix+kui)
	if err != nil {
		l.logger.Warn("Failed to read kui counter", "kui", kui, "error", err)
		return 0
	}
	return n
}

func (l *Ledger) ThresholdReached(ctx context.Context, kui string) bool {
	r, ok := l.Rule(kui)
	if !ok {
		return false
	}
	return l.Count(ctx, kui) >= r.Threshold
}

// Reset sets the counter of kui back to zero.
func (l *Ledger) Reset(ctx context.Context, kui string) error {
	return settings.SetInt(ctx, l.store, countPrefix+kui, 0)
}
