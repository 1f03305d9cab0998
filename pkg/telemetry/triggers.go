package telemetry

import (
	"context"

	"github.com/docker/plugin-telemetry/pkg/event"
)

// DefineTriggers returns callbacks the host binds to its own hooks: for
// example Setup on "course created" and a KUI callback on "lesson
// completed". Each call goes through the usual consent and one-shot checks.
func (c *Client) DefineTriggers(t Triggers) Hooks {
	hooks := Hooks{
		Setup: func(ctx context.Context, args ...any) {
			c.TrackSetup(ctx, build(t.Setup, args))
		},
		FirstStrike: func(ctx context.Context, args ...any) {
			c.TrackFirstStrike(ctx, build(t.FirstStrike, args))
		},
		KUI: make(map[string]Hook, len(t.KUI)),
	}

	for name, props := range t.KUI {
		if _, ok := c.ledger.Rule(name); !ok {
			c.logger.Warn("Trigger for unknown KUI ignored", "kui", name)
			continue
		}
		hooks.KUI[name] = func(ctx context.Context, args ...any) {
			c.RecordKUI(ctx, name, build(props, args))
		}
	}

	return hooks
}

func build(f PropsFunc, args []any) *event.Properties {
	if f == nil {
		return event.New()
	}
	return f(args...)
}
