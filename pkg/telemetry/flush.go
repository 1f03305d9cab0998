package telemetry

import (
	"context"

	"github.com/docker/plugin-telemetry/pkg/dispatch"
)

// Flush delivers everything currently queued. Concurrent calls in the same
// process share one cycle. Queued events are delivered even when consent was
// revoked after they were queued, unless Config.PurgeOnRevoke is set.
func (c *Client) Flush(ctx context.Context) dispatch.Result {
	v, _, _ := c.flushGroup.Do("flush", func() (any, error) {
		return c.flush(ctx), nil
	})
	return v.(dispatch.Result)
}

func (c *Client) flush(ctx context.Context) dispatch.Result {
	result := c.dispatcher.Flush(ctx)
	if result.DeliveredCount() == 0 {
		return result
	}

	c.touchLastSend(ctx)
	c.resetKUIs(ctx, result.DeliveredNames())

	c.logger.Debug("Queue processed", "delivered", result.DeliveredCount(), "remaining", result.Remaining())
	return result
}

// resetKUIs zeroes the counter of every rule whose bound event is in names,
// either because it was delivered or because it was dropped unsent.
func (c *Client) resetKUIs(ctx context.Context, names []string) {
	seen := make(map[string]bool)
	for _, name := range names {
		rule, ok := c.ledger.RuleForEvent(name)
		if !ok || seen[rule.Name] {
			continue
		}
		seen[rule.Name] = true

		if err := c.ledger.Reset(ctx, rule.Name); err != nil {
			c.logger.Warn("Failed to reset KUI counter", "kui", rule.Name, "error", err)
		}
	}
}

// purgeQueue drops everything queued for this plugin. Counters whose bound
// event is among the dropped rows start over, so the KUI can fire again.
func (c *Client) purgeQueue(ctx context.Context) {
	dropped := c.outbox.DrainOrdered(ctx)
	names := make([]string, 0, len(dropped))
	for _, ev := range dropped {
		names = append(names, ev.Name)
	}

	c.outbox.ClearForScope(ctx, c.outbox.Scope())
	c.resetKUIs(ctx, names)
}
