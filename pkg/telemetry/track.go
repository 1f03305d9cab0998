package telemetry

import (
	"context"

	"github.com/docker/plugin-telemetry/pkg/event"
	"github.com/docker/plugin-telemetry/pkg/settings"
)

const lastSendKey = "telemetry_last_send"

// allowed is the consent check every send path goes through.
func (c *Client) allowed(ctx context.Context, name string, opts []TrackOption) bool {
	if applyTrackOptions(opts).override {
		return true
	}
	if c.gate.IsAllowed(ctx) {
		return true
	}
	c.logger.Debug("Consent not given, dropping event", "event", name)
	return false
}

// Track enriches the event and queues it for the next flush.
func (c *Client) Track(ctx context.Context, name string, props *event.Properties, opts ...TrackOption) {
	if !c.allowed(ctx, name, opts) {
		return
	}
	c.outbox.Append(ctx, name, c.enricher.Enrich(ctx, name, props))
}

// TrackImmediate sends the event right away. When the attempt fails the
// same enriched payload is queued, so the event is retried on the next flush.
func (c *Client) TrackImmediate(ctx context.Context, name string, props *event.Properties, opts ...TrackOption) {
	if !c.allowed(ctx, name, opts) {
		return
	}

	enriched := c.enricher.Enrich(ctx, name, props)
	if c.dispatcher.SendNow(ctx, name, enriched) {
		c.touchLastSend(ctx)
		return
	}

	c.logger.Debug("Immediate delivery failed, queueing event", "event", name)
	c.outbox.Append(ctx, name, enriched)
}

// TrackSetup queues the setup event once per installation.
func (c *Client) TrackSetup(ctx context.Context, props *event.Properties) {
	c.trackOnce(ctx, EventSetup, props)
}

// TrackFirstStrike queues the first_strike event once per installation.
func (c *Client) TrackFirstStrike(ctx context.Context, props *event.Properties) {
	c.trackOnce(ctx, EventFirstStrike, props)
}

// trackOnce marks the event before queueing it: a one-shot event may be
// retried from the queue but is never triggered twice. Without consent
// nothing is recorded, so the event can still fire after opt-in.
func (c *Client) trackOnce(ctx context.Context, name string, props *event.Properties) {
	if !c.allowed(ctx, name, nil) {
		return
	}
	if c.ledger.HasFired(ctx, name) {
		c.logger.Debug("One-shot event already sent", "event", name)
		return
	}
	claimed, err := c.ledger.Claim(ctx, name)
	if err != nil {
		c.logger.Error("Failed to record one-shot event, skipping it", "event", name, "error", err)
		return
	}
	if !claimed {
		c.logger.Debug("One-shot event claimed by a concurrent caller", "event", name)
		return
	}

	c.Track(ctx, name, props, Override())
}

// TrackKUI queues kui_<name>. It does not touch the KUI counters.
func (c *Client) TrackKUI(ctx context.Context, name string, props *event.Properties) {
	c.Track(ctx, kuiEventPrefix+name, props)
}

// RecordKUI counts one occurrence of a configured KUI. When the counter hits
// the rule's threshold the bound event is queued with kui, count and
// threshold properties. The counter keeps growing past the threshold without
// refiring until the bound event leaves the queue, delivered by a flush or
// dropped by a purge, which resets it.
func (c *Client) RecordKUI(ctx context.Context, name string, props *event.Properties) {
	if !c.allowed(ctx, kuiEventPrefix+name, nil) {
		return
	}

	rule, ok := c.ledger.Rule(name)
	if !ok {
		c.logger.Warn("Unknown KUI, ignoring occurrence", "kui", name)
		return
	}

	count, err := c.ledger.Increment(ctx, name)
	if err != nil {
		c.logger.Error("Failed to increment KUI counter", "kui", name, "error", err)
		return
	}
	if count != rule.Threshold {
		return
	}

	out := props.Clone()
	out.Set("kui", rule.Name)
	out.Set("count", count)
	out.Set("threshold", rule.Threshold)
	c.Track(ctx, rule.BoundEvent(), out, Override())
}

func (c *Client) touchLastSend(ctx context.Context) {
	if err := settings.SetInt(ctx, c.settings, lastSendKey, c.now().Unix(), settings.Autoload(false)); err != nil {
		c.logger.Warn("Failed to record last send time", "error", err)
	}
}
