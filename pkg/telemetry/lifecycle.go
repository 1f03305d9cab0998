package telemetry

import (
	"context"
	"time"

	"github.com/docker/plugin-telemetry/pkg/event"
	"github.com/docker/plugin-telemetry/pkg/settings"
)

const (
	activationPendingKey = "telemetry_activation_pending"

	// deactivationSentTransient is set when the feedback form already sent
	// plugin_deactivated, so Deactivate does not send a second one.
	deactivationSentTransient = "deactivation_event_sent"
	deactivationSentTTL       = time.Hour
)

// Activate handles the host's activation signal: it provisions the queue and
// records the activation as pending. If the user already opted in the
// activation event is sent right away, otherwise it is sent on opt-in.
func (c *Client) Activate(ctx context.Context) error {
	if err := c.outbox.Provision(ctx); err != nil {
		return err
	}

	if err := settings.SetFlag(ctx, c.settings, activationPendingKey, true, settings.Autoload(false)); err != nil {
		c.logger.Warn("Failed to record pending activation", "error", err)
	}

	if c.gate.IsAllowed(ctx) {
		c.sendActivation(ctx)
	}
	return nil
}

func (c *Client) sendActivation(ctx context.Context) {
	pending, err := settings.GetFlag(ctx, c.settings, activationPendingKey)
	if err != nil || !pending {
		return
	}

	c.TrackImmediate(ctx, EventPluginActivated, c.lifecycleProps())
	if err := c.settings.Delete(ctx, activationPendingKey); err != nil {
		c.logger.Warn("Failed to clear pending activation", "error", err)
	}
}

// Deactivate handles the host's deactivation signal. It makes a last
// delivery attempt for the queue and, unless the feedback form already
// reported it, sends plugin_deactivated. Whatever is still queued afterwards
// is dropped and the periodic flush stops.
func (c *Client) Deactivate(ctx context.Context) {
	if c.outbox.Len(ctx) > 0 {
		c.Flush(ctx)
	}

	if !c.transients.has(ctx, deactivationSentTransient) {
		c.TrackImmediate(ctx, EventPluginDeactivated, c.lifecycleProps().Set("feedback_provided", false))
	}
	c.transients.delete(ctx, deactivationSentTransient)

	c.purgeQueue(ctx)
	c.unschedule()
}

// SubmitDeactivationFeedback sends what the deactivation form collected. The
// generic event Deactivate would send is suppressed for the next hour.
func (c *Client) SubmitDeactivationFeedback(ctx context.Context, feedback DeactivationFeedback) {
	props := c.lifecycleProps().Set("feedback_provided", true)
	if fb, err := PropertiesOf(feedback); err != nil {
		c.logger.Warn("Failed to encode deactivation feedback", "error", err)
	} else {
		props.Merge(fb)
	}

	c.TrackImmediate(ctx, EventPluginDeactivated, props)
	c.transients.set(ctx, deactivationSentTransient, deactivationSentTTL)
}

func (c *Client) lifecycleProps() *event.Properties {
	props := event.New()
	if c.cfg.SiteURL != "" {
		props.Set("site_url", c.cfg.SiteURL)
	}
	props.Set("unique_id", c.uniqueID)
	return props
}

// Grant records the user's opt-in.
func (c *Client) Grant(ctx context.Context) error {
	return c.gate.Grant(ctx)
}

// Revoke records the user's opt-out.
func (c *Client) Revoke(ctx context.Context) error {
	return c.gate.Revoke(ctx)
}

// onConsentChange reacts to transitions, whether they came from Grant and
// Revoke or from another process.
func (c *Client) onConsentChange(ctx context.Context, allowed bool) {
	if allowed {
		c.logger.Info("Telemetry enabled")
		c.schedule()
		c.sendActivation(ctx)
		return
	}

	c.logger.Info("Telemetry disabled")
	c.unschedule()
	if c.cfg.PurgeOnRevoke {
		c.purgeQueue(ctx)
	}
}

func (c *Client) schedule() {
	err := c.scheduler.Register(c.ScheduleName(), c.cfg.ReportInterval.Duration(), func(ctx context.Context) {
		c.Flush(ctx)
	})
	if err != nil {
		c.logger.Warn("Failed to schedule queue processing", "error", err)
	}
}

func (c *Client) unschedule() {
	c.scheduler.Unregister(c.ScheduleName())
}
