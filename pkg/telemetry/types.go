package telemetry

import (
	"context"

	"github.com/docker/plugin-telemetry/pkg/event"
)

// Lifecycle event names.
const (
	EventSetup             = "setup"
	EventFirstStrike       = "first_strike"
	EventPluginActivated   = "plugin_activated"
	EventPluginDeactivated = "plugin_deactivated"

	// kuiEventPrefix prefixes the events sent by TrackKUI.
	kuiEventPrefix = "kui_"
)

// TrackOption adjusts a single tracking call.
type TrackOption func(*trackOptions)

type trackOptions struct {
	override bool
}

// Override bypasses the consent check. It is meant for lifecycle events the
// host has pre-approved.
func Override() TrackOption {
	return func(o *trackOptions) {
		o.override = true
	}
}

func applyTrackOptions(opts []TrackOption) trackOptions {
	var o trackOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// DeactivationFeedback is what the host's deactivation form collected.
type DeactivationFeedback struct {
	Reason  string `json:"reason"`
	Details string `json:"details,omitempty"`
}

// PropsFunc builds event properties from the arguments of a host hook.
type PropsFunc func(args ...any) *event.Properties

// Hook is a callback the host binds to its own hook or event system.
type Hook func(ctx context.Context, args ...any)

// Triggers declares which host hooks map to lifecycle and KUI events. A nil
// PropsFunc sends no extra properties.
type Triggers struct {
	// Setup fires the one-shot setup event.
	Setup PropsFunc
	// FirstStrike fires the one-shot first_strike event.
	FirstStrike PropsFunc
	// KUI maps a configured KUI name to the properties of each occurrence.
	KUI map[string]PropsFunc
}

// Hooks are the callbacks returned by DefineTriggers. KUI holds one entry per
// KUI named in Triggers.
type Hooks struct {
	Setup       Hook
	FirstStrike Hook
	KUI         map[string]Hook
}
