package telemetry

import (
	"context"

	"github.com/docker/plugin-telemetry/pkg/event"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const (
	clientContextKey contextKey = "telemetry_client"
)

// WithClient adds a telemetry client to the context
func WithClient(ctx context.Context, client *Client) context.Context {
	return context.WithValue(ctx, clientContextKey, client)
}

// FromContext retrieves the telemetry client from context
func FromContext(ctx context.Context) *Client {
	if client, ok := ctx.Value(clientContextKey).(*Client); ok {
		return client
	}
	return nil
}

// The functions below are no-ops when ctx carries no client, so code that
// may run without telemetry does not need to check.

func Track(ctx context.Context, name string, props *event.Properties, opts ...TrackOption) {
	if client := FromContext(ctx); client != nil {
		client.Track(ctx, name, props, opts...)
	}
}

func TrackImmediate(ctx context.Context, name string, props *event.Properties, opts ...TrackOption) {
	if client := FromContext(ctx); client != nil {
		client.TrackImmediate(ctx, name, props, opts...)
	}
}

func TrackSetup(ctx context.Context, props *event.Properties) {
	if client := FromContext(ctx); client != nil {
		client.TrackSetup(ctx, props)
	}
}

func TrackFirstStrike(ctx context.Context, props *event.Properties) {
	if client := FromContext(ctx); client != nil {
		client.TrackFirstStrike(ctx, props)
	}
}

func TrackKUI(ctx context.Context, name string, props *event.Properties) {
	if client := FromContext(ctx); client != nil {
		client.TrackKUI(ctx, name, props)
	}
}

func RecordKUI(ctx context.Context, name string, props *event.Properties) {
	if client := FromContext(ctx); client != nil {
		client.RecordKUI(ctx, name, props)
	}
}
