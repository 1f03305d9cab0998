package dispatch

import (
	"cmp"
	"context"
	"maps"
	"os"
	"runtime"
	"slices"
	"time"

	"github.com/docker/plugin-telemetry/pkg/event"
)

// Property keys filled in on every event.
const (
	KeySiteURL       = "site_url"
	KeyUniqueID      = "unique_id"
	KeyPluginName    = "plugin_name"
	KeyPluginSlug    = "plugin_slug"
	KeyPluginVersion = "plugin_version"
	KeyHostName      = "host_name"
	KeyHostVersion   = "host_version"
	KeyTimestamp     = "timestamp"
	KeyOS            = "os"
	KeyOSLanguage    = "os_language"
)

// EnrichFunc runs after the automatic keys were added and may add or
// override anything.
type EnrichFunc func(ctx context.Context, name string, props *event.Properties)

// IdentityFunc resolves the actor of an event. Returning false falls back to
// the anonymous actor.
type IdentityFunc func(ctx context.Context) (event.Identity, bool)

// Enricher builds the property set attached to every transmitted event.
type Enricher struct {
	SiteURL       string
	UniqueID      string
	PluginName    string
	PluginSlug    string
	PluginVersion string
	HostName      string
	HostVersion   string

	// ExtraSystemInfo is merged in sorted key order.
	ExtraSystemInfo map[string]any

	Identity IdentityFunc
	Hook     EnrichFunc
	Now      func() time.Time
}

// Enrich returns a new mapping: the caller's keys first, in their order, then
// every automatic key the caller did not set. props is not modified.
func (e *Enricher) Enrich(ctx context.Context, name string, props *event.Properties) *event.Properties {
	out := props.Clone()

	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	osName, osLanguage := getSystemInfo()

	out.SetDefault(KeySiteURL, e.SiteURL)
	out.SetDefault(KeyUniqueID, e.UniqueID)
	out.SetDefault(KeyPluginName, e.PluginName)
	out.SetDefault(KeyPluginSlug, e.PluginSlug)
	out.SetDefault(KeyPluginVersion, e.PluginVersion)
	out.SetDefault(KeyHostName, e.HostName)
	out.SetDefault(KeyHostVersion, e.HostVersion)
	out.SetDefault(KeyTimestamp, now().UTC().Format(time.RFC3339))
	out.SetDefault(KeyOS, osName)
	out.SetDefault(KeyOSLanguage, osLanguage)

	for _, k := range slices.Sorted(maps.Keys(e.ExtraSystemInfo)) {
		out.SetDefault(k, e.ExtraSystemInfo[k])
	}

	if !out.Has(event.IdentifyKey) {
		out.Set(event.IdentifyKey, e.identity(ctx).Properties())
	}

	if e.Hook != nil {
		e.Hook(ctx, name, out)
	}
	return out
}

func (e *Enricher) identity(ctx context.Context) event.Identity {
	if e.Identity != nil {
		if id, ok := e.Identity(ctx); ok && id.ProfileID != "" {
			return id
		}
	}
	return event.Anonymous(e.UniqueID)
}

// getSystemInfo collects system information for events
func getSystemInfo() (osName, osLanguage string) {
	return runtime.GOOS, cmp.Or(os.Getenv("LANG"), "en-US")
}
