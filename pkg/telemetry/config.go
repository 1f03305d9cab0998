package telemetry

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/docker/plugin-telemetry/pkg/delivery"
	"github.com/docker/plugin-telemetry/pkg/delivery/openpanel"
	"github.com/docker/plugin-telemetry/pkg/dispatch"
	"github.com/docker/plugin-telemetry/pkg/ledger"
	"github.com/docker/plugin-telemetry/pkg/outbox"
	"github.com/docker/plugin-telemetry/pkg/scheduler"
	"github.com/docker/plugin-telemetry/pkg/settings"
)

var (
	ErrMissingAPIKey     = errors.New("API key cannot be empty")
	ErrMissingPluginName = errors.New("plugin name cannot be empty")
	ErrMissingSlug       = errors.New("plugin slug cannot be derived from the plugin name")

	ErrNegativeBusyTimeout = errors.New("database busy timeout cannot be negative")
)

// ConfigError is the only error integrators get from the library: it is
// returned by New when the configuration cannot produce a working client.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "telemetry: invalid configuration: " + e.Err.Error()
	}
	return fmt.Sprintf("telemetry: invalid configuration for %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Config describes one plugin installation.
type Config struct {
	// APIKey and APISecret authenticate against the analytics backend.
	APIKey    string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	APISecret string `json:"api_secret,omitempty" yaml:"api_secret,omitempty"`

	PluginName    string `json:"plugin_name" yaml:"plugin_name"`
	PluginSlug    string `json:"plugin_slug,omitempty" yaml:"plugin_slug,omitempty"`
	PluginVersion string `json:"plugin_version,omitempty" yaml:"plugin_version,omitempty"`
	HostName      string `json:"host_name,omitempty" yaml:"host_name,omitempty"`
	HostVersion   string `json:"host_version,omitempty" yaml:"host_version,omitempty"`
	SiteURL       string `json:"site_url,omitempty" yaml:"site_url,omitempty"`

	// Endpoint overrides the analytics URL.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	// DatabasePath is the SQLite file holding the queue and the settings.
	DatabasePath string `json:"database_path,omitempty" yaml:"database_path,omitempty"`
	// DatabaseBusyTimeout bounds how long a statement waits for another
	// process to release the database. Zero keeps the driver default.
	DatabaseBusyTimeout time.Duration `json:"database_busy_timeout,omitempty" yaml:"database_busy_timeout,omitempty"`

	ReportInterval  scheduler.Interval `json:"report_interval,omitempty" yaml:"report_interval,omitempty"`
	ExtraSystemInfo map[string]any     `json:"extra_system_info,omitempty" yaml:"extra_system_info,omitempty"`
	KUI             []ledger.Rule      `json:"kui,omitempty" yaml:"kui,omitempty"`

	// PurgeOnRevoke drops queued events when consent is revoked. By default
	// they stay queued and are still delivered.
	PurgeOnRevoke bool          `json:"purge_on_revoke,omitempty" yaml:"purge_on_revoke,omitempty"`
	SendTimeout   time.Duration `json:"send_timeout,omitempty" yaml:"send_timeout,omitempty"`

	// Debug logs events instead of sending them.
	Debug bool `json:"debug,omitempty" yaml:"debug,omitempty"`
}

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns a plugin name into the key used to namespace settings and
// the queue table: "Creator LMS" becomes "creator-lms".
func Slugify(name string) string {
	return strings.Trim(slugUnsafe.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

// normalize fills in defaults and validates c.
func (c *Config) normalize() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return &ConfigError{Field: "APIKey", Err: ErrMissingAPIKey}
	}
	if strings.TrimSpace(c.PluginName) == "" {
		return &ConfigError{Field: "PluginName", Err: ErrMissingPluginName}
	}

	c.PluginSlug = strings.ToLower(strings.TrimSpace(c.PluginSlug))
	if c.PluginSlug == "" {
		c.PluginSlug = Slugify(c.PluginName)
	}
	if c.PluginSlug == "" {
		return &ConfigError{Field: "PluginSlug", Err: ErrMissingSlug}
	}
	if _, err := outbox.NormalizeScope(c.PluginSlug); err != nil {
		return &ConfigError{Field: "PluginSlug", Err: err}
	}

	if c.ReportInterval == "" {
		c.ReportInterval = scheduler.Weekly
	}
	if !c.ReportInterval.Valid() {
		return &ConfigError{Field: "ReportInterval", Err: fmt.Errorf("%w: %q", scheduler.ErrInvalidInterval, c.ReportInterval)}
	}

	if c.DatabaseBusyTimeout < 0 {
		return &ConfigError{Field: "DatabaseBusyTimeout", Err: ErrNegativeBusyTimeout}
	}

	if c.SendTimeout <= 0 {
		c.SendTimeout = dispatch.DefaultSendTimeout
	}
	return nil
}

// Opt customizes the collaborators of a Client. Every collaborator has a
// default, so a Client only needs a Config.
type Opt func(*options)

type options struct {
	settings       settings.Store
	outboxStore    outbox.Store
	adapter        delivery.Adapter
	scheduler      scheduler.Scheduler
	logger         *slog.Logger
	identity       dispatch.IdentityFunc
	enrich         dispatch.EnrichFunc
	now            func() time.Time
	httpClient     openpanel.HTTPClient
	tracerProvider trace.TracerProvider
}

// WithSettings stores consent, one-shot flags and counters in s. Keys are
// prefixed with the plugin slug.
func WithSettings(s settings.Store) Opt {
	return func(o *options) {
		o.settings = s
	}
}

func WithOutboxStore(s outbox.Store) Opt {
	return func(o *options) {
		o.outboxStore = s
	}
}

// WithAdapter replaces the OpenPanel adapter.
func WithAdapter(a delivery.Adapter) Opt {
	return func(o *options) {
		o.adapter = a
	}
}

// WithScheduler hands the periodic flush to the host's scheduler.
func WithScheduler(s scheduler.Scheduler) Opt {
	return func(o *options) {
		o.scheduler = s
	}
}

func WithLogger(logger *slog.Logger) Opt {
	return func(o *options) {
		o.logger = logger
	}
}

// WithIdentity resolves the actor attached to events.
func WithIdentity(f dispatch.IdentityFunc) Opt {
	return func(o *options) {
		o.identity = f
	}
}

// WithEnricher runs f on every event after the automatic properties were
// added.
func WithEnricher(f dispatch.EnrichFunc) Opt {
	return func(o *options) {
		o.enrich = f
	}
}

func WithClock(now func() time.Time) Opt {
	return func(o *options) {
		o.now = now
	}
}

func WithHTTPClient(c openpanel.HTTPClient) Opt {
	return func(o *options) {
		o.httpClient = c
	}
}

func WithTracerProvider(tp trace.TracerProvider) Opt {
	return func(o *options) {
		o.tracerProvider = tp
	}
}
