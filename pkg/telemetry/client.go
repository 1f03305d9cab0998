package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/docker/plugin-telemetry/pkg/consent"
	"github.com/docker/plugin-telemetry/pkg/delivery"
	"github.com/docker/plugin-telemetry/pkg/delivery/openpanel"
	"github.com/docker/plugin-telemetry/pkg/dispatch"
	"github.com/docker/plugin-telemetry/pkg/ledger"
	"github.com/docker/plugin-telemetry/pkg/outbox"
	"github.com/docker/plugin-telemetry/pkg/paths"
	"github.com/docker/plugin-telemetry/pkg/scheduler"
	"github.com/docker/plugin-telemetry/pkg/settings"
	"github.com/docker/plugin-telemetry/pkg/sqliteutil"
	"github.com/docker/plugin-telemetry/pkg/useragent"
)

// Client is the telemetry facade of one plugin installation. It owns the
// outbox, the consent gate, the ledger and the dispatcher. All methods are
// safe for concurrent use; tracking calls never return errors.
type Client struct {
	cfg    Config
	logger *telemetryLogger
	now    func() time.Time

	// rawSettings is the store as given; settings is its slug-prefixed view.
	rawSettings settings.Store
	settings    settings.Store

	gate       *consent.Gate
	outbox     *outbox.Outbox
	ledger     *ledger.Ledger
	dispatcher *dispatch.Dispatcher
	enricher   *dispatch.Enricher
	scheduler  scheduler.Scheduler
	transients *transients

	uniqueID string

	flushGroup singleflight.Group

	initOnce  sync.Once
	closeOnce sync.Once
	closersMu sync.Mutex
	closers   []func() error
}

// New validates cfg and wires the client. Missing collaborators get
// defaults: a SQLite database at cfg.DatabasePath (or the per-user data
// directory) for the queue and the settings, the OpenPanel adapter, and an
// in-process ticker for the periodic flush.
//
// Only configuration problems are reported, always as *ConfigError.
func New(ctx context.Context, cfg Config, opts ...Opt) (*Client, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	o := options{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{
		cfg:    cfg,
		logger: NewTelemetryLogger(o.logger),
		now:    o.now,
	}
	c.transients = newTransients(c)

	if err := c.wireStorage(ctx, &o); err != nil {
		c.Close()
		return nil, err
	}

	adapter, err := c.newAdapter(&o)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.gate = consent.New(c.settings, consent.WithLogger(c.logger.component("consent")))
	c.gate.OnChange(c.onConsentChange)

	c.ledger, err = ledger.New(c.settings, cfg.KUI, ledger.WithLogger(c.logger.component("ledger")))
	if err != nil {
		c.Close()
		return nil, &ConfigError{Field: "KUI", Err: err}
	}

	c.uniqueID, err = getOrCreateUniqueID(ctx, c.settings)
	if err != nil {
		c.logger.Warn("Unique id is not persisted, events of this run use a temporary one", "error", err)
	}

	c.enricher = &dispatch.Enricher{
		SiteURL:         cfg.SiteURL,
		UniqueID:        c.uniqueID,
		PluginName:      cfg.PluginName,
		PluginSlug:      cfg.PluginSlug,
		PluginVersion:   cfg.PluginVersion,
		HostName:        cfg.HostName,
		HostVersion:     cfg.HostVersion,
		ExtraSystemInfo: cfg.ExtraSystemInfo,
		Identity:        o.identity,
		Hook:            o.enrich,
		Now:             c.now,
	}

	dispatchOpts := []dispatch.Opt{
		dispatch.WithLogger(c.logger.component("dispatch")),
		dispatch.WithSendTimeout(cfg.SendTimeout),
	}
	if o.tracerProvider != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithTracerProvider(o.tracerProvider))
	}
	c.dispatcher = dispatch.New(adapter, c.outbox, dispatchOpts...)

	if o.scheduler != nil {
		c.scheduler = o.scheduler
	} else {
		ticker := scheduler.NewTicker(scheduler.WithLogger(c.logger.component("scheduler")))
		c.scheduler = ticker
		c.onClose(func() error {
			ticker.Stop()
			return nil
		})
	}

	c.logger.Debug("Client ready", "plugin", cfg.PluginSlug, "interval", cfg.ReportInterval, "debug", cfg.Debug)
	return c, nil
}

// wireStorage opens the default database when the settings store or the
// outbox store was not injected.
func (c *Client) wireStorage(ctx context.Context, o *options) error {
	var db *sql.DB
	if o.settings == nil || o.outboxStore == nil {
		path := c.cfg.DatabasePath
		if path == "" {
			path = paths.DefaultDatabasePath()
		}

		var dbOpts []sqliteutil.Option
		if c.cfg.DatabaseBusyTimeout > 0 {
			dbOpts = append(dbOpts, sqliteutil.WithBusyTimeout(c.cfg.DatabaseBusyTimeout))
		}

		var err error
		db, err = sqliteutil.OpenDB(path, dbOpts...)
		if err != nil {
			return &ConfigError{Field: "DatabasePath", Err: err}
		}
		c.onClose(db.Close)
	}

	c.rawSettings = o.settings
	if c.rawSettings == nil {
		s, err := settings.NewSQLite(ctx, db)
		if err != nil {
			return &ConfigError{Field: "DatabasePath", Err: err}
		}
		c.rawSettings = s
	}
	c.settings = settings.Prefixed(c.rawSettings, c.cfg.PluginSlug)

	store := o.outboxStore
	if store == nil {
		s, err := outbox.NewSQLiteStore(ctx, db, c.cfg.PluginSlug)
		if err != nil {
			return &ConfigError{Field: "DatabasePath", Err: err}
		}
		store = s
	}
	c.outbox = outbox.New(store,
		outbox.WithLogger(c.logger.component("outbox")),
		outbox.WithClock(c.now),
	)
	return nil
}

func (c *Client) newAdapter(o *options) (delivery.Adapter, error) {
	adapter := o.adapter
	if adapter == nil {
		if c.cfg.Debug {
			adapter = delivery.NewLogSink(c.logger.component("delivery"))
		} else {
			opOpts := []openpanel.Opt{
				openpanel.WithUserAgent(useragent.ForHost(c.cfg.HostName, c.cfg.HostVersion)),
				openpanel.WithTimeout(c.cfg.SendTimeout),
				openpanel.WithLogger(c.logger.component("openpanel")),
			}
			if c.cfg.Endpoint != "" {
				opOpts = append(opOpts, openpanel.WithEndpoint(c.cfg.Endpoint))
			}
			if o.httpClient != nil {
				opOpts = append(opOpts, openpanel.WithHTTPClient(o.httpClient))
			}
			adapter = openpanel.New(opOpts...)
		}
	}

	creds := delivery.Credentials{ClientID: c.cfg.APIKey, ClientSecret: c.cfg.APISecret}
	if err := adapter.Configure(creds); err != nil {
		return nil, &ConfigError{Field: "APIKey", Err: err}
	}
	return adapter, nil
}

// Init starts background work: the periodic flush when consent is given and,
// for stores that support it, watching the settings for consent changes made
// by another process. Calling it more than once has no effect.
func (c *Client) Init(ctx context.Context) {
	c.initOnce.Do(func() {
		if c.gate.IsAllowed(ctx) {
			c.schedule()
		}

		watcher, ok := c.rawSettings.(settings.Watcher)
		if !ok {
			return
		}
		c.gate.Refresh(ctx)
		watchCtx := context.WithoutCancel(ctx)
		watchCtx, cancel := context.WithCancel(watchCtx)
		c.onClose(func() error {
			cancel()
			return nil
		})
		if err := watcher.Watch(watchCtx, func() { c.gate.Refresh(watchCtx) }); err != nil {
			c.logger.Warn("Failed to watch settings for consent changes", "error", err)
		}
	})
}

// Close stops the default scheduler and closes the default database. Injected
// collaborators are left alone.
func (c *Client) Close() error {
	var errs []error
	c.closeOnce.Do(func() {
		c.closersMu.Lock()
		defer c.closersMu.Unlock()

		for i := len(c.closers) - 1; i >= 0; i-- {
			if err := c.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

func (c *Client) onClose(f func() error) {
	c.closersMu.Lock()
	defer c.closersMu.Unlock()

	c.closers = append(c.closers, f)
}

// Config returns the normalized configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Slug returns the key namespacing this plugin's settings and queue.
func (c *Client) Slug() string {
	return c.cfg.PluginSlug
}

// UniqueID returns the per-installation id attached to every event.
func (c *Client) UniqueID() string {
	return c.uniqueID
}

func (c *Client) IsOptedIn(ctx context.Context) bool {
	return c.gate.IsAllowed(ctx)
}

// LastSend returns when an event was last delivered, zero if never.
func (c *Client) LastSend(ctx context.Context) time.Time {
	unix, err := settings.GetInt(ctx, c.settings, lastSendKey)
	if err != nil || unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

func (c *Client) QueueLength(ctx context.Context) int {
	return c.outbox.Len(ctx)
}

// Pending returns the queued events without removing them.
func (c *Client) Pending(ctx context.Context) []outbox.Event {
	return c.outbox.DrainOrdered(ctx)
}

// ScheduleName is the name of the periodic flush job.
func (c *Client) ScheduleName() string {
	return c.cfg.PluginSlug + "_telemetry_queue_process"
}
