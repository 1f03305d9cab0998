package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/plugin-telemetry/pkg/delivery"
	"github.com/docker/plugin-telemetry/pkg/delivery/openpanel"
	"github.com/docker/plugin-telemetry/pkg/event"
	"github.com/docker/plugin-telemetry/pkg/ledger"
	"github.com/docker/plugin-telemetry/pkg/outbox"
	"github.com/docker/plugin-telemetry/pkg/scheduler"
	"github.com/docker/plugin-telemetry/pkg/settings"
	"github.com/docker/plugin-telemetry/pkg/sqliteutil"
)

type rejectingAdapter struct {
	delivery.Func
}

func (rejectingAdapter) Configure(delivery.Credentials) error {
	return errors.New("secret has the wrong format")
}

func TestNew_ConfigErrors(t *testing.T) {
	t.Parallel()

	memory := []Opt{WithSettings(settings.NewMemory()), WithOutboxStore(outbox.NewMemoryStore("p")), WithScheduler(scheduler.NewManual())}

	tests := []struct {
		name    string
		mutate  func(*Config)
		opts    []Opt
		field   string
		wantErr error
	}{
		{
			name:    "missing api key",
			mutate:  func(c *Config) { c.APIKey = " " },
			field:   "APIKey",
			wantErr: ErrMissingAPIKey,
		},
		{
			name:    "missing plugin name",
			mutate:  func(c *Config) { c.PluginName = "" },
			field:   "PluginName",
			wantErr: ErrMissingPluginName,
		},
		{
			name:    "name without slug characters",
			mutate:  func(c *Config) { c.PluginName = "!!!" },
			field:   "PluginSlug",
			wantErr: ErrMissingSlug,
		},
		{
			name:    "invalid explicit slug",
			mutate:  func(c *Config) { c.PluginSlug = "drop table" },
			field:   "PluginSlug",
			wantErr: outbox.ErrInvalidScope,
		},
		{
			name:    "underscore slug",
			mutate:  func(c *Config) { c.PluginSlug = "creator_lms" },
			field:   "PluginSlug",
			wantErr: outbox.ErrInvalidScope,
		},
		{
			name:    "negative busy timeout",
			mutate:  func(c *Config) { c.DatabaseBusyTimeout = -time.Second },
			field:   "DatabaseBusyTimeout",
			wantErr: ErrNegativeBusyTimeout,
		},
		{
			name:    "invalid interval",
			mutate:  func(c *Config) { c.ReportInterval = "monthly" },
			field:   "ReportInterval",
			wantErr: scheduler.ErrInvalidInterval,
		},
		{
			name:    "invalid kui rule",
			mutate:  func(c *Config) { c.KUI = []ledger.Rule{{Name: "lessons"}} },
			field:   "KUI",
			wantErr: ledger.ErrInvalidThreshold,
		},
		{
			name:  "adapter rejects credentials",
			opts:  []Opt{WithAdapter(rejectingAdapter{})},
			field: "APIKey",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			opts := append(append([]Opt{WithAdapter(&recordingAdapter{})}, memory...), tt.opts...)

			_, err := New(t.Context(), cfg, opts...)

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	cfg := env.client.Config()

	assert.Equal(t, "creator-lms", cfg.PluginSlug)
	assert.Equal(t, scheduler.Weekly, cfg.ReportInterval)
	assert.Equal(t, "creator-lms_telemetry_queue_process", env.client.ScheduleName())
	assert.Equal(t, delivery.Credentials{ClientID: "test-api-key", ClientSecret: "test-api-secret"}, env.adapter.creds)
	assert.False(t, env.client.IsOptedIn(t.Context()))
	assert.True(t, env.client.LastSend(t.Context()).IsZero())
}

func TestNew_ExplicitSlugIsLowered(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.PluginSlug = " Creator-LMS "
	env := newTestEnv(t, cfg)

	assert.Equal(t, "creator-lms", env.client.Config().PluginSlug)
}

func TestSlugify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "creator-lms", Slugify("Creator LMS"))
	assert.Equal(t, "wp-funnels-pro", Slugify("  WP Funnels (Pro) "))
	assert.Empty(t, Slugify("***"))
}

func TestUniqueID_StableAcrossRestarts(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	store := settings.NewMemory()
	opts := []Opt{WithSettings(store), WithOutboxStore(outbox.NewMemoryStore("p")), WithAdapter(&recordingAdapter{}), WithScheduler(scheduler.NewManual())}

	first, err := New(ctx, testConfig(), opts...)
	require.NoError(t, err)
	id := first.UniqueID()
	require.NoError(t, first.Close())
	assert.NotEmpty(t, id)

	second, err := New(ctx, testConfig(), opts...)
	require.NoError(t, err)
	defer second.Close()
	assert.Equal(t, id, second.UniqueID())

	stored, ok, err := store.Get(ctx, "creator-lms_telemetry_unique_id")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, stored)
	assert.False(t, store.Autoloaded("creator-lms_telemetry_unique_id"))
}

func TestDefaultStack_SQLiteAndOpenPanel(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	dbPath := filepath.Join(t.TempDir(), "data", "telemetry.db")
	mockHTTP := NewMockHTTPClient()

	cfg := testConfig()
	cfg.DatabasePath = dbPath
	cfg.Endpoint = "https://analytics.example.test/api/track"

	client, err := New(ctx, cfg, WithHTTPClient(mockHTTP.Client), WithScheduler(scheduler.NewManual()))
	require.NoError(t, err)

	require.NoError(t, client.Grant(ctx))
	client.Track(ctx, "course_created", event.Of("course_id", 12))
	assert.Equal(t, 1, client.QueueLength(ctx))
	id := client.UniqueID()
	require.NoError(t, client.Close())

	// A new process sees the queued event, the consent and the unique id.
	client, err = New(ctx, cfg, WithHTTPClient(mockHTTP.Client), WithScheduler(scheduler.NewManual()))
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, id, client.UniqueID())
	assert.True(t, client.IsOptedIn(ctx))

	res := client.Flush(ctx)
	assert.Equal(t, 1, res.DeliveredCount())
	assert.Equal(t, 0, client.QueueLength(ctx))
	assert.False(t, client.LastSend(ctx).IsZero())

	requests := mockHTTP.GetRequests()
	require.Len(t, requests, 1)
	assert.Equal(t, cfg.Endpoint, requests[0].URL.String())
	assert.Equal(t, "test-api-key", requests[0].Header.Get(openpanel.HeaderClientID))
	assert.Equal(t, "test-api-secret", requests[0].Header.Get(openpanel.HeaderClientSecret))
	assert.Contains(t, requests[0].Header.Get("User-Agent"), "(WordPress/6.5; go/")

	var body openpanel.Request
	require.NoError(t, json.Unmarshal(mockHTTP.GetBodies()[0], &body))
	assert.Equal(t, "course_created", body.Payload.Name)
	uid, _ := body.Payload.Properties.Get("unique_id")
	assert.Equal(t, id, uid)
}

func TestDefaultStack_BusyTimeoutBoundsLockWait(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	dbPath := filepath.Join(t.TempDir(), "telemetry.db")

	holder, err := sqliteutil.OpenDB(dbPath)
	require.NoError(t, err)
	defer holder.Close()
	_, err = holder.ExecContext(ctx, "CREATE TABLE held (id INTEGER)")
	require.NoError(t, err)
	tx, err := holder.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()
	_, err = tx.ExecContext(ctx, "INSERT INTO held (id) VALUES (1)")
	require.NoError(t, err)

	cfg := testConfig()
	cfg.DatabasePath = dbPath
	cfg.DatabaseBusyTimeout = 20 * time.Millisecond

	// The default timeout alone would keep the first statement waiting for
	// five seconds.
	start := time.Now()
	_, err = New(ctx, cfg, WithHTTPClient(NewMockHTTPClient().Client), WithScheduler(scheduler.NewManual()))
	elapsed := time.Since(start)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "DatabasePath", cfgErr.Field)
	assert.True(t, sqliteutil.IsBusyError(err))
	assert.Less(t, elapsed, 4*time.Second)
}

func TestDefaultStack_FailedDeliveryStaysQueued(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	mockHTTP := NewMockHTTPClient()
	mockHTTP.SetStatus(http.StatusBadGateway)

	cfg := testConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "telemetry.db")

	client, err := New(ctx, cfg, WithHTTPClient(mockHTTP.Client), WithScheduler(scheduler.NewManual()))
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Grant(ctx))
	client.TrackImmediate(ctx, "plugin_activated", nil)
	assert.Equal(t, 1, client.QueueLength(ctx))

	mockHTTP.SetStatus(http.StatusOK)
	assert.Equal(t, 1, client.Flush(ctx).DeliveredCount())
	assert.Len(t, mockHTTP.GetRequests(), 2)
}

func TestDebugMode_UsesLogSink(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	mockHTTP := NewMockHTTPClient()

	cfg := testConfig()
	cfg.Debug = true

	client, err := New(ctx, cfg,
		WithHTTPClient(mockHTTP.Client),
		WithSettings(settings.NewMemory()),
		WithOutboxStore(outbox.NewMemoryStore("creator-lms")),
		WithScheduler(scheduler.NewManual()),
	)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Grant(ctx))
	client.TrackImmediate(ctx, "plugin_activated", nil)

	assert.Empty(t, mockHTTP.GetRequests())
	assert.Equal(t, 0, client.QueueLength(ctx))
}

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := t.Context()

	// No client: every helper is a no-op.
	assert.Nil(t, FromContext(ctx))
	Track(ctx, "e", nil)
	TrackImmediate(ctx, "e", nil)
	TrackSetup(ctx, nil)
	TrackFirstStrike(ctx, nil)
	TrackKUI(ctx, "k", nil)
	RecordKUI(ctx, "k", nil)

	env := newTestEnv(t, testConfig())
	env.grant(t)
	ctx = WithClient(ctx, env.client)
	assert.Same(t, env.client, FromContext(ctx))

	Track(ctx, "course_created", nil)
	TrackSetup(ctx, nil)
	TrackKUI(ctx, "checkout", nil)
	assert.Equal(t, []string{"course_created", "setup", "kui_checkout"}, env.queued(t))

	TrackImmediate(ctx, "direct", nil)
	assert.Equal(t, []string{"direct"}, env.adapter.names())
}

func TestInit_SchedulesWhenAllowed(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	env := newTestEnv(t, testConfig())

	env.client.Init(ctx)
	assert.False(t, env.scheduler.Registered(env.client.ScheduleName()))

	require.NoError(t, env.settings.Set(ctx, "creator-lms_allow_tracking", settings.Yes))
	restarted := newTestEnv(t, testConfig(), WithSettings(env.settings), WithScheduler(env.scheduler))
	restarted.client.Init(ctx)
	restarted.client.Init(ctx)

	every, ok := env.scheduler.Interval(restarted.client.ScheduleName())
	require.True(t, ok)
	assert.Equal(t, scheduler.Weekly.Duration(), every)
}

func TestInit_WatchesFileSettings(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	file := settings.NewFile(filepath.Join(t.TempDir(), "settings.yaml"))
	env := newTestEnv(t, testConfig(), WithSettings(file))
	env.client.Init(ctx)

	// Another process opts in by rewriting the file.
	require.NoError(t, settings.NewFile(file.Path()).Set(ctx, "creator-lms_allow_tracking", settings.Yes))

	require.Eventually(t, func() bool {
		return env.scheduler.Registered(env.client.ScheduleName())
	}, 5*time.Second, 20*time.Millisecond)
}
