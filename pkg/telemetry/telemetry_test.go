package telemetry

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docker/plugin-telemetry/pkg/delivery"
	"github.com/docker/plugin-telemetry/pkg/event"
	"github.com/docker/plugin-telemetry/pkg/outbox"
	"github.com/docker/plugin-telemetry/pkg/scheduler"
	"github.com/docker/plugin-telemetry/pkg/settings"
)

// MockHTTPClient captures HTTP requests for testing
type MockHTTPClient struct {
	*http.Client
	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte
	status   int
}

// NewMockHTTPClient creates a new mock HTTP client with a default success response
func NewMockHTTPClient() *MockHTTPClient {
	mock := &MockHTTPClient{status: http.StatusOK}
	mock.Client = &http.Client{Transport: mock}
	return mock
}

// SetStatus changes the status code of every following response
func (m *MockHTTPClient) SetStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
}

// RoundTrip implements http.RoundTripper and captures the request
func (m *MockHTTPClient) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if req.Body != nil {
		body, _ := io.ReadAll(req.Body)
		m.bodies = append(m.bodies, body)
		req.Body = io.NopCloser(bytes.NewReader(body))
	} else {
		m.bodies = append(m.bodies, nil)
	}

	return &http.Response{
		StatusCode: m.status,
		Body:       io.NopCloser(bytes.NewReader([]byte(`{"success": true}`))),
		Header:     make(http.Header),
	}, nil
}

// GetRequests returns all captured requests
func (m *MockHTTPClient) GetRequests() []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*http.Request{}, m.requests...)
}

// GetBodies returns all captured request bodies
func (m *MockHTTPClient) GetBodies() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte{}, m.bodies...)
}

type call struct {
	name  string
	props *event.Properties
}

// recordingAdapter stands in for the analytics backend.
type recordingAdapter struct {
	mu    sync.Mutex
	calls []call
	fail  func(name string, attempt int) bool
	creds delivery.Credentials
}

func (a *recordingAdapter) Configure(creds delivery.Credentials) error {
	a.creds = creds
	return nil
}

func (a *recordingAdapter) Send(_ context.Context, name string, props *event.Properties) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls = append(a.calls, call{name: name, props: props})
	if a.fail != nil && a.fail(name, len(a.calls)) {
		return delivery.HTTPError(http.StatusServiceUnavailable, "unavailable")
	}
	return nil
}

func (a *recordingAdapter) names() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []string
	for _, c := range a.calls {
		out = append(out, c.name)
	}
	return out
}

func (a *recordingAdapter) setFail(f func(name string, attempt int) bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fail = f
}

func (a *recordingAdapter) last() call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[len(a.calls)-1]
}

type testEnv struct {
	client    *Client
	adapter   *recordingAdapter
	settings  *settings.Memory
	outbox    *outbox.MemoryStore
	scheduler *scheduler.Manual
}

func testConfig() Config {
	return Config{
		APIKey:        "test-api-key",
		APISecret:     "test-api-secret",
		PluginName:    "Creator LMS",
		PluginVersion: "1.4.0",
		HostName:      "WordPress",
		HostVersion:   "6.5",
		SiteURL:       "https://x.test",
		KUI:           nil,
	}
}

func newTestEnv(t *testing.T, cfg Config, opts ...Opt) *testEnv {
	t.Helper()

	env := &testEnv{
		adapter:   &recordingAdapter{},
		settings:  settings.NewMemory(),
		outbox:    outbox.NewMemoryStore("creator-lms"),
		scheduler: scheduler.NewManual(),
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
	base := []Opt{
		WithAdapter(env.adapter),
		WithSettings(env.settings),
		WithOutboxStore(env.outbox),
		WithScheduler(env.scheduler),
		WithLogger(logger),
		WithClock(func() time.Time { return time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC) }),
	}

	client, err := New(t.Context(), cfg, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	env.client = client
	return env
}

func (e *testEnv) queued(t *testing.T) []string {
	t.Helper()

	events, err := e.outbox.List(t.Context())
	require.NoError(t, err)

	var out []string
	for _, ev := range events {
		out = append(out, ev.Name)
	}
	return out
}

func (e *testEnv) grant(t *testing.T) {
	t.Helper()
	require.NoError(t, e.client.Grant(t.Context()))
}

func countOf(names []string, name string) int {
	n := 0
	for _, v := range names {
		if v == name {
			n++
		}
	}
	return n
}
