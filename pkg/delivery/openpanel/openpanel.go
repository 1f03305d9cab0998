// Package openpanel delivers events to an OpenPanel compatible /track endpoint.
package openpanel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/docker/plugin-telemetry/pkg/delivery"
	"github.com/docker/plugin-telemetry/pkg/event"
	"github.com/docker/plugin-telemetry/pkg/httpclient"
	"github.com/docker/plugin-telemetry/pkg/useragent"
)

const (
	DefaultEndpoint = "https://analytics.linno.io/api/track"
	DefaultTimeout  = 5 * time.Second

	HeaderClientID     = "openpanel-client-id"
	HeaderClientSecret = "openpanel-client-secret"

	// maxErrorBody caps how much of an error response ends up in ErrorDetail.
	maxErrorBody = 1024
)

// HTTPClient is the subset of *http.Client the adapter uses.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request is the JSON document posted for one event.
type Request struct {
	Type    string  `json:"type"`
	Payload Payload `json:"payload"`
}

type Payload struct {
	Name       string            `json:"name"`
	Properties *event.Properties `json:"properties"`
}

type Opt func(*Adapter)

func WithEndpoint(endpoint string) Opt {
	return func(a *Adapter) {
		a.endpoint = endpoint
	}
}

func WithHTTPClient(client HTTPClient) Opt {
	return func(a *Adapter) {
		a.httpClient = client
	}
}

func WithUserAgent(ua string) Opt {
	return func(a *Adapter) {
		a.userAgent = ua
	}
}

// WithTimeout bounds each Send. Zero keeps the default.
func WithTimeout(d time.Duration) Opt {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Opt {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// Adapter posts one event per request, authenticated with two credential
// headers.
type Adapter struct {
	endpoint   string
	httpClient HTTPClient
	userAgent  string
	timeout    time.Duration
	logger     *slog.Logger

	creds delivery.Credentials
}

func New(opts ...Opt) *Adapter {
	a := &Adapter{
		endpoint:  DefaultEndpoint,
		userAgent: useragent.ForHost("", ""),
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.httpClient == nil {
		a.httpClient = httpclient.NewHTTPClient(
			httpclient.WithUserAgent(a.userAgent),
			httpclient.WithTimeout(a.timeout),
		)
	}
	return a
}

func (a *Adapter) Endpoint() string {
	return a.endpoint
}

func (a *Adapter) Configure(creds delivery.Credentials) error {
	if strings.TrimSpace(creds.ClientID) == "" {
		return delivery.ErrMissingClientID
	}
	a.creds = creds
	return nil
}

func (a *Adapter) Send(ctx context.Context, name string, props *event.Properties) error {
	if props == nil {
		props = event.New()
	}

	jsonData, err := json.Marshal(Request{
		Type:    "track",
		Payload: Payload{Name: name, Properties: props},
	})
	if err != nil {
		return &delivery.ErrorDetail{Message: "failed to marshal event", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return &delivery.ErrorDetail{Message: "failed to create HTTP request", Err: err}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", a.userAgent)
	req.Header.Set(HeaderClientID, a.creds.ClientID)
	req.Header.Set(HeaderClientSecret, a.creds.ClientSecret)

	if a.logger.Enabled(ctx, slog.LevelDebug) {
		a.logger.Debug("HTTP request details",
			"method", req.Method,
			"url", req.URL.String(),
			"user_agent", req.Header.Get("User-Agent"),
			"has_secret", a.creds.ClientSecret != "",
			"payload_size", len(jsonData),
			"payload", string(jsonData),
		)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return delivery.TransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		excerpt := strings.TrimSpace(string(body))
		if excerpt == "" {
			excerpt = http.StatusText(resp.StatusCode)
		}

		a.logger.Debug("HTTP error response details",
			"status_code", resp.StatusCode,
			"content_type", resp.Header.Get("Content-Type"),
			"response_body", excerpt,
		)
		return delivery.HTTPError(resp.StatusCode, excerpt)
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return nil
}

// String is used in diagnostics; it never includes the secret.
func (a *Adapter) String() string {
	return fmt.Sprintf("openpanel(%s)", a.endpoint)
}
