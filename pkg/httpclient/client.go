package httpclient

import (
	"net/http"
	"time"

	"github.com/docker/plugin-telemetry/pkg/useragent"
)

type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	Header    http.Header
}

type Opt func(*HTTPOptions)

func WithUserAgent(ua string) Opt {
	return func(o *HTTPOptions) {
		o.UserAgent = ua
	}
}

// WithTimeout bounds the whole exchange, body included.
func WithTimeout(d time.Duration) Opt {
	return func(o *HTTPOptions) {
		o.Timeout = d
	}
}

// WithHeader adds a header to every request that does not set it already.
func WithHeader(key, value string) Opt {
	return func(o *HTTPOptions) {
		o.Header.Set(key, value)
	}
}

type userAgentTransport struct {
	agent  string
	header http.Header
	rt     http.RoundTripper
}

func (u *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r2 := req.Clone(req.Context())
	if r2.Header.Get("User-Agent") == "" {
		r2.Header.Set("User-Agent", u.agent)
	}
	for key, values := range u.header {
		if r2.Header.Get(key) == "" {
			r2.Header[key] = values
		}
	}
	return u.rt.RoundTrip(r2)
}

// NewHTTPClient returns a client that fills in a User-Agent (and any extra
// headers) on requests that don't carry one.
func NewHTTPClient(opts ...Opt) *http.Client {
	o := HTTPOptions{
		UserAgent: useragent.Header,
		Header:    make(http.Header),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &http.Client{
		Timeout: o.Timeout,
		Transport: &userAgentTransport{
			agent:  o.UserAgent,
			header: o.Header,
			rt:     http.DefaultTransport,
		},
	}
}
