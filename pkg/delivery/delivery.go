// Package delivery defines the boundary to the analytics backend: an Adapter
// performs the network call for exactly one event.
package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/docker/plugin-telemetry/pkg/event"
)

var ErrMissingClientID = errors.New("delivery: client id is required")

// Credentials authenticate the plugin against the analytics backend.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Adapter delivers one event. Send returns nil on success and an error,
// usually an *ErrorDetail, on any failure. Adapters must honor ctx so a
// stalled endpoint cannot stall a flush.
type Adapter interface {
	Configure(creds Credentials) error
	Send(ctx context.Context, name string, props *event.Properties) error
}

// ErrorDetail describes why a delivery failed. StatusCode is zero for
// transport errors.
type ErrorDetail struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *ErrorDetail) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *ErrorDetail) Unwrap() error {
	return e.Err
}

// HTTPError builds the detail of a non-2xx response.
func HTTPError(status int, body string) *ErrorDetail {
	return &ErrorDetail{
		StatusCode: status,
		Message:    fmt.Sprintf("HTTP %d: %s", status, body),
	}
}

// TransportError wraps a failure that happened before any response arrived.
func TransportError(err error) *ErrorDetail {
	return &ErrorDetail{Message: "transport error: " + err.Error(), Err: err}
}

// Func turns a function into an Adapter that needs no credentials.
type Func func(ctx context.Context, name string, props *event.Properties) error

func (f Func) Configure(Credentials) error {
	return nil
}

func (f Func) Send(ctx context.Context, name string, props *event.Properties) error {
	return f(ctx, name, props)
}
