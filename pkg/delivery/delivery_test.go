package delivery

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/plugin-telemetry/pkg/event"
)

func TestErrorDetail(t *testing.T) {
	t.Parallel()

	err := HTTPError(503, "maintenance")
	assert.Equal(t, "HTTP 503: maintenance", err.Error())
	assert.Equal(t, 503, err.StatusCode)

	cause := context.DeadlineExceeded
	var wrapped error = TransportError(cause)
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)

	var detail *ErrorDetail
	require.ErrorAs(t, wrapped, &detail)
	assert.Equal(t, 0, detail.StatusCode)

	assert.Equal(t, "boom", (&ErrorDetail{Err: errors.New("boom")}).Error())
}

func TestFunc(t *testing.T) {
	t.Parallel()

	var got string
	a := Func(func(_ context.Context, name string, _ *event.Properties) error {
		got = name
		return nil
	})

	require.NoError(t, a.Configure(Credentials{}))
	require.NoError(t, a.Send(t.Context(), "plugin_activated", nil))
	assert.Equal(t, "plugin_activated", got)
}

func TestLogSink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, sink.Send(t.Context(), "course_created", event.Of("course_id", 12)))
	assert.Contains(t, buf.String(), "course_created")
	assert.Contains(t, buf.String(), "course_id")
}
