// Package dispatch turns outbox rows into delivery attempts.
//
// Flush follows an "attempt all, delete only successes" policy: every event
// read at the start of the cycle is tried in order, a failure never stops the
// cycle, and only the rows that were accepted are removed. Delivery is
// therefore at-least-once without head-of-line blocking.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/docker/plugin-telemetry/pkg/delivery"
	"github.com/docker/plugin-telemetry/pkg/event"
	"github.com/docker/plugin-telemetry/pkg/outbox"
)

const (
	DefaultSendTimeout = 5 * time.Second

	tracerName = "github.com/docker/plugin-telemetry/pkg/dispatch"
)

// Result summarizes one flush cycle.
type Result struct {
	Delivered []outbox.Event
	Failed    []outbox.Event
}

func (r Result) DeliveredCount() int {
	return len(r.Delivered)
}

// Remaining is the number of events of this cycle still in the outbox.
func (r Result) Remaining() int {
	return len(r.Failed)
}

// DeliveredNames returns the names of the delivered events, in order.
func (r Result) DeliveredNames() []string {
	names := make([]string, 0, len(r.Delivered))
	for _, e := range r.Delivered {
		names = append(names, e.Name)
	}
	return names
}

type Opt func(*Dispatcher)

func WithLogger(logger *slog.Logger) Opt {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithTracerProvider(tp trace.TracerProvider) Opt {
	return func(d *Dispatcher) {
		d.tracer = tp.Tracer(tracerName)
	}
}

// WithSendTimeout bounds every delivery attempt. Zero keeps the default.
func WithSendTimeout(timeout time.Duration) Opt {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.sendTimeout = timeout
		}
	}
}

type Dispatcher struct {
	adapter     delivery.Adapter
	outbox      *outbox.Outbox
	logger      *slog.Logger
	tracer      trace.Tracer
	sendTimeout time.Duration
}

func New(adapter delivery.Adapter, ob *outbox.Outbox, opts ...Opt) *Dispatcher {
	d := &Dispatcher{
		adapter:     adapter,
		outbox:      ob,
		logger:      slog.Default(),
		tracer:      otel.Tracer(tracerName),
		sendTimeout: DefaultSendTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SendNow makes one delivery attempt and reports whether it succeeded. The
// caller decides what to do with a failed event.
func (d *Dispatcher) SendNow(ctx context.Context, name string, props *event.Properties) bool {
	err := d.deliver(ctx, name, props, trace.WithAttributes(attribute.String("event.name", name)))
	return err == nil
}

// Flush attempts every event pending at the start of the call. Events
// appended while it runs wait for the next cycle. Cancelling ctx does not
// interrupt the cycle; each attempt is bounded by the send timeout instead.
func (d *Dispatcher) Flush(ctx context.Context) Result {
	ctx = context.WithoutCancel(ctx)

	ctx, span := d.tracer.Start(ctx, "telemetry.flush")
	defer span.End()

	var result Result

	events := d.outbox.DrainOrdered(ctx)
	span.SetAttributes(attribute.Int("telemetry.pending", len(events)))
	if len(events) == 0 {
		return result
	}

	for _, ev := range events {
		err := d.deliver(ctx, ev.Name, ev.Properties, trace.WithAttributes(
			attribute.String("event.name", ev.Name),
			attribute.Int64("event.id", ev.ID),
		))
		if err != nil {
			result.Failed = append(result.Failed, ev)
			continue
		}
		result.Delivered = append(result.Delivered, ev)
	}

	if len(result.Delivered) > 0 {
		ids := make([]int64, 0, len(result.Delivered))
		for _, ev := range result.Delivered {
			ids = append(ids, ev.ID)
		}
		d.outbox.Remove(ctx, ids)
	}

	span.SetAttributes(
		attribute.Int("telemetry.delivered", result.DeliveredCount()),
		attribute.Int("telemetry.remaining", result.Remaining()),
	)
	if result.Remaining() > 0 {
		span.SetStatus(codes.Error, "some events were not delivered")
	} else {
		span.SetStatus(codes.Ok, "")
	}

	d.logger.Debug("Flushed telemetry queue", "delivered", result.DeliveredCount(), "remaining", result.Remaining())
	return result
}

func (d *Dispatcher) deliver(ctx context.Context, name string, props *event.Properties, opts ...trace.SpanStartOption) error {
	ctx, span := d.tracer.Start(ctx, "telemetry.deliver", opts...)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	if err := d.adapter.Send(ctx, name, props); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		d.logger.Debug("Failed to deliver telemetry event", "event", name, "error", err)
		return err
	}

	span.SetStatus(codes.Ok, "")
	d.logger.Debug("Delivered telemetry event", "event", name)
	return nil
}
