package telemetry

import (
	"context"
	"log/slog"
)

// telemetryLogger wraps slog.Logger to automatically prepend "[Telemetry]" to all messages
type telemetryLogger struct {
	logger *slog.Logger
}

// NewTelemetryLogger creates a new telemetry logger that automatically prepends "[Telemetry]" to all messages
func NewTelemetryLogger(logger *slog.Logger) *telemetryLogger {
	return &telemetryLogger{logger: logger}
}

func (tl *telemetryLogger) Debug(msg string, args ...any) {
	tl.logger.Debug("[Telemetry] "+msg, args...)
}

func (tl *telemetryLogger) Info(msg string, args ...any) {
	tl.logger.Info("[Telemetry] "+msg, args...)
}

func (tl *telemetryLogger) Warn(msg string, args ...any) {
	tl.logger.Warn("[Telemetry] "+msg, args...)
}

func (tl *telemetryLogger) Error(msg string, args ...any) {
	tl.logger.Error("[Telemetry] "+msg, args...)
}

// Enabled returns whether the logger is enabled for the given level
func (tl *telemetryLogger) Enabled(ctx context.Context, level slog.Level) bool {
	return tl.logger.Enabled(ctx, level)
}

// component returns the underlying logger tagged for one collaborator.
func (tl *telemetryLogger) component(name string) *slog.Logger {
	return tl.logger.With("component", "telemetry."+name)
}
