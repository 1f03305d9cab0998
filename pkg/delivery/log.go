package delivery

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/docker/plugin-telemetry/pkg/event"
)

// LogSink prints events instead of sending them. It is selected in debug mode
// so a developer can inspect payloads without polluting the analytics project.
type LogSink struct {
	Logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{Logger: logger}
}

func (s *LogSink) Configure(Credentials) error {
	return nil
}

func (s *LogSink) Send(_ context.Context, name string, props *event.Properties) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	output, err := json.MarshalIndent(props, "", "  ")
	if err != nil {
		logger.Error("Failed to marshal telemetry event", "event", name, "error", err)
		return err
	}
	logger.Info("event", "name", name, "properties", string(output))
	return nil
}
