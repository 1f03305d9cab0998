package root

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/docker/plugin-telemetry/pkg/hostconfig"
	"github.com/docker/plugin-telemetry/pkg/scheduler"
	"github.com/docker/plugin-telemetry/pkg/settings"
	"github.com/docker/plugin-telemetry/pkg/telemetry"
)

func (f *rootFlags) hostConfigPath() string {
	return cmp.Or(f.configPath, hostconfig.Path())
}

func (f *rootFlags) loadHostConfig() (*hostconfig.File, error) {
	return hostconfig.Load(f.hostConfigPath())
}

// openClient builds a client for the configured installation. The CLI runs
// one command and exits, so no ticker is started: periodic flushing belongs
// to the host process.
func (f *rootFlags) openClient(ctx context.Context) (*telemetry.Client, error) {
	host, err := f.loadHostConfig()
	if err != nil {
		return nil, err
	}

	path := f.hostConfigPath()
	opts := []telemetry.Opt{
		telemetry.WithScheduler(scheduler.NewManual()),
		telemetry.WithLogger(slog.Default()),
		telemetry.WithTracerProvider(otel.GetTracerProvider()),
	}
	if p := host.ResolvedSettingsPath(path); p != "" {
		opts = append(opts, telemetry.WithSettings(settings.NewFile(p)))
	}

	client, err := telemetry.New(ctx, host.TelemetryConfig(path), opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return client, nil
}
