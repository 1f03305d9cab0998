// Package logging builds the slog logger of telemetryctl.
package logging

import (
	"io"
	"log/slog"
)

// Options selects where and how verbosely telemetryctl logs.
type Options struct {
	// Debug enables logging at all. Without it every record is dropped.
	Debug bool
	// Path is the debug log file.
	Path string
	// MaxSize and MaxBackups tune rotation of Path; zero keeps the defaults.
	MaxSize    int64
	MaxBackups int
}

// New returns the logger and the closer of the underlying file. The closer is
// nil when nothing needs closing.
func New(o Options) (*slog.Logger, io.Closer, error) {
	if !o.Debug {
		return slog.New(slog.DiscardHandler), nil, nil
	}

	var opts []Option
	if o.MaxSize > 0 {
		opts = append(opts, WithMaxSize(o.MaxSize))
	}
	if o.MaxBackups > 0 {
		opts = append(opts, WithMaxBackups(o.MaxBackups))
	}

	f, err := OpenFile(o.Path, opts...)
	if err != nil {
		return nil, nil, err
	}

	return slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})), f, nil
}
