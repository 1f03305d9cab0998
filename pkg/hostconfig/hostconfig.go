// Package hostconfig reads the YAML file describing a plugin installation.
// It is what telemetryctl loads, by default from
// ~/.config/plugin-telemetry/config.yaml.
package hostconfig

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
	"github.com/natefinch/atomic"

	"github.com/docker/plugin-telemetry/pkg/paths"
	"github.com/docker/plugin-telemetry/pkg/telemetry"
)

// CurrentVersion is the current version of the host config format
const CurrentVersion = "v1"

// Environment variables that take precedence over the file, so credentials
// do not have to be written to disk.
const (
	EnvAPIKey    = "TELEMETRY_API_KEY"
	EnvAPISecret = "TELEMETRY_API_SECRET"
	EnvEndpoint  = "TELEMETRY_ENDPOINT"
)

// File is the on-disk host configuration.
type File struct {
	// Version is the config format version
	Version string `yaml:"version,omitempty"`
	// Telemetry holds the installation settings passed to telemetry.New.
	Telemetry telemetry.Config `yaml:"telemetry"`
	// SettingsPath keeps consent and ledger keys in a YAML file instead of
	// the database. Edits to that file are picked up while running.
	SettingsPath string `yaml:"settings_path,omitempty"`
}

// Path returns the default location of the host config file.
func Path() string {
	return paths.DefaultConfigPath()
}

// Load reads the config at path. A missing file yields an empty config.
func Load(path string) (*File, error) {
	f := &File{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return f, nil
}

// Save writes the config atomically, creating the directory if needed.
func (f *File) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Ensure version is always set to current version when saving
	f.Version = CurrentVersion

	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return atomic.WriteFile(path, bytes.NewReader(data))
}

// TelemetryConfig returns the telemetry settings with environment overrides
// applied. Relative paths are resolved against the config file's directory.
func (f *File) TelemetryConfig(path string) telemetry.Config {
	cfg := f.Telemetry

	if v, ok := os.LookupEnv(EnvAPIKey); ok {
		cfg.APIKey = v
	}
	if v, ok := os.LookupEnv(EnvAPISecret); ok {
		cfg.APISecret = v
	}
	if v, ok := os.LookupEnv(EnvEndpoint); ok {
		cfg.Endpoint = v
	}

	cfg.DatabasePath = resolve(path, cfg.DatabasePath)
	return cfg
}

// ResolvedSettingsPath returns SettingsPath relative to the config file's
// directory, or "" when unset.
func (f *File) ResolvedSettingsPath(path string) string {
	return resolve(path, f.SettingsPath)
}

func resolve(configPath, p string) string {
	if p == "" || filepath.IsAbs(p) || configPath == "" {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}
