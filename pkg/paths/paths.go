package paths

import (
	"os"
	"path/filepath"
)

// GetConfigDir returns the user's config directory for plugin-telemetry.
//
// If the home directory cannot be determined, it falls back to a directory
// under the system temporary directory. This is a best-effort fallback and
// not intended to be a security boundary.
func GetConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Clean(filepath.Join(os.TempDir(), ".plugin-telemetry-config"))
	}
	return filepath.Clean(filepath.Join(homeDir, ".config", "plugin-telemetry"))
}

// GetDataDir returns the directory holding the telemetry database.
//
// If the home directory cannot be determined, it falls back to a directory
// under the system temporary directory.
func GetDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Clean(filepath.Join(os.TempDir(), ".plugin-telemetry"))
	}
	return filepath.Clean(filepath.Join(homeDir, ".plugin-telemetry"))
}

// DefaultDatabasePath is where the outbox and settings live when the host
// does not provide its own location.
func DefaultDatabasePath() string {
	return filepath.Join(GetDataDir(), "telemetry.db")
}

// DefaultConfigPath is the host configuration file read by telemetryctl.
func DefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.yaml")
}
