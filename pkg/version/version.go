package version

// Version is the released version of the library, overridden at build time
// with -ldflags "-X github.com/docker/plugin-telemetry/pkg/version.Version=...".
var Version = "dev"

// Commit is the git commit the binary was built from.
var Commit = "unknown"
