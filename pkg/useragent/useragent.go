package useragent

import (
	"cmp"
	"fmt"
	"runtime"
	"strings"

	"github.com/docker/plugin-telemetry/pkg/version"
)

// Header identifies the telemetryctl tool itself.
var Header = fmt.Sprintf("telemetryctl/%s (%s; %s)", version.Version, runtime.GOOS, runtime.GOARCH)

// ForHost returns the User-Agent sent to the analytics endpoint on behalf of
// a host application, e.g. "plugin-telemetry/1.2.0 (WordPress/6.5; go/1.26.1)".
func ForHost(hostName, hostVersion string) string {
	host := cmp.Or(hostName, "unknown")
	if hostVersion != "" {
		host += "/" + hostVersion
	}
	return fmt.Sprintf("plugin-telemetry/%s (%s; go/%s)", version.Version, host, strings.TrimPrefix(runtime.Version(), "go"))
}
