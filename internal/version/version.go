// Package version carries build-time metadata injected via -ldflags, used
// for rangectl's --version output and the user-agent string on outbound
// platform adapter requests.
package version

import (
	"fmt"
	"runtime"
)

// Build information, overridden by -ldflags -X at release build time.
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// FullVersion renders the full version string for `rangectl --version`.
func FullVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s, %s)", Version, GitCommit, BuildTime, GoVersion)
}

// UserAgent renders the string adapters send as their HTTP User-Agent.
func UserAgent() string {
	return fmt.Sprintf("cyberrange-control-plane/%s", Version)
}
