// Package version exposes build version information.
package version

// Version is the current nightshift version. Overridden at build time via
// -ldflags "-X github.com/nightshift-run/nightshift/internal/version.Version=...".
var Version = "0.3.0-dev"

// Get returns the current version string.
func Get() string {
	return Version
}
