// Package buildinfo holds the process-wide version string surfaced by
// -version, the control plane's GET /health, and startup logging.
package buildinfo

import (
	"fmt"

	"golang.org/x/mod/semver"
)

// Version is the build's semantic version. Overridden at link time via
// -ldflags "-X .../internal/buildinfo.Version=v1.2.3"; defaults to a
// development placeholder when built without that flag.
var Version = "v0.0.0-dev"

// Validate reports whether Version is well-formed per semver.IsValid,
// prefixing a "v" if the caller's override omitted it.
func Validate() error {
	v := Version
	if len(v) == 0 || v[0] != 'v' {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return fmt.Errorf("buildinfo: invalid version %q", Version)
	}
	return nil
}
