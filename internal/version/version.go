// Package version exposes build metadata stamped at link time.
//
// Release builds inject the values with -ldflags, for example:
//
//	-X github.com/vclink/vssclient/internal/version.Commit=$(git rev-parse --short HEAD)
//
// A plain go build keeps the dev defaults.
package version

import "fmt"

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// String renders the version line logged at startup.
func String() string {
	return fmt.Sprintf("%s (%s) built %s", Version, Commit, BuildTime)
}
