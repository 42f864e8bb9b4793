// FILE: src/internal/version/version.go
package version

import "fmt"

// Injected at build time via -ldflags; the zero values identify a
// from-source build.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// String reports the full build identity line printed by -version.
func String() string {
	return fmt.Sprintf("mongowire %s (commit %s, built %s)", Version, GitCommit, BuildTime)
}

// Short reports the bare version tag.
func Short() string {
	return Version
}
