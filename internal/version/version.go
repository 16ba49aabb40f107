package version

import "fmt"

var (
	// Version is the semantic version of the release tooling.
	// Tagged builds override it via ldflags.
	Version = "0.1.0"
	// Commit is the short git SHA recorded at build time ("none" for local builds).
	Commit = "none"
	// BuildTime is the UTC timestamp recorded at build time.
	BuildTime = "unknown"
)

// Short returns only the semantic version string.
// It is what the packager records in bundle descriptions.
func Short() string {
	return Version
}

// Full renders the complete build fingerprint for CLI output.
func Full() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildTime)
}
