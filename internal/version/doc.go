// Package version exposes build metadata for the release tooling.
//
// Version, Commit, and BuildTime are injected at build time via Go ldflags
// and default to sensible values for local builds. Short feeds the version
// field of bundle descriptions; Full backs the `version` subcommand attached
// to both CLIs.
package version
