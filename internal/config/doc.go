// Package config defines the release manifest consumed by the packager and
// provides helpers to load, validate and save it in YAML format.
//
// The Manifest type holds the build targets, the build tool invocation, the
// pinned dependency archive, and the bundle output directory. Everything the
// packager needs is passed in explicitly; no ambient environment lookups.
package config
