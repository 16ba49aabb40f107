// Package verifier re-checks an assembled release bundle against the bundle
// description emitted by the packager.
//
// It owns the Description type: the packager records checksums of everything
// it copies into the bundle, and the verifier confirms the directory still
// matches, reporting the first missing or altered file.
package verifier
