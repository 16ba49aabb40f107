// Package common holds helpers shared by the packager and verifier services:
// checksum calculation and encoding, and the marker file that prevents two
// packager runs from racing on the same working directory.
package common
