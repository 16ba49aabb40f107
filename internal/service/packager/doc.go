// Package packager assembles a reproducible release bundle.
//
// It runs a strictly sequential pipeline: invoke the build tool for the
// manifest targets, download the pinned dependency archive, verify it against
// the pinned SHA-256 checksum, extract the named file, and copy everything
// flat into the output directory. Each stage maps to a typed step error with
// its own exit code so scripting callers can tell failures apart.
package packager
