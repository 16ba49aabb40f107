package integration

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/release-packager/internal/config"
	"github.com/oshokin/release-packager/internal/service/packager"
	"github.com/oshokin/release-packager/internal/service/verifier"
)

const (
	archiveInternalPath = "driver/bin/amd64/driver.dll"
	dependencyName      = "driver.dll"
)

// buildScript produces a deterministic fake binary per requested target.
const buildScript = `#!/bin/sh
mkdir -p artifacts
for t in "$@"; do
	printf 'binary %s' "$t" > "artifacts/$t"
done
`

// zipWithEntry builds an in-memory zip archive holding a single file.
func zipWithEntry(t *testing.T, name string, contents []byte) []byte {
	t.Helper()

	var buf bytes.Buffer

	w := zip.NewWriter(&buf)

	entry, err := w.Create(name)
	require.NoError(t, err)

	_, err = entry.Write(contents)
	require.NoError(t, err)

	require.NoError(t, w.Close())

	return buf.Bytes()
}

// startArchiveServer serves the archive bytes and counts how often it is hit.
func startArchiveServer(t *testing.T, archive []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)

		_, _ = w.Write(archive)
	}))
	t.Cleanup(server.Close)

	return server, &hits
}

// writeTestManifest persists a manifest pointing at the stub build tool and archive server.
func writeTestManifest(t *testing.T, dir string, m *config.Manifest) string {
	t.Helper()

	path := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, config.Save(path, m))

	return path
}

// newTestManifest assembles a manifest with the stub build script as build tool.
func newTestManifest(t *testing.T, dir, archiveURL, checksum string, targets []string) *config.Manifest {
	t.Helper()

	scriptPath := filepath.Join(dir, "build.sh")
	require.NoError(t, os.WriteFile(scriptPath, []byte(buildScript), 0o700))

	return &config.Manifest{
		Targets:      targets,
		BuildCommand: []string{"sh", scriptPath},
		ArtifactDir:  "artifacts",
		Dependency: config.Dependency{
			URL:         archiveURL,
			SHA256:      checksum,
			ArchivePath: archiveInternalPath,
		},
		OutputDir: "release",
		Timeout:   time.Minute,
	}
}

// hexSum returns the hex-encoded SHA-256 of the provided bytes.
func hexSum(contents []byte) string {
	sum := sha256.Sum256(contents)
	return hex.EncodeToString(sum[:])
}

// chdir switches the working directory for the duration of the test,
// restoring the previous directory on cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()

	previous, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		_ = os.Chdir(previous)
	})
}

// runContext returns a bounded context for one pipeline execution.
func runContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	return ctx
}

// TestPackager_AssemblesBundle drives the full pipeline and checks the bundle
// contains exactly the built targets plus the dependency file.
func TestPackager_AssemblesBundle(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	dependency := []byte("driver payload")
	archive := zipWithEntry(t, archiveInternalPath, dependency)
	server, _ := startArchiveServer(t, archive)

	targets := []string{"client-gui", "client-daemon"}
	manifest := newTestManifest(t, dir, server.URL+"/driver.zip", hexSum(archive), targets)
	manifestPath := writeTestManifest(t, dir, manifest)

	err := packager.Run(runContext(t), &packager.Options{ManifestPath: manifestPath})
	require.NoError(t, err)

	// Exactly one file per target plus the dependency, nothing else.
	entries, err := os.ReadDir("release")
	require.NoError(t, err)
	require.Len(t, entries, len(targets)+1)

	for _, target := range targets {
		contents, readErr := os.ReadFile(filepath.Join("release", target))
		require.NoError(t, readErr)
		require.Equal(t, []byte("binary "+target), contents)
	}

	extracted, err := os.ReadFile(filepath.Join("release", dependencyName))
	require.NoError(t, err)
	require.Equal(t, dependency, extracted)

	// The bundle description lands in the working directory, not the bundle.
	desc, err := verifier.LoadDescription(verifier.DescriptionFilename)
	require.NoError(t, err)
	require.Len(t, desc.Files, len(targets)+1)
	require.Equal(t, hexSum(dependency), desc.Files[dependencyName])
}

// TestPackager_IntegrityFailure ensures a checksum mismatch aborts the run
// before anything reaches the output directory.
func TestPackager_IntegrityFailure(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	archive := zipWithEntry(t, archiveInternalPath, []byte("driver payload"))
	server, _ := startArchiveServer(t, archive)

	wrongChecksum := hexSum([]byte("something else entirely"))
	manifest := newTestManifest(t, dir, server.URL+"/driver.zip", wrongChecksum, []string{"client-gui"})
	manifestPath := writeTestManifest(t, dir, manifest)

	err := packager.Run(runContext(t), &packager.Options{ManifestPath: manifestPath})
	require.Error(t, err)
	require.Equal(t, packager.ExitCodeIntegrity, packager.ExitCode(err))

	// The unverified dependency never reached the output directory.
	_, err = os.Stat("release")
	require.True(t, os.IsNotExist(err))
}

// TestPackager_SkipVerifyBypassesChecksum covers the discouraged debugging path.
func TestPackager_SkipVerifyBypassesChecksum(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	archive := zipWithEntry(t, archiveInternalPath, []byte("driver payload"))
	server, _ := startArchiveServer(t, archive)

	wrongChecksum := hexSum([]byte("something else entirely"))
	manifest := newTestManifest(t, dir, server.URL+"/driver.zip", wrongChecksum, nil)
	manifestPath := writeTestManifest(t, dir, manifest)

	err := packager.Run(runContext(t), &packager.Options{ManifestPath: manifestPath, SkipVerify: true})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join("release", dependencyName))
	require.NoError(t, err)
}

// TestPackager_SkipVerifyWithoutChecksum runs a manifest with no pinned
// checksum at all; with verification skipped the pipeline still completes.
func TestPackager_SkipVerifyWithoutChecksum(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	archive := zipWithEntry(t, archiveInternalPath, []byte("driver payload"))
	server, _ := startArchiveServer(t, archive)

	manifest := newTestManifest(t, dir, server.URL+"/driver.zip", "", nil)
	manifestPath := writeTestManifest(t, dir, manifest)

	err := packager.Run(runContext(t), &packager.Options{ManifestPath: manifestPath, SkipVerify: true})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join("release", dependencyName))
	require.NoError(t, err)
}

// TestPackager_MissingChecksumRejected ensures a checksum-less manifest is
// refused up front when verification is on: no build, no network traffic.
func TestPackager_MissingChecksumRejected(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	archive := zipWithEntry(t, archiveInternalPath, []byte("driver payload"))
	server, hits := startArchiveServer(t, archive)

	manifest := newTestManifest(t, dir, server.URL+"/driver.zip", "", []string{"client-gui"})
	manifestPath := writeTestManifest(t, dir, manifest)

	err := packager.Run(runContext(t), &packager.Options{ManifestPath: manifestPath})
	require.Error(t, err)
	require.Equal(t, packager.ExitCodeOther, packager.ExitCode(err))
	require.Equal(t, int32(0), hits.Load())

	// Nothing was built or assembled.
	_, err = os.Stat("artifacts")
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat("release")
	require.True(t, os.IsNotExist(err))
}

// TestPackager_BuildFailureSkipsFetch checks fail-fast ordering: a failed
// build means no network traffic and a build exit code carrying the tool's stderr.
func TestPackager_BuildFailureSkipsFetch(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	archive := zipWithEntry(t, archiveInternalPath, []byte("driver payload"))
	server, hits := startArchiveServer(t, archive)

	manifest := newTestManifest(t, dir, server.URL+"/driver.zip", hexSum(archive), []string{"client-gui"})
	manifest.BuildCommand = []string{"sh", "-c", "echo linker exploded >&2; exit 1"}
	manifestPath := writeTestManifest(t, dir, manifest)

	err := packager.Run(runContext(t), &packager.Options{ManifestPath: manifestPath})
	require.Error(t, err)
	require.Equal(t, packager.ExitCodeBuild, packager.ExitCode(err))
	require.Contains(t, err.Error(), "linker exploded")

	require.Equal(t, int32(0), hits.Load())
}

// TestPackager_EmptyTargetsStillFetches ensures the dependency pipeline runs
// even when there is nothing to build.
func TestPackager_EmptyTargetsStillFetches(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	dependency := []byte("driver payload")
	archive := zipWithEntry(t, archiveInternalPath, dependency)
	server, hits := startArchiveServer(t, archive)

	manifest := newTestManifest(t, dir, server.URL+"/driver.zip", hexSum(archive), nil)
	manifestPath := writeTestManifest(t, dir, manifest)

	err := packager.Run(runContext(t), &packager.Options{ManifestPath: manifestPath})
	require.NoError(t, err)
	require.Equal(t, int32(1), hits.Load())

	entries, err := os.ReadDir("release")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, dependencyName, entries[0].Name())
}

// TestPackager_DownloadFailure maps a non-2xx response to the download exit code.
func TestPackager_DownloadFailure(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	manifest := newTestManifest(t, dir, server.URL+"/driver.zip", hexSum([]byte("x")), nil)
	manifestPath := writeTestManifest(t, dir, manifest)

	err := packager.Run(runContext(t), &packager.Options{ManifestPath: manifestPath})
	require.Error(t, err)
	require.Equal(t, packager.ExitCodeDownload, packager.ExitCode(err))

	_, err = os.Stat("release")
	require.True(t, os.IsNotExist(err))
}

// TestPackager_InterruptMidDownload cancels the run while the archive body is
// still streaming: the partial download stays in scratch space, which is
// removed, and the output directory is never created.
func TestPackager_InterruptMidDownload(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	// Redirect scratch space so its cleanup can be observed.
	scratchRoot := filepath.Join(dir, "scratch")
	require.NoError(t, os.Mkdir(scratchRoot, 0o700))
	t.Setenv("TMPDIR", scratchRoot)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Send a few bytes, then interrupt the run and hold the
		// connection open until the client hangs up.
		_, _ = w.Write([]byte("partial"))
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}

		cancel()
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)

	manifest := newTestManifest(t, dir, server.URL+"/driver.zip", hexSum([]byte("x")), nil)
	manifestPath := writeTestManifest(t, dir, manifest)

	err := packager.Run(ctx, &packager.Options{ManifestPath: manifestPath})
	require.Error(t, err)
	require.Equal(t, packager.ExitCodeDownload, packager.ExitCode(err))

	// No partial file ever reached the output directory.
	_, err = os.Stat("release")
	require.True(t, os.IsNotExist(err))

	// The per-run scratch directory was cleaned up.
	entries, err := os.ReadDir(scratchRoot)
	require.NoError(t, err)
	require.Empty(t, entries)
}

// TestPackager_ArchivePathMissing maps an absent archive-internal path to the
// extraction exit code.
func TestPackager_ArchivePathMissing(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	archive := zipWithEntry(t, "unrelated/readme.txt", []byte("hello"))
	server, _ := startArchiveServer(t, archive)

	manifest := newTestManifest(t, dir, server.URL+"/driver.zip", hexSum(archive), nil)
	manifestPath := writeTestManifest(t, dir, manifest)

	err := packager.Run(runContext(t), &packager.Options{ManifestPath: manifestPath})
	require.Error(t, err)
	require.Equal(t, packager.ExitCodeExtraction, packager.ExitCode(err))
}

// TestPackager_Idempotent runs the pipeline twice against the same manifest
// and expects byte-identical bundle contents.
func TestPackager_Idempotent(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	dependency := []byte("driver payload")
	archive := zipWithEntry(t, archiveInternalPath, dependency)
	server, _ := startArchiveServer(t, archive)

	targets := []string{"client-gui", "client-daemon"}
	manifest := newTestManifest(t, dir, server.URL+"/driver.zip", hexSum(archive), targets)
	manifestPath := writeTestManifest(t, dir, manifest)

	options := &packager.Options{ManifestPath: manifestPath}
	require.NoError(t, packager.Run(runContext(t), options))

	first := readBundle(t, "release")

	require.NoError(t, packager.Run(runContext(t), options))
	require.Equal(t, first, readBundle(t, "release"))
}

// readBundle captures every file in the bundle directory by name and contents.
func readBundle(t *testing.T, dir string) map[string][]byte {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	bundle := make(map[string][]byte, len(entries))

	for _, entry := range entries {
		contents, readErr := os.ReadFile(filepath.Join(dir, entry.Name()))
		require.NoError(t, readErr)

		bundle[entry.Name()] = contents
	}

	return bundle
}
