package packager

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/release-packager/internal/config"
	"github.com/oshokin/release-packager/internal/logger"
	"github.com/oshokin/release-packager/internal/service/common"
	"github.com/oshokin/release-packager/internal/service/verifier"
)

var (
	errPackagerAlreadyRunning = errors.New("the packager is already running")
	errChecksumNotPinned      = errors.New("dependency checksum is not pinned, refusing to package without --skip-verify")
	errBadHTTPStatus          = errors.New("unexpected http status")
	errChecksumMismatch       = errors.New("archive checksum mismatch")
	errArchivePathNotFound    = errors.New("path not found in archive")
	errArtifactMissing        = errors.New("build artifact not found")
)

// Options are inputs accepted by the packager entry point.
type Options struct {
	// ManifestPath is the optional path to the release manifest YAML.
	ManifestPath string
	// OutputDir overrides the manifest output directory when non-empty.
	OutputDir string
	// SkipVerify disables checksum verification of the downloaded archive.
	// For debugging only; the run logs a warning when it is set.
	SkipVerify bool
}

// runner holds the mutable state for a single packaging execution.
// It is intentionally unexported; call Run(ctx, Options) from callers.
type runner struct {
	manifest           *config.Manifest      // Release manifest loaded from YAML.
	skipVerify         bool                  // Whether archive verification is bypassed.
	temporaryDirectory string                // Per-run scratch space, removed on exit.
	archivePath        string                // Downloaded archive location in scratch space.
	dependencyPath     string                // Extracted dependency file in scratch space.
	desc               *verifier.Description // Checksums of everything copied into the bundle.
}

// Run executes the packaging pipeline and is the public entry point for the CLI.
// The pipeline is strictly sequential: build, download, verify, extract, copy.
// Any failure aborts the run; already-copied files are not rolled back and the
// final log line states whether the bundle is complete.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "release-packager")

	p, err := newRunner(ctx, opts)
	if err != nil {
		return err
	}

	defer p.cleanup(ctx)

	bundlePath, err := p.Run(ctx)
	if err != nil {
		logger.ErrorKV(ctx, "Packaging failed, bundle is incomplete", "error", err)
		return err
	}

	logger.InfoKV(ctx, "Bundle assembled", "path", bundlePath)

	return nil
}

// newRunner loads the manifest and writes a marker to avoid concurrent runs.
func newRunner(ctx context.Context, opts *Options) (*runner, error) {
	if common.IsPackagerRunningNow(ctx) {
		return nil, errPackagerAlreadyRunning
	}

	manifest, err := config.Load(opts.ManifestPath)
	if err != nil {
		return nil, err
	}

	if opts.OutputDir != "" {
		manifest.OutputDir = opts.OutputDir
	}

	// Refuse before any work is done; a checksum-less manifest is only
	// acceptable when verification is explicitly skipped.
	if !opts.SkipVerify && manifest.Dependency.SHA256 == "" {
		return nil, errChecksumNotPinned
	}

	if err = common.WriteMarker(); err != nil {
		return nil, fmt.Errorf("write packager marker: %w", err)
	}

	return &runner{
		manifest:   manifest,
		skipVerify: opts.SkipVerify,
		desc:       verifier.NewDescription(),
	}, nil
}

// Run executes the pipeline for this runner instance and returns the bundle path.
func (p *runner) Run(ctx context.Context) (string, error) {
	logger.InfoKV(ctx, "Building release targets", "targets", p.manifest.Targets)

	if err := p.buildTargets(ctx); err != nil {
		return "", stepError(StepBuild, err)
	}

	logger.InfoKV(ctx, "Downloading dependency archive", "url", p.manifest.Dependency.URL)

	if err := p.downloadArchive(ctx); err != nil {
		return "", stepError(StepDownload, err)
	}

	if err := p.verifyArchive(ctx); err != nil {
		return "", stepError(StepIntegrity, err)
	}

	logger.InfoKV(ctx, "Extracting dependency file", "path", p.manifest.Dependency.ArchivePath)

	if err := p.extractDependency(ctx); err != nil {
		return "", stepError(StepExtraction, err)
	}

	logger.InfoKV(ctx, "Assembling bundle", "output_dir", p.manifest.OutputDir)

	if err := p.assembleBundle(ctx); err != nil {
		return "", stepError(StepCopy, err)
	}

	return p.manifest.OutputDir, nil
}

// buildTargets invokes the build tool once with every target name.
// With no targets listed there is nothing to request and the tool is not run.
func (p *runner) buildTargets(ctx context.Context) error {
	if len(p.manifest.Targets) == 0 {
		logger.Info(ctx, "No build targets listed, skipping build tool invocation")
		return nil
	}

	args := append([]string(nil), p.manifest.BuildCommand[1:]...)
	for _, target := range p.manifest.Targets {
		if p.manifest.TargetFlag != "" {
			args = append(args, p.manifest.TargetFlag)
		}

		args = append(args, target)
	}

	buildCtx, cancel := context.WithTimeout(ctx, p.manifest.Timeout)
	defer cancel()

	var stderr bytes.Buffer

	cmd := exec.CommandContext(buildCtx, p.manifest.BuildCommand[0], args...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// Surface the tool's stderr verbatim so failures are diagnosable
		// without re-running the build.
		return fmt.Errorf("%s: %w: %s", p.manifest.BuildCommand[0], err, stderr.String())
	}

	for _, target := range p.manifest.Targets {
		artifact := p.artifactPath(target)
		if _, err := os.Stat(artifact); err != nil {
			return fmt.Errorf("%s: %w", artifact, errArtifactMissing)
		}
	}

	return nil
}

// downloadArchive fetches the dependency archive into a per-run temporary directory.
func (p *runner) downloadArchive(ctx context.Context) error {
	temporaryDirectory, err := os.MkdirTemp("", "release-packager-")
	if err != nil {
		return err
	}

	p.temporaryDirectory = temporaryDirectory

	downloadCtx, cancel := context.WithTimeout(ctx, p.manifest.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(downloadCtx, http.MethodGet, p.manifest.Dependency.URL, http.NoBody)
	if err != nil {
		return err
	}

	response, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%s, %s: %w", p.manifest.Dependency.URL, response.Status, errBadHTTPStatus)
	}

	archivePath := filepath.Join(p.temporaryDirectory, "dependency-archive")

	archiveFile, err := os.Create(filepath.Clean(archivePath))
	if err != nil {
		return err
	}

	if _, err = io.Copy(archiveFile, response.Body); err != nil {
		_ = archiveFile.Close()

		return err
	}

	if err = archiveFile.Close(); err != nil {
		return err
	}

	p.archivePath = archivePath
	logger.InfoKV(ctx, "Downloaded dependency archive", "path", archivePath)

	return nil
}

// verifyArchive compares the downloaded archive against the pinned checksum.
// Unverified content never reaches the output directory.
func (p *runner) verifyArchive(ctx context.Context) error {
	if p.skipVerify {
		logger.Warn(ctx, "Checksum verification is DISABLED, the dependency archive is trusted blindly")
		return nil
	}

	logger.Info(ctx, "Verifying dependency archive checksum")

	expected, err := common.DecodeChecksum(p.manifest.Dependency.SHA256)
	if err != nil {
		return err
	}

	actual, err := common.GetFileChecksum(p.archivePath)
	if err != nil {
		return err
	}

	if !bytes.Equal(expected, actual) {
		return fmt.Errorf("expected %s, got %s: %w",
			p.manifest.Dependency.SHA256, common.EncodeChecksum(actual), errChecksumMismatch)
	}

	return nil
}

// extractDependency pulls the pinned file out of the archive into scratch space.
func (p *runner) extractDependency(ctx context.Context) error {
	archive, err := zip.OpenReader(p.archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	defer func() {
		_ = archive.Close()
	}()

	entry, err := findArchiveEntry(archive, p.manifest.Dependency.ArchivePath)
	if err != nil {
		return err
	}

	contents, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open archive entry: %w", err)
	}

	defer func() {
		_ = contents.Close()
	}()

	// The destination is always a base name inside the scratch directory,
	// so hostile entry names cannot escape it.
	dependencyPath := filepath.Join(p.temporaryDirectory, filepath.Base(p.manifest.Dependency.ArchivePath))

	dependencyFile, err := os.Create(filepath.Clean(dependencyPath))
	if err != nil {
		return err
	}

	if _, err = io.Copy(dependencyFile, contents); err != nil {
		_ = dependencyFile.Close()

		return err
	}

	if err = dependencyFile.Close(); err != nil {
		return err
	}

	p.dependencyPath = dependencyPath
	logger.DebugKV(ctx, "Extracted dependency file", "path", dependencyPath)

	return nil
}

// findArchiveEntry locates the named file inside the archive.
func findArchiveEntry(archive *zip.ReadCloser, name string) (*zip.File, error) {
	for _, entry := range archive.File {
		if entry.Name == name {
			return entry, nil
		}
	}

	return nil, fmt.Errorf("%s: %w", name, errArchivePathNotFound)
}

// assembleBundle copies built binaries and the extracted dependency into the
// output directory, flat, overwriting existing files, and records checksums
// in the bundle description.
func (p *runner) assembleBundle(ctx context.Context) error {
	if err := os.MkdirAll(p.manifest.OutputDir, common.DefaultFileMode); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	for _, target := range p.manifest.Targets {
		name := target + common.ExecutableExtension()
		if err := p.installFile(ctx, p.artifactPath(target), name); err != nil {
			return err
		}
	}

	dependencyName := filepath.Base(p.manifest.Dependency.ArchivePath)
	if err := p.installFile(ctx, p.dependencyPath, dependencyName); err != nil {
		return err
	}

	if err := verifier.SaveDescription(verifier.DescriptionFilename, p.desc); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Saved bundle description", "path", verifier.DescriptionFilename)

	return nil
}

// installFile places one file into the bundle via checksum-enforced apply
// and records its checksum in the description.
func (p *runner) installFile(ctx context.Context, sourcePath, name string) error {
	data, err := os.ReadFile(filepath.Clean(sourcePath))
	if err != nil {
		return err
	}

	checksum, err := common.GetChecksum(data)
	if err != nil {
		return err
	}

	targetPath := filepath.Join(p.manifest.OutputDir, name)

	// go-update renames the existing target aside before applying,
	// so a missing target has to exist first.
	if _, err = os.Stat(targetPath); err != nil && os.IsNotExist(err) {
		var placeholder *os.File
		if placeholder, err = os.Create(filepath.Clean(targetPath)); err != nil {
			return err
		}

		if err = placeholder.Close(); err != nil {
			return err
		}
	}

	options := goupdate.Options{
		TargetPath: targetPath,
		TargetMode: common.DefaultFileMode,
		Checksum:   checksum,
		Hash:       common.DefaultChecksumFunction,
	}

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		return fmt.Errorf("install %s: %w", name, err)
	}

	// go-update leaves a backup of the replaced file behind.
	oldPath := targetPath + ".old"
	if _, err = os.Stat(oldPath); err == nil {
		_ = os.Remove(oldPath)
	}

	p.desc.Files[name] = common.EncodeChecksum(checksum)
	logger.InfoKV(ctx, "Copied file into bundle", "file", name)

	return nil
}

// artifactPath returns where the build tool leaves the named target.
func (p *runner) artifactPath(target string) string {
	return filepath.Join(p.manifest.ArtifactDir, target+common.ExecutableExtension())
}

// cleanup removes temporary artifacts and the running marker.
func (p *runner) cleanup(ctx context.Context) {
	common.RemoveMarker()

	if p.temporaryDirectory != "" {
		if _, err := os.Stat(p.temporaryDirectory); err == nil {
			_ = os.RemoveAll(p.temporaryDirectory)
		}
	}

	logger.Debug(ctx, "The packager has been stopped")
}
