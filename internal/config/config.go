package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Dependency pins a single third-party artifact fetched during packaging.
type Dependency struct {
	// URL is the HTTPS location of the dependency archive.
	URL string `yaml:"url"`
	// SHA256 is the hex-encoded checksum the downloaded archive must match.
	SHA256 string `yaml:"sha256"`
	// ArchivePath is the path inside the archive of the file to extract.
	ArchivePath string `yaml:"archive_path"`
}

// Manifest describes one release: what to build, what to fetch,
// and where to assemble the bundle.
type Manifest struct {
	// Targets is the ordered list of build-target names passed to the build tool.
	Targets []string `yaml:"targets"`
	// BuildCommand is the argv prefix of the build tool invocation.
	BuildCommand []string `yaml:"build_command"`
	// TargetFlag is inserted before each target name on the build command line.
	TargetFlag string `yaml:"target_flag"`
	// ArtifactDir is where the build tool leaves the built binaries.
	ArtifactDir string `yaml:"artifact_dir"`
	// Dependency pins the external archive and the file to extract from it.
	Dependency Dependency `yaml:"dependency"`
	// OutputDir is the bundle directory, created if absent.
	OutputDir string `yaml:"output_dir"`
	// Timeout bounds the build invocation and the archive download.
	Timeout time.Duration `yaml:"timeout"`
}

const (
	// DefaultManifestFilename is the default filename for the release manifest.
	DefaultManifestFilename = "release-manifest.yaml"

	// DefaultTimeout bounds build and download when the manifest does not set one.
	DefaultTimeout = 5 * time.Minute

	// DefaultFilePermissions is the default file permission for manifest files.
	DefaultFilePermissions = 0o600

	// sha256HexLength is the length of a hex-encoded SHA-256 checksum.
	sha256HexLength = 64
)

var (
	// errManifestIsNotSet is returned when a nil manifest is provided.
	errManifestIsNotSet = errors.New("manifest is not set")
	// errDependencyURLRequired is returned when the dependency URL is missing.
	errDependencyURLRequired = errors.New("dependency URL must be provided")
	// errChecksumMalformed is returned when a pinned checksum is not a full SHA-256 hex string.
	errChecksumMalformed = errors.New("dependency checksum must be a hex-encoded SHA-256 value")
	// errArchivePathRequired is returned when the archive-internal path is missing.
	errArchivePathRequired = errors.New("dependency archive path must be provided")
	// errOutputDirRequired is returned when the output directory is missing.
	errOutputDirRequired = errors.New("output directory must be provided")
	// errBuildCommandRequired is returned when targets are listed without a build command.
	errBuildCommandRequired = errors.New("build command must be provided when targets are listed")
)

// Load reads a manifest from the provided path and validates essential fields.
func Load(path string) (*Manifest, error) {
	if path == "" {
		path = DefaultManifestFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(contents, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}

	if err := Validate(&m); err != nil {
		return nil, err
	}

	return &m, nil
}

// Save writes the manifest to the provided path.
func Save(path string, m *Manifest) error {
	if m == nil {
		return errManifestIsNotSet
	}

	if path == "" {
		path = DefaultManifestFilename
	}

	if err := Validate(m); err != nil {
		return err
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	return nil
}

// Validate checks the provided manifest for required fields and formatting.
// Defaults are filled in place for omitted optional fields.
func Validate(m *Manifest) error {
	if m == nil {
		return errManifestIsNotSet
	}

	if m.Dependency.URL == "" {
		return errDependencyURLRequired
	}

	if _, err := url.ParseRequestURI(m.Dependency.URL); err != nil {
		return fmt.Errorf("invalid dependency URL: %w", err)
	}

	// An absent checksum is tolerated here; the packager refuses to run
	// without one unless verification is explicitly skipped.
	if err := validateChecksum(m.Dependency.SHA256); err != nil {
		return err
	}

	if m.Dependency.ArchivePath == "" {
		return errArchivePathRequired
	}

	if m.OutputDir == "" {
		return errOutputDirRequired
	}

	if len(m.Targets) > 0 && len(m.BuildCommand) == 0 {
		return errBuildCommandRequired
	}

	if m.Timeout <= 0 {
		m.Timeout = DefaultTimeout
	}

	return nil
}

// validateChecksum ensures a pinned checksum, when present, decodes as a full
// SHA-256 hex string.
func validateChecksum(sum string) error {
	if sum == "" {
		return nil
	}

	if len(sum) != sha256HexLength {
		return errChecksumMalformed
	}

	if _, err := hex.DecodeString(sum); err != nil {
		return fmt.Errorf("%w: %w", errChecksumMalformed, err)
	}

	return nil
}
