package verifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oshokin/release-packager/internal/logger"
	"github.com/oshokin/release-packager/internal/service/common"
)

var (
	errEmptyDescription = errors.New("bundle description is empty")
	errFileMissing      = errors.New("bundle file is missing")
	errChecksumMismatch = errors.New("bundle file checksum mismatch")
)

// Options are inputs accepted by the verifier entry point.
type Options struct {
	// DescriptionPath is the path to the bundle description YAML.
	DescriptionPath string
	// BundleDir is the assembled bundle directory to check.
	BundleDir string
}

// Run validates an assembled bundle against its description and is the
// public entry point for the CLI. It fails on the first missing file or
// checksum mismatch.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "release-verifier")

	desc, err := LoadDescription(opts.DescriptionPath)
	if err != nil {
		return err
	}

	if len(desc.Files) == 0 {
		return errEmptyDescription
	}

	logger.InfoKV(ctx, "Verifying bundle",
		"bundle_dir", opts.BundleDir,
		"files", len(desc.Files),
		"version", desc.VersionNumber)

	for name, expected := range desc.Files {
		if err = verifyFile(opts.BundleDir, name, expected); err != nil {
			return err
		}

		logger.DebugKV(ctx, "File verified", "file", name)
	}

	logger.Info(ctx, "Bundle verified successfully")

	return nil
}

// verifyFile compares one bundle file against its recorded checksum.
func verifyFile(bundleDir, name, expected string) error {
	path := filepath.Join(bundleDir, name)

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", name, errFileMissing)
		}

		return fmt.Errorf("stat %s: %w", name, err)
	}

	expectedSum, err := common.DecodeChecksum(expected)
	if err != nil {
		return fmt.Errorf("checksum for %s: %w", name, err)
	}

	actualSum, err := common.GetFileChecksum(path)
	if err != nil {
		return fmt.Errorf("hash %s: %w", name, err)
	}

	if !bytes.Equal(expectedSum, actualSum) {
		return fmt.Errorf("%s: expected %s, got %s: %w",
			name, expected, common.EncodeChecksum(actualSum), errChecksumMismatch)
	}

	return nil
}
