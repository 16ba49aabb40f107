package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/release-packager/internal/config"
	"github.com/oshokin/release-packager/internal/logger"
	"github.com/oshokin/release-packager/internal/service/packager"
	"github.com/oshokin/release-packager/internal/version"
)

var (
	// manifestPath is the path to the release manifest YAML file.
	manifestPath string

	// outputDir overrides the manifest output directory when set.
	outputDir string

	// skipVerify disables checksum verification of the dependency archive.
	skipVerify bool

	// logLevel is the textual logging level applied before the run.
	logLevel string

	// rootCmd represents the base command for assembling a release bundle.
	rootCmd = &cobra.Command{
		Use:   "release-packager",
		Short: "Build release targets and assemble a verified bundle",
		Long: "Build the manifest targets with the configured build tool, download the pinned " +
			"dependency archive, verify it against the pinned SHA-256 checksum, extract the " +
			"dependency file, and copy everything flat into the output directory.",
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if level, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(level)
			}

			options := &packager.Options{
				ManifestPath: manifestPath,
				OutputDir:    outputDir,
				SkipVerify:   skipVerify,
			}

			return packager.Run(ctx, options)
		},
	}
)

// Execute runs the release-packager CLI and exits with a per-step status code on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(packager.ExitCode(err))
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&manifestPath, "config", "c", config.DefaultManifestFilename, "path to release manifest file")
	rootCmd.Flags().StringVarP(&outputDir, "out", "o", "", "override the bundle output directory")
	rootCmd.Flags().BoolVar(&skipVerify, "skip-verify", false, "skip dependency checksum verification (debugging only)")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "logging level (debug, info, warn, error)")
}
