package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/release-packager/internal/logger"
	"github.com/oshokin/release-packager/internal/service/verifier"
	"github.com/oshokin/release-packager/internal/version"
)

var (
	// descriptionPath is the path to the bundle description YAML file.
	descriptionPath string

	// bundleDir is the assembled bundle directory to check.
	bundleDir string

	// logLevel is the textual logging level applied before the run.
	logLevel string

	// rootCmd represents the base command for verifying an assembled bundle.
	rootCmd = &cobra.Command{
		Use:   "release-verifier",
		Short: "Verify an assembled bundle against its description",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if level, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(level)
			}

			options := &verifier.Options{
				DescriptionPath: descriptionPath,
				BundleDir:       bundleDir,
			}

			return verifier.Run(ctx, options)
		},
	}
)

// Execute runs the release-verifier CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&descriptionPath, "description", "d", verifier.DescriptionFilename, "path to bundle description file")
	rootCmd.Flags().StringVarP(&bundleDir, "bundle", "b", "release", "bundle directory to verify")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "logging level (debug, info, warn, error)")
}
