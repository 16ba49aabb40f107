package common

import (
	"context"
	"errors"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/release-packager/internal/logger"
)

const (
	// MarkerFilename marks that a packager run is in progress to avoid parallel execution.
	MarkerFilename = "release-packager-marker.bin"

	// basePackagerExecutable is the packager binary name without platform extension.
	basePackagerExecutable = "release-packager"

	// markerLifetime is the period after which a stale packager marker is ignored.
	markerLifetime = 30 * time.Second
)

// IsPackagerRunningNow checks presence of a marker file and attempts recovery if it looks stale.
func IsPackagerRunningNow(ctx context.Context) bool {
	logger.Debug(ctx, "Checking for the presence of a packager marker")

	fileInfo, err := os.Stat(MarkerFilename)
	if err == nil {
		if time.Since(fileInfo.ModTime()) <= markerLifetime {
			return true
		}

		logger.Info(ctx, "The packager marker is too old, attempting cleanup")

		if err = terminateProcessByName(PackagerExecutable()); err != nil {
			return true
		}

		if err = os.Remove(MarkerFilename); err != nil {
			return true
		}

		return false
	}

	if errors.Is(err, os.ErrNotExist) {
		return false
	}

	logger.Infof(ctx, "Unable to read packager marker: %v", err)

	return false
}

// WriteMarker creates the marker file guarding against concurrent packager runs.
func WriteMarker() error {
	marker, err := os.Create(MarkerFilename)
	if err != nil {
		return err
	}

	return marker.Close()
}

// RemoveMarker deletes the marker file if present.
func RemoveMarker() {
	if _, err := os.Stat(MarkerFilename); err == nil {
		_ = os.Remove(MarkerFilename)
	}
}

// PackagerExecutable returns the packager binary name for the current platform.
func PackagerExecutable() string {
	return basePackagerExecutable + ExecutableExtension()
}

// ExecutableExtension returns ".exe" on Windows and "" elsewhere.
func ExecutableExtension() string {
	if strings.Contains(strings.ToLower(runtime.GOOS), "windows") {
		return ".exe"
	}

	return ""
}

// terminateProcessByName tries to kill processes with the provided executable name.
func terminateProcessByName(processName string) error {
	processList, err := ps.Processes()
	if err != nil {
		return err
	}

	thisProcessID := os.Getpid()

	for _, process := range processList {
		if process.Pid() == thisProcessID {
			continue
		}

		if process.Executable() != processName {
			continue
		}

		var runningProcess *os.Process

		runningProcess, err = os.FindProcess(process.Pid())
		if err != nil {
			return err
		}

		if err = runningProcess.Kill(); err != nil {
			return err
		}
	}

	return nil
}
