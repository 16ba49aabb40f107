package packager

import (
	"errors"
	"fmt"
)

// Step identifies a pipeline stage for error reporting and exit codes.
type Step string

const (
	// StepBuild is the build tool invocation.
	StepBuild Step = "build"
	// StepDownload is the dependency archive download.
	StepDownload Step = "download"
	// StepIntegrity is the checksum verification of the downloaded archive.
	StepIntegrity Step = "integrity"
	// StepExtraction is the extraction of the pinned file from the archive.
	StepExtraction Step = "extraction"
	// StepCopy is the assembly of files into the output directory.
	StepCopy Step = "copy"
)

// Exit codes per failed step, for scripting callers.
const (
	ExitCodeSuccess    = 0
	ExitCodeBuild      = 1
	ExitCodeDownload   = 2
	ExitCodeIntegrity  = 3
	ExitCodeExtraction = 4
	ExitCodeCopy       = 5
	ExitCodeOther      = 6
)

// StepError wraps an underlying failure with the pipeline step it occurred in.
type StepError struct {
	// Step is the pipeline stage that failed.
	Step Step
	// Err is the underlying cause, surfaced verbatim to the user.
	Err error
}

// Error renders the step name together with the underlying cause.
func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *StepError) Unwrap() error {
	return e.Err
}

// stepError wraps err with the given step unless it is nil.
func stepError(step Step, err error) error {
	if err == nil {
		return nil
	}

	return &StepError{Step: step, Err: err}
}

// ExitCode maps an error to the process exit code contract:
// 0 success, 1 build, 2 download, 3 integrity, 4 extraction, 5 copy,
// 6 anything else (manifest, marker, usage).
func ExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}

	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		return ExitCodeOther
	}

	switch stepErr.Step {
	case StepBuild:
		return ExitCodeBuild
	case StepDownload:
		return ExitCodeDownload
	case StepIntegrity:
		return ExitCodeIntegrity
	case StepExtraction:
		return ExitCodeExtraction
	case StepCopy:
		return ExitCodeCopy
	default:
		return ExitCodeOther
	}
}
