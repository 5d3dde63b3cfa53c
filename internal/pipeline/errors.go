package pipeline

import (
	"errors"

	"github.com/phrazzld/lookbook/internal/generation"
)

// Common errors returned by the pipeline package
var (
	// ErrInvalidRequest is returned when a request fails validation
	ErrInvalidRequest = errors.New("invalid pipeline request")

	// ErrNoJobs is returned when the background configuration yields no jobs
	ErrNoJobs = errors.New("background configuration produced no generation jobs")

	// ErrRequestNotFound is returned when polling an unknown request id
	ErrRequestNotFound = errors.New("request not found")

	// ErrOptionalBranch wraps failures of optional work such as video
	// synthesis. These are logged and reported, never fatal.
	ErrOptionalBranch = errors.New("optional branch failed")

	// ErrInvalidConfig is returned when pipeline dependencies are missing
	ErrInvalidConfig = errors.New("invalid pipeline configuration")

	// ErrFatalStage matches any error that aborted a request
	ErrFatalStage = generation.ErrFatalStage
)

// FatalStageError aborts a request and names the failing stage
type FatalStageError = generation.FatalStageError
