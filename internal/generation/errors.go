package generation

import (
	"errors"
	"fmt"
)

// Common errors returned by the generation package
var (
	// ErrGenerationFailed is returned when a generation call fails for any general reason
	ErrGenerationFailed = errors.New("failed to generate artifact")

	// ErrInvalidResponse is returned when a model response cannot be parsed or is malformed
	ErrInvalidResponse = errors.New("invalid response from model")

	// ErrContentBlocked is returned when the model blocks the content due to safety filters
	ErrContentBlocked = errors.New("content blocked by model safety filters")

	// ErrTransientFailure is returned for temporary errors that might resolve on retry
	ErrTransientFailure = errors.New("transient error during generation")

	// ErrInvalidConfig is returned when a component configuration is invalid
	ErrInvalidConfig = errors.New("invalid generation configuration")

	// ErrNoArtifact is returned when a call succeeds but produces no bytes
	ErrNoArtifact = errors.New("model returned no artifact")

	// ErrJobTimeout is returned when a single attempt exceeds the per-job timeout
	ErrJobTimeout = errors.New("generation job timed out")

	// ErrRetryBudgetExhausted is returned when the batch-wide retry budget is spent
	ErrRetryBudgetExhausted = errors.New("batch retry budget exhausted")

	// ErrPartialJobFailure marks a single job failure inside a batch. It is
	// recorded and excluded from the output, never escalated on its own.
	ErrPartialJobFailure = errors.New("generation job failed")

	// ErrNoSuccessfulJobs is the cause of a fatal batch failure
	ErrNoSuccessfulJobs = errors.New("no generation job succeeded")

	// ErrFatalStage matches every FatalStageError via errors.Is
	ErrFatalStage = errors.New("fatal pipeline stage error")
)

// FatalStageError aborts a whole request. It names the stage that failed and
// carries the underlying cause.
type FatalStageError struct {
	Stage string
	Err   error
}

// NewFatalStageError wraps err as a fatal failure of stage
func NewFatalStageError(stage string, err error) *FatalStageError {
	return &FatalStageError{Stage: stage, Err: err}
}

func (e *FatalStageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

// Unwrap returns the cause
func (e *FatalStageError) Unwrap() error {
	return e.Err
}

// Is reports true for ErrFatalStage
func (e *FatalStageError) Is(target error) bool {
	return target == ErrFatalStage
}

// IsRetryable reports whether err is worth another attempt. Safety blocks,
// malformed responses and configuration errors are permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrContentBlocked),
		errors.Is(err, ErrInvalidResponse),
		errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrRetryBudgetExhausted):
		return false
	}
	return true
}
