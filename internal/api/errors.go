package api

import (
	"errors"
	"net/http"

	"github.com/phrazzld/lookbook/internal/pipeline"
	"github.com/phrazzld/lookbook/internal/redact"
	"github.com/phrazzld/lookbook/internal/task"
)

// errUploadTooLarge marks a request body or file over its limit
var errUploadTooLarge = errors.New("upload too large")

// MapErrorToStatusCode maps internal errors to HTTP status codes
func MapErrorToStatusCode(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, errUploadTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, pipeline.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrRequestNotFound), errors.Is(err, task.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, task.ErrResourceExhausted), errors.Is(err, task.ErrQueueStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err. Validation
// messages describe the client's own input and are passed through redacted.
func GetSafeErrorMessage(err error) string {
	var maxBytes *http.MaxBytesError
	switch {
	case err == nil:
		return "An unexpected error occurred"
	case errors.Is(err, errUploadTooLarge), errors.As(err, &maxBytes):
		return "Upload too large"
	case errors.Is(err, pipeline.ErrInvalidRequest):
		return redact.Error(err)
	case errors.Is(err, pipeline.ErrRequestNotFound):
		return "Request not found"
	case errors.Is(err, task.ErrResourceExhausted):
		return "Queue is full, retry later"
	case errors.Is(err, task.ErrQueueStopped):
		return "Service is shutting down"
	default:
		return "An unexpected error occurred"
	}
}
