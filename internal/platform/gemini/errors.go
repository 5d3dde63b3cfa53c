package gemini

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/phrazzld/lookbook/internal/generation"
	"google.golang.org/genai"
)

// apiStatus extracts the HTTP status of a genai API error
func apiStatus(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, true
	}
	return 0, false
}

// classifyError maps a client error onto the generation sentinels
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, generation.ErrContentBlocked) ||
		errors.Is(err, generation.ErrInvalidResponse) ||
		errors.Is(err, generation.ErrTransientFailure) {
		return err
	}

	code, ok := apiStatus(err)
	switch {
	case !ok:
		return fmt.Errorf("%s: %w: %w", op, generation.ErrGenerationFailed, err)
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return fmt.Errorf("%s: %w: %w", op, generation.ErrTransientFailure, err)
	case code == http.StatusUnauthorized || code == http.StatusForbidden || code == http.StatusNotFound:
		return fmt.Errorf("%s: %w: %w", op, generation.ErrInvalidConfig, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, generation.ErrGenerationFailed, err)
	}
}
