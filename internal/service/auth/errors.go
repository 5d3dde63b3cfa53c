package auth

import "errors"

// Common authentication errors
var (
	// ErrInvalidToken indicates the token format is invalid or signature doesn't match
	ErrInvalidToken = errors.New("invalid authentication token")

	// ErrExpiredToken indicates the token has expired
	ErrExpiredToken = errors.New("authentication token has expired")

	// ErrTokenNotYetValid indicates the token is not yet valid (nbf claim in the future)
	ErrTokenNotYetValid = errors.New("authentication token not yet valid")

	// ErrInvalidAPIKey indicates no configured hash matches the presented key
	ErrInvalidAPIKey = errors.New("invalid api key")

	// ErrInvalidConfig indicates an unusable secret or hash
	ErrInvalidConfig = errors.New("invalid auth configuration")
)
