package upscale

import "errors"

// Common errors returned by the upscale package
var (
	// ErrResourceExhausted is returned when the compute pool backlog is full
	ErrResourceExhausted = errors.New("compute pool at capacity")

	// ErrPoolClosed is returned when work is submitted after Shutdown
	ErrPoolClosed = errors.New("compute pool is shut down")

	// ErrTileTooLarge is returned when a tile would exceed the per-tile pixel budget
	ErrTileTooLarge = errors.New("tile exceeds pixel budget")

	// ErrImageTooLarge is returned when the upscaled image would exceed the output budget
	ErrImageTooLarge = errors.New("upscaled image exceeds pixel budget")

	// ErrUnsupportedImage is returned when the artifact cannot be decoded
	ErrUnsupportedImage = errors.New("unsupported image data")

	// ErrInvalidConfig is returned when the upscaler configuration is invalid
	ErrInvalidConfig = errors.New("invalid upscaler configuration")
)
