// Package gemini adapts Google's Gemini API to the generation collaborators.
//
// A single Client implements generation.Analyzer (structured JSON garment
// analysis), generation.ImageGenerator (image output conditioned on
// reference images) and generation.VideoSynthesizer (long-running video
// operations that are polled until done and then downloaded).
//
// API failures are translated to the generation package's sentinel errors:
// safety blocks become ErrContentBlocked, unparseable output becomes
// ErrInvalidResponse, and rate limiting or server errors become
// ErrTransientFailure so callers can decide whether to retry.
package gemini
