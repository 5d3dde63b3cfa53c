// Package pipeline turns a lookbook request into finished artifacts.
//
// The Orchestrator drives one request through four stages: analysis of the
// reference photos, fan-out image generation, concurrent post-processing
// (upscaling and video synthesis as independent branches) and finalization,
// where artifacts are persisted and the catalogue report is built. The
// Service wraps the Orchestrator behind a TaskQueue so callers submit a
// request and poll for its status instead of holding a connection open.
package pipeline
