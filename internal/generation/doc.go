// Package generation defines the contracts between the orchestration core and
// the external AI services that analyze garments and render images, and it
// provides the Executor that fans a batch of image generation jobs out to
// those services under a bounded concurrency cap.
//
// The Executor is partial-success tolerant: each job is isolated with its own
// timeout, retry schedule and panic recovery, and the batch only fails when
// no job succeeds at all.
package generation
