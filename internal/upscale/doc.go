// Package upscale runs compute-bound image upscaling on a dedicated worker
// pool, separate from the concurrency cap that bounds remote generation
// calls. A batch never loses keys: when every attempt for an artifact fails
// the original bytes are returned in its place.
package upscale
