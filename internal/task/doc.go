// Package task provides a bounded, in-process priority queue backed by a
// fixed pool of workers. Failed tasks are retried by demoting their priority
// rather than by sleeping, every execution holds a slot from a global
// concurrency permit, and task snapshots are written to an injected Store so
// callers can poll or wait for results without sharing queue internals.
package task
