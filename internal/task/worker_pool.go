package task

import (
	"container/heap"
	"errors"
	"log/slog"

	"github.com/sourcegraph/conc/panics"
)

// worker pulls tasks until the queue is stopped
func (q *TaskQueue) worker(id int) {
	defer q.wg.Done()

	logger := q.logger.With("worker_id", id)
	logger.Debug("starting worker")

	for {
		if q.ctx.Err() != nil {
			logger.Debug("stopping worker")
			return
		}

		e := q.next()
		if e == nil {
			select {
			case <-q.ctx.Done():
				logger.Debug("stopping worker")
				return
			case <-q.ready:
				continue
			}
		}

		q.process(logger, e)
	}
}

// next pops the highest priority pending task, or nil when none is queued
func (q *TaskQueue) next() *entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped || q.pending.Len() == 0 {
		return nil
	}
	e := heap.Pop(&q.pending).(*entry)
	q.active++
	q.observer.QueueDepth(q.pending.Len())
	return e
}

type outcome struct {
	value any
	err   error
}

// process runs one attempt of e under the global concurrency permit
func (q *TaskQueue) process(logger *slog.Logger, e *entry) {
	defer func() {
		q.mu.Lock()
		q.active--
		q.mu.Unlock()
	}()

	// Acquire only fails once Stop has cancelled the context, and Stop has
	// already marked the entry cancelled.
	if err := q.permits.Acquire(q.ctx, 1); err != nil {
		return
	}
	defer q.permits.Release(1)

	q.mu.Lock()
	if err := e.fsm.Transition(StatusRunning); err != nil {
		q.mu.Unlock()
		return
	}
	e.startedAt = q.now()
	q.running++
	attempt := e.retryCount + 1
	q.observer.TaskStarted(e.job.Kind())
	q.persist(e)
	q.mu.Unlock()

	logger = logger.With("task_id", e.id, "kind", e.job.Kind(), "attempt", attempt)
	logger.Debug("processing task")

	// The job runs on its own goroutine so that Stop can release the worker
	// without waiting for a job that ignores cancellation.
	results := make(chan outcome, 1)
	go func() {
		var o outcome
		if r := panics.Try(func() { o.value, o.err = e.job.Run(q.ctx) }); r != nil {
			o.err = r.AsError()
		}
		results <- o
	}()

	select {
	case <-q.ctx.Done():
		logger.Debug("task abandoned by queue shutdown")
	case o := <-results:
		q.complete(logger, e, o)
	}
}

// complete applies the outcome of an attempt
func (q *TaskQueue) complete(logger *slog.Logger, e *entry, o outcome) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Stop may have cancelled the task while the job was returning
	if e.fsm.Current() != StatusRunning {
		return
	}
	q.running--
	now := q.now()
	elapsed := now.Sub(e.startedAt)

	if o.err == nil {
		_ = e.fsm.Transition(StatusCompleted)
		e.result = o.value
		e.err = nil
		e.endedAt = now
		q.completed++
		q.finish(e)
		logger.Info("task completed", "duration_ms", elapsed.Milliseconds())
		return
	}

	e.retryCount++
	e.err = o.err

	if e.retryCount <= e.maxRetries && !errors.Is(o.err, ErrPermanent) {
		_ = e.fsm.Transition(StatusPending)
		e.priority += q.config.RetryPenalty
		// Retries were admitted once already and bypass the capacity check
		q.push(e)
		q.persist(e)
		q.observer.TaskRetried(e.job.Kind())
		logger.Warn("task failed, re-enqueued with demoted priority",
			"error", o.err,
			"retry_count", e.retryCount,
			"max_retries", e.maxRetries,
			"priority", e.priority)
		return
	}

	_ = e.fsm.Transition(StatusFailed)
	e.endedAt = now
	q.failed++
	q.finish(e)
	logger.Error("task failed",
		"error", o.err,
		"retry_count", e.retryCount,
		"max_retries", e.maxRetries,
		"duration_ms", elapsed.Milliseconds())
}
