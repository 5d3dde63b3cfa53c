package task

import (
	"context"
	"errors"
	"time"
)

// Status represents the lifecycle state of a task
type Status string

// Possible task status values
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Common errors returned by the TaskQueue
var (
	ErrResourceExhausted = errors.New("task queue at capacity")
	ErrTimedOut          = errors.New("timed out waiting for task result")
	ErrTaskNotFound      = errors.New("task not found")
	ErrQueueStopped      = errors.New("task queue is stopped")
	ErrDuplicateTask     = errors.New("task id already in use")

	// ErrPermanent may be wrapped by a job error to skip remaining retries.
	ErrPermanent = errors.New("permanent task failure")
)

// Job is the unit of work executed by the queue. The queue never inspects
// a job beyond its Kind, which is used for logging and metrics.
type Job interface {
	// Kind identifies the job type, e.g. "pipeline"
	Kind() string

	// Run executes the job. The context is cancelled when the queue stops.
	Run(ctx context.Context) (any, error)
}

// FuncJob adapts a plain function to the Job interface
type FuncJob struct {
	Name string
	Fn   func(ctx context.Context) (any, error)
}

// Kind returns the job name, or "func" when unset
func (j FuncJob) Kind() string {
	if j.Name == "" {
		return "func"
	}
	return j.Name
}

// Run calls the wrapped function
func (j FuncJob) Run(ctx context.Context) (any, error) {
	return j.Fn(ctx)
}

// Task is a point-in-time snapshot of a queued task. Snapshots are what the
// Store persists and what callers receive from GetResult and WaitForResult.
type Task struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Priority   int       `json:"priority"`
	RetryCount int       `json:"retry_count"`
	MaxRetries int       `json:"max_retries"`
	Status     Status    `json:"status"`
	Result     any       `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	EndedAt    time.Time `json:"ended_at,omitempty"`

	// Err is the last error returned by the job, kept for errors.Is checks
	Err error `json:"-"`
}

// QueueStatus summarizes the queue at a point in time
type QueueStatus struct {
	Depth         int `json:"depth"`
	Capacity      int `json:"capacity"`
	Workers       int `json:"workers"`
	ActiveWorkers int `json:"active_workers"`
	Running       int `json:"running"`
	Completed     int `json:"completed"`
	Failed        int `json:"failed"`
	Cancelled     int `json:"cancelled"`
}

// Observer receives queue lifecycle notifications, typically for metrics.
// Calls are made while the queue lock is held and must not block.
type Observer interface {
	TaskStarted(kind string)
	TaskRetried(kind string)
	TaskFinished(kind, status string, elapsed time.Duration)
	QueueDepth(depth int)
}

type nopObserver struct{}

func (nopObserver) TaskStarted(string)                        {}
func (nopObserver) TaskRetried(string)                        {}
func (nopObserver) TaskFinished(string, string, time.Duration) {}
func (nopObserver) QueueDepth(int)                            {}
