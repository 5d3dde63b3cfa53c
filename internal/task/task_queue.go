package task

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Config holds configuration for the task queue
type Config struct {
	// WorkerCount is the number of workers pulling from the queue
	WorkerCount int

	// MaxConcurrent bounds how many tasks execute at once across all workers
	// If zero or negative, defaults to WorkerCount
	MaxConcurrent int

	// Capacity is the maximum number of pending tasks accepted by AddTask
	Capacity int

	// RetryPenalty is added to a task's priority each time it is retried
	RetryPenalty int
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		WorkerCount:   4,
		MaxConcurrent: 4,
		Capacity:      100,
		RetryPenalty:  10,
	}
}

// Option customizes a TaskQueue
type Option func(*TaskQueue)

// WithStore replaces the default in-memory snapshot store
func WithStore(store Store) Option {
	return func(q *TaskQueue) {
		if store != nil {
			q.store = store
		}
	}
}

// WithObserver registers an observer for queue lifecycle notifications
func WithObserver(o Observer) Option {
	return func(q *TaskQueue) {
		if o != nil {
			q.observer = o
		}
	}
}

// entry is the queue-owned record of a task. All fields except job and id
// are guarded by TaskQueue.mu.
type entry struct {
	id         string
	job        Job
	priority   int
	seq        uint64
	index      int
	retryCount int
	maxRetries int
	fsm        *stateMachine
	result     any
	err        error
	createdAt  time.Time
	startedAt  time.Time
	endedAt    time.Time

	// done is closed once the task reaches a terminal state
	done chan struct{}
}

func (e *entry) snapshot() Task {
	t := Task{
		ID:         e.id,
		Kind:       e.job.Kind(),
		Priority:   e.priority,
		RetryCount: e.retryCount,
		MaxRetries: e.maxRetries,
		Status:     e.fsm.Current(),
		Result:     e.result,
		CreatedAt:  e.createdAt,
		StartedAt:  e.startedAt,
		EndedAt:    e.endedAt,
		Err:        e.err,
	}
	if e.err != nil {
		t.Error = e.err.Error()
	}
	return t
}

// TaskQueue is a bounded priority queue served by a fixed worker pool.
// Lower priority values run first; ties run in enqueue order.
type TaskQueue struct {
	config   Config
	store    Store
	observer Observer
	logger   *slog.Logger
	permits  *semaphore.Weighted

	mu        sync.Mutex
	pending   priorityHeap
	live      map[string]*entry
	seq       uint64
	started   bool
	stopped   bool
	active    int
	running   int
	completed int
	failed    int
	cancelled int

	// ready wakes idle workers after a push
	ready chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewTaskQueue creates a stopped queue. Call Start to begin processing.
func NewTaskQueue(config Config, logger *slog.Logger, opts ...Option) *TaskQueue {
	defaults := DefaultConfig()
	if config.WorkerCount <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", defaults.WorkerCount)
		config.WorkerCount = defaults.WorkerCount
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = config.WorkerCount
	}
	if config.Capacity <= 0 {
		logger.Warn("invalid queue capacity specified, using default",
			"specified_capacity", config.Capacity,
			"default_capacity", defaults.Capacity)
		config.Capacity = defaults.Capacity
	}
	if config.RetryPenalty < 0 {
		config.RetryPenalty = defaults.RetryPenalty
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &TaskQueue{
		config:   config,
		store:    NewMemoryStore(),
		observer: nopObserver{},
		logger:   logger.With("component", "task_queue"),
		permits:  semaphore.NewWeighted(int64(config.MaxConcurrent)),
		live:     make(map[string]*entry),
		ready:    make(chan struct{}, config.Capacity+config.WorkerCount),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// AddTask enqueues job with a generated id. It never blocks: when the queue
// already holds Capacity pending tasks it fails with ErrResourceExhausted.
func (q *TaskQueue) AddTask(job Job, priority, maxRetries int) (string, error) {
	return q.AddTaskWithID(uuid.NewString(), job, priority, maxRetries)
}

// AddTaskWithID enqueues job under a caller-chosen id. The id must not
// belong to a task that is still pending or running.
func (q *TaskQueue) AddTaskWithID(id string, job Job, priority, maxRetries int) (string, error) {
	if job == nil {
		return "", errors.New("job cannot be nil")
	}
	if id == "" {
		return "", errors.New("task id cannot be empty")
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return "", ErrQueueStopped
	}
	if _, exists := q.live[id]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateTask, id)
	}
	if q.pending.Len() >= q.config.Capacity {
		return "", fmt.Errorf("%w: capacity %d reached", ErrResourceExhausted, q.config.Capacity)
	}

	e := &entry{
		id:         id,
		job:        job,
		priority:   priority,
		maxRetries: maxRetries,
		fsm:        newStateMachine(),
		createdAt:  q.now(),
		done:       make(chan struct{}),
	}
	q.live[id] = e
	q.push(e)
	q.persist(e)

	q.logger.Debug("task enqueued",
		"task_id", id,
		"kind", job.Kind(),
		"priority", priority,
		"queue_len", q.pending.Len(),
		"queue_cap", q.config.Capacity)

	return id, nil
}

// GetResult returns the latest snapshot of a task without blocking
func (q *TaskQueue) GetResult(ctx context.Context, id string) (Task, error) {
	return q.store.Get(ctx, id)
}

// WaitForResult blocks until the task reaches a terminal state, the timeout
// elapses or ctx is done. A timeout only abandons the wait: the task keeps
// running and its result can still be read later. A non-positive timeout
// waits until ctx is done.
func (q *TaskQueue) WaitForResult(ctx context.Context, id string, timeout time.Duration) (Task, error) {
	q.mu.Lock()
	e, ok := q.live[id]
	q.mu.Unlock()

	if !ok {
		t, err := q.store.Get(ctx, id)
		if err != nil {
			return Task{}, err
		}
		if !t.Status.Terminal() {
			return Task{}, fmt.Errorf("%w: %s is not tracked by this queue", ErrTaskNotFound, id)
		}
		return t, nil
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-e.done:
		return q.store.Get(ctx, id)
	case <-expired:
		return Task{}, fmt.Errorf("%w: task %s after %s", ErrTimedOut, id, timeout)
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
}

// Status returns queue depth, worker activity and outcome counters
func (q *TaskQueue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	return QueueStatus{
		Depth:         q.pending.Len(),
		Capacity:      q.config.Capacity,
		Workers:       q.config.WorkerCount,
		ActiveWorkers: q.active,
		Running:       q.running,
		Completed:     q.completed,
		Failed:        q.failed,
		Cancelled:     q.cancelled,
	}
}

// Start launches the worker pool. Tasks added before Start are drained in
// priority order once the workers are up.
func (q *TaskQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return ErrQueueStopped
	}
	if q.started {
		return nil
	}
	q.started = true

	for i := 0; i < q.config.WorkerCount; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	q.logger.Info("task queue started",
		"worker_count", q.config.WorkerCount,
		"max_concurrent", q.config.MaxConcurrent,
		"capacity", q.config.Capacity)
	return nil
}

// Stop is a hard shutdown: every pending and running task is marked
// cancelled immediately, in-flight jobs see their context cancelled and any
// result they produce afterwards is discarded. Stop waits for workers to
// exit but not for cancelled jobs to return.
func (q *TaskQueue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.cancel()

	now := q.now()
	cancelled := 0
	for _, e := range q.live {
		wasRunning := e.fsm.Current() == StatusRunning
		if err := e.fsm.Transition(StatusCancelled); err != nil {
			continue
		}
		if wasRunning {
			q.running--
		}
		e.err = context.Canceled
		e.endedAt = now
		q.cancelled++
		cancelled++
		q.finish(e)
	}
	q.pending = nil
	q.live = make(map[string]*entry)
	q.observer.QueueDepth(0)
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Info("task queue stopped", "cancelled_tasks", cancelled)
}

// push adds e to the heap and wakes a worker. Caller holds q.mu.
func (q *TaskQueue) push(e *entry) {
	e.seq = q.seq
	q.seq++
	heap.Push(&q.pending, e)
	q.observer.QueueDepth(q.pending.Len())

	select {
	case q.ready <- struct{}{}:
	default:
		// enough wake-ups are already buffered
	}
}

// persist writes the current snapshot of e. Caller holds q.mu.
func (q *TaskQueue) persist(e *entry) {
	if err := q.store.Set(context.Background(), e.snapshot()); err != nil {
		q.logger.Error("failed to persist task snapshot",
			"task_id", e.id,
			"status", e.fsm.Current(),
			"error", err)
	}
}

// finish records a terminal snapshot and releases waiters. Caller holds q.mu.
func (q *TaskQueue) finish(e *entry) {
	q.persist(e)
	close(e.done)
	delete(q.live, e.id)
	q.observer.TaskFinished(e.job.Kind(), string(e.fsm.Current()), e.endedAt.Sub(e.createdAt))
}
