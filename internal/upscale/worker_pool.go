package upscale

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/sourcegraph/conc/panics"
)

// WorkerPool runs compute-bound functions on a fixed set of goroutines fed
// from a bounded backlog. It is owned by one ConcurrentUpscaler and must be
// shut down with it.
type WorkerPool struct {
	// work is the bounded backlog of submitted functions
	work chan func()

	// quit is closed by Shutdown to stop the workers
	quit chan struct{}

	// workerCount is the number of worker goroutines
	workerCount int

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	// once guards Shutdown
	once sync.Once

	// logger for structured logging
	logger *slog.Logger
}

// WorkerPoolConfig holds configuration options for the compute pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many worker goroutines to start.
	// If zero or negative, defaults to the number of CPUs
	WorkerCount int

	// Backlog is the number of submitted functions that may wait for a worker.
	// If zero or negative, defaults to four per worker
	Backlog int
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig sized to the machine
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	n := runtime.NumCPU()
	return WorkerPoolConfig{
		WorkerCount: n,
		Backlog:     4 * n,
	}
}

// NewWorkerPool starts a pool with the specified configuration
func NewWorkerPool(config WorkerPoolConfig, logger *slog.Logger) *WorkerPool {
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
		logger.Debug("worker count not specified, sizing to available CPUs",
			"specified_count", config.WorkerCount,
			"default_count", workerCount)
	}
	backlog := config.Backlog
	if backlog <= 0 {
		backlog = 4 * workerCount
	}

	p := &WorkerPool{
		work:        make(chan func(), backlog),
		quit:        make(chan struct{}),
		workerCount: workerCount,
		logger:      logger,
	}

	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logger.Debug("compute pool started", "worker_count", workerCount, "backlog", backlog)
	return p
}

// Workers returns the number of worker goroutines
func (p *WorkerPool) Workers() int {
	return p.workerCount
}

// TrySubmit queues fn without blocking. It fails with ErrResourceExhausted
// when the backlog is full.
func (p *WorkerPool) TrySubmit(fn func()) error {
	select {
	case <-p.quit:
		return ErrPoolClosed
	default:
	}

	select {
	case p.work <- fn:
		return nil
	default:
		return fmt.Errorf("%w: backlog %d reached", ErrResourceExhausted, cap(p.work))
	}
}

// Submit queues fn, waiting for backlog space until ctx is done
func (p *WorkerPool) Submit(ctx context.Context, fn func()) error {
	select {
	case <-p.quit:
		return ErrPoolClosed
	default:
	}

	select {
	case p.work <- fn:
		return nil
	case <-p.quit:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Shutdown has been called
func (p *WorkerPool) Done() <-chan struct{} {
	return p.quit
}

// Shutdown stops the workers after their current function returns and
// waits for them to exit. Queued functions that have not started are
// dropped. Calling Shutdown more than once is safe.
func (p *WorkerPool) Shutdown() {
	p.once.Do(func() {
		close(p.quit)
		p.wg.Wait()
		p.logger.Debug("compute pool stopped", "dropped", len(p.work))
	})
}

// worker runs submitted functions until Shutdown
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for {
		// quit takes priority over queued work
		select {
		case <-p.quit:
			return
		default:
		}

		select {
		case <-p.quit:
			return
		case fn := <-p.work:
			if r := panics.Try(fn); r != nil {
				p.logger.Error("compute function panicked",
					"worker_id", id,
					"panic", r.String())
			}
		}
	}
}
