package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"
)

// StageGenerating names the generation stage in fatal errors
const StageGenerating = "generating"

// ExecutorConfig holds the bounds applied to a generation batch
type ExecutorConfig struct {
	// MaxConcurrency caps in-flight remote calls; the effective cap is
	// min(MaxConcurrency, batch size)
	MaxConcurrency int

	// JobTimeout bounds every single attempt
	JobTimeout time.Duration

	// MaxRetries is the number of retries after the first attempt
	MaxRetries int

	// BaseBackoff is the first retry delay; later delays double
	BaseBackoff time.Duration

	// MaxBackoff caps any single retry delay, jitter included
	MaxBackoff time.Duration

	// JitterPercent randomizes each delay by +/- this percentage
	JitterPercent int

	// RetryBudget caps retries across the whole batch.
	// If zero or negative, defaults to twice the batch size
	RetryBudget int

	// RequestsPerSecond throttles call starts across the batch. Zero disables it.
	RequestsPerSecond float64
}

// DefaultExecutorConfig returns an ExecutorConfig with reasonable defaults
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrency: 10,
		JobTimeout:     180 * time.Second,
		MaxRetries:     2,
		BaseBackoff:    time.Second,
		MaxBackoff:     30 * time.Second,
		JitterPercent:  25,
	}
}

// Recorder receives per-job and per-batch outcomes, typically for metrics
type Recorder interface {
	JobFinished(outcome string, attempts int, elapsed time.Duration)
	BatchFinished(requested, succeeded int)
}

type nopRecorder struct{}

func (nopRecorder) JobFinished(string, int, time.Duration) {}
func (nopRecorder) BatchFinished(int, int)                 {}

// JobFailure records why a job produced no artifact
type JobFailure struct {
	ID       string
	Attempts int
	Err      error
}

// BatchResult is the aggregate outcome of one Execute call
type BatchResult struct {
	// Variations holds succeeded jobs only, in submission order
	Variations *VariationMap

	// Failures lists failed jobs in submission order
	Failures []JobFailure

	// Requested is the number of jobs submitted
	Requested int

	// Elapsed is the wall-clock time of the batch
	Elapsed time.Duration
}

// Succeeded returns the number of jobs that produced an artifact
func (r *BatchResult) Succeeded() int {
	return r.Variations.Len()
}

// Executor fans a batch of jobs out to an ImageGenerator
type Executor struct {
	generator ImageGenerator
	config    ExecutorConfig
	logger    *slog.Logger
	limiter   *rate.Limiter
	recorder  Recorder
}

// ExecutorOption customizes an Executor
type ExecutorOption func(*Executor)

// WithRecorder registers a Recorder for job and batch outcomes
func WithRecorder(r Recorder) ExecutorOption {
	return func(e *Executor) {
		if r != nil {
			e.recorder = r
		}
	}
}

// NewExecutor validates config and creates an Executor
func NewExecutor(generator ImageGenerator, config ExecutorConfig, logger *slog.Logger, opts ...ExecutorOption) (*Executor, error) {
	if generator == nil {
		return nil, fmt.Errorf("%w: image generator cannot be nil", ErrInvalidConfig)
	}
	if config.MaxConcurrency <= 0 {
		return nil, fmt.Errorf("%w: max concurrency must be positive, got %d", ErrInvalidConfig, config.MaxConcurrency)
	}
	if config.JobTimeout <= 0 {
		return nil, fmt.Errorf("%w: job timeout must be positive", ErrInvalidConfig)
	}
	if config.MaxRetries < 0 {
		return nil, fmt.Errorf("%w: max retries cannot be negative", ErrInvalidConfig)
	}
	if config.BaseBackoff <= 0 {
		return nil, fmt.Errorf("%w: base backoff must be positive", ErrInvalidConfig)
	}
	if config.MaxBackoff < config.BaseBackoff {
		return nil, fmt.Errorf("%w: max backoff %s is below base backoff %s",
			ErrInvalidConfig, config.MaxBackoff, config.BaseBackoff)
	}
	if config.JitterPercent < 0 || config.JitterPercent > 100 {
		return nil, fmt.Errorf("%w: jitter percent must be within 0..100", ErrInvalidConfig)
	}

	e := &Executor{
		generator: generator,
		config:    config,
		logger:    logger.With("component", "generation_executor"),
		recorder:  nopRecorder{},
	}
	if config.RequestsPerSecond > 0 {
		burst := config.MaxConcurrency
		e.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type jobOutcome struct {
	data     []byte
	attempts int
	err      error
}

// Execute runs every job concurrently and returns the successes in
// submission order. One job's failure never cancels its siblings. The
// returned error is a FatalStageError when no job succeeded; the BatchResult
// is still returned so callers can inspect the failures.
func (e *Executor) Execute(ctx context.Context, jobs []Job) (*BatchResult, error) {
	start := time.Now()
	result := &BatchResult{
		Variations: NewVariationMap(len(jobs)),
		Requested:  len(jobs),
	}

	if len(jobs) == 0 {
		return result, NewFatalStageError(StageGenerating, fmt.Errorf("%w: empty batch", ErrNoSuccessfulJobs))
	}
	seen := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		if _, dup := seen[job.ID]; dup {
			return result, fmt.Errorf("%w: duplicate job id %q", ErrInvalidConfig, job.ID)
		}
		seen[job.ID] = struct{}{}
	}

	concurrency := min(e.config.MaxConcurrency, len(jobs))
	budget := &atomic.Int64{}
	if e.config.RetryBudget > 0 {
		budget.Store(int64(e.config.RetryBudget))
	} else {
		budget.Store(int64(2 * len(jobs)))
	}

	e.logger.InfoContext(ctx, "dispatching generation batch",
		"job_count", len(jobs),
		"concurrency", concurrency,
		"retry_budget", budget.Load())

	// Each goroutine owns one slot, so collection needs no lock
	outcomes := make([]jobOutcome, len(jobs))
	p := pool.New().WithMaxGoroutines(concurrency)
	for i := range jobs {
		p.Go(func() {
			outcomes[i] = e.runJob(ctx, jobs[i], budget)
		})
	}
	p.Wait()

	for i, job := range jobs {
		o := outcomes[i]
		if o.err != nil {
			result.Failures = append(result.Failures, JobFailure{
				ID:       job.ID,
				Attempts: o.attempts,
				Err:      fmt.Errorf("%w: %s: %w", ErrPartialJobFailure, job.ID, o.err),
			})
			continue
		}
		result.Variations.Set(job.ID, o.data)
	}
	result.Elapsed = time.Since(start)
	e.recorder.BatchFinished(result.Requested, result.Succeeded())

	e.logger.InfoContext(ctx, "generation batch finished",
		"requested", result.Requested,
		"succeeded", result.Succeeded(),
		"failed", len(result.Failures),
		"duration_ms", result.Elapsed.Milliseconds())

	if result.Succeeded() == 0 {
		return result, NewFatalStageError(StageGenerating,
			fmt.Errorf("%w: all %d jobs failed", ErrNoSuccessfulJobs, len(jobs)))
	}
	return result, nil
}

// backoff builds a fresh schedule for one job
func (e *Executor) backoff() retry.Backoff {
	b := retry.NewExponential(e.config.BaseBackoff)
	if e.config.JitterPercent > 0 {
		b = retry.WithJitterPercent(uint64(e.config.JitterPercent), b)
	}
	b = retry.WithCappedDuration(e.config.MaxBackoff, b)
	return retry.WithMaxRetries(uint64(e.config.MaxRetries), b)
}

func (e *Executor) runJob(ctx context.Context, job Job, budget *atomic.Int64) jobOutcome {
	start := time.Now()
	logger := e.logger.With("job_id", job.ID)
	attempts := 0

	data, err := retry.DoValue(ctx, e.backoff(), func(ctx context.Context) ([]byte, error) {
		attempts++
		data, err := e.attempt(ctx, job)
		if err == nil {
			return data, nil
		}

		logger.WarnContext(ctx, "generation attempt failed",
			"attempt", attempts,
			"error", err)

		if ctx.Err() != nil || !IsRetryable(err) || attempts > e.config.MaxRetries {
			return nil, err
		}
		if budget.Add(-1) < 0 {
			return nil, fmt.Errorf("%w: %w", ErrRetryBudgetExhausted, err)
		}
		return nil, retry.RetryableError(err)
	})

	elapsed := time.Since(start)
	if err != nil {
		e.recorder.JobFinished("failed", attempts, elapsed)
		logger.ErrorContext(ctx, "generation job failed",
			"attempts", attempts,
			"error", err,
			"duration_ms", elapsed.Milliseconds())
		return jobOutcome{attempts: attempts, err: err}
	}

	e.recorder.JobFinished("succeeded", attempts, elapsed)
	logger.DebugContext(ctx, "generation job succeeded",
		"attempts", attempts,
		"bytes", len(data),
		"duration_ms", elapsed.Milliseconds())
	return jobOutcome{data: data, attempts: attempts}
}

// attempt makes one bounded, panic-isolated call to the generator
func (e *Executor) attempt(ctx context.Context, job Job) ([]byte, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.config.JobTimeout)
	defer cancel()

	// A generator that ignores its context must still not stall the job
	calls := make(chan jobOutcome, 1)
	go func() {
		var o jobOutcome
		if r := panics.Try(func() {
			o.data, o.err = e.generator.Generate(callCtx, job.Prompt, job.References, job.FormatHint)
		}); r != nil {
			o.err = fmt.Errorf("%w: %w", ErrGenerationFailed, r.AsError())
		}
		calls <- o
	}()

	var data []byte
	var err error
	select {
	case o := <-calls:
		data, err = o.data, o.err
	case <-callCtx.Done():
		err = callCtx.Err()
	}

	if err == nil && len(data) == 0 {
		err = ErrNoArtifact
	}
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %w", ErrJobTimeout, e.config.JobTimeout, err)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
