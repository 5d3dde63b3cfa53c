package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func testExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrency: 4,
		JobTimeout:     time.Second,
		MaxRetries:     2,
		BaseBackoff:    time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		JitterPercent:  25,
	}
}

func makeJobs(n int) []Job {
	jobs := make([]Job, n)
	for i := range jobs {
		jobs[i] = Job{
			ID:         fmt.Sprintf("frontside_white_%d", i+1),
			Prompt:     fmt.Sprintf("prompt %d", i+1),
			FormatHint: "9:16",
		}
	}
	return jobs
}

// MockGenerator implements ImageGenerator with a pluggable function
type MockGenerator struct {
	GenerateFn func(ctx context.Context, prompt string) ([]byte, error)
	calls      sync.Map
}

func (m *MockGenerator) Generate(ctx context.Context, prompt string, _ []Reference, _ string) ([]byte, error) {
	v, _ := m.calls.LoadOrStore(prompt, new(atomic.Int32))
	v.(*atomic.Int32).Add(1)
	return m.GenerateFn(ctx, prompt)
}

func (m *MockGenerator) Calls(prompt string) int {
	v, ok := m.calls.Load(prompt)
	if !ok {
		return 0
	}
	return int(v.(*atomic.Int32).Load())
}

func newTestExecutor(t *testing.T, gen ImageGenerator, cfg ExecutorConfig) *Executor {
	t.Helper()
	e, err := NewExecutor(gen, cfg, testLogger())
	require.NoError(t, err)
	return e
}

func TestNewExecutor_Validation(t *testing.T) {
	t.Parallel()

	gen := ImageGeneratorFunc(func(context.Context, string, []Reference, string) ([]byte, error) {
		return []byte("x"), nil
	})

	tests := []struct {
		name   string
		gen    ImageGenerator
		mutate func(*ExecutorConfig)
	}{
		{"nil generator", nil, func(*ExecutorConfig) {}},
		{"zero concurrency", gen, func(c *ExecutorConfig) { c.MaxConcurrency = 0 }},
		{"zero timeout", gen, func(c *ExecutorConfig) { c.JobTimeout = 0 }},
		{"negative retries", gen, func(c *ExecutorConfig) { c.MaxRetries = -1 }},
		{"zero base backoff", gen, func(c *ExecutorConfig) { c.BaseBackoff = 0 }},
		{"cap below base", gen, func(c *ExecutorConfig) { c.MaxBackoff = c.BaseBackoff / 2 }},
		{"jitter out of range", gen, func(c *ExecutorConfig) { c.JitterPercent = 150 }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testExecutorConfig()
			tt.mutate(&cfg)
			_, err := NewExecutor(tt.gen, cfg, testLogger())
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestExecutor_VariationMapHoldsExactlySuccesses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		n       int
		succeed func(i int) bool
	}{
		{"all succeed", 6, func(int) bool { return true }},
		{"odd succeed", 7, func(i int) bool { return i%2 == 1 }},
		{"only last", 5, func(i int) bool { return i == 5 }},
		{"seven of nine", 9, func(i int) bool { return i != 3 && i != 8 }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			jobs := makeJobs(tt.n)
			want := map[string]bool{}
			byPrompt := map[string]bool{}
			for i, j := range jobs {
				ok := tt.succeed(i + 1)
				byPrompt[j.Prompt] = ok
				if ok {
					want[j.ID] = true
				}
			}

			gen := &MockGenerator{GenerateFn: func(ctx context.Context, prompt string) ([]byte, error) {
				if byPrompt[prompt] {
					return []byte("img:" + prompt), nil
				}
				return nil, ErrContentBlocked
			}}

			res, err := newTestExecutor(t, gen, testExecutorConfig()).Execute(context.Background(), jobs)
			require.NoError(t, err)

			assert.Equal(t, len(want), res.Variations.Len())
			assert.Equal(t, tt.n, res.Requested)
			assert.Len(t, res.Failures, tt.n-len(want))
			for _, k := range res.Variations.Keys() {
				assert.True(t, want[k], "unexpected key %s", k)
			}
			for _, f := range res.Failures {
				assert.False(t, want[f.ID])
				assert.ErrorIs(t, f.Err, ErrPartialJobFailure)
				assert.ErrorIs(t, f.Err, ErrContentBlocked)
				assert.Equal(t, 1, f.Attempts, "permanent failures must not be retried")
			}
		})
	}
}

func TestExecutor_KeysFollowSubmissionOrder(t *testing.T) {
	t.Parallel()

	jobs := makeJobs(5)
	delays := map[string]time.Duration{}
	for i, j := range jobs {
		delays[j.Prompt] = time.Duration(len(jobs)-i) * 10 * time.Millisecond
	}
	gen := &MockGenerator{GenerateFn: func(ctx context.Context, prompt string) ([]byte, error) {
		time.Sleep(delays[prompt])
		return []byte(prompt), nil
	}}

	cfg := testExecutorConfig()
	cfg.MaxConcurrency = 5
	res, err := newTestExecutor(t, gen, cfg).Execute(context.Background(), jobs)
	require.NoError(t, err)

	var ids []string
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	assert.Equal(t, ids, res.Variations.Keys())
}

func TestExecutor_AllFailIsFatal(t *testing.T) {
	t.Parallel()

	gen := &MockGenerator{GenerateFn: func(context.Context, string) ([]byte, error) {
		return nil, ErrInvalidResponse
	}}

	res, err := newTestExecutor(t, gen, testExecutorConfig()).Execute(context.Background(), makeJobs(3))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFatalStage)
	assert.ErrorIs(t, err, ErrNoSuccessfulJobs)

	var stageErr *FatalStageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageGenerating, stageErr.Stage)

	require.NotNil(t, res)
	assert.Equal(t, 0, res.Succeeded())
	assert.Len(t, res.Failures, 3)
}

func TestExecutor_EmptyBatchIsFatal(t *testing.T) {
	t.Parallel()

	gen := &MockGenerator{GenerateFn: func(context.Context, string) ([]byte, error) { return []byte("x"), nil }}
	_, err := newTestExecutor(t, gen, testExecutorConfig()).Execute(context.Background(), nil)
	assert.ErrorIs(t, err, ErrFatalStage)
}

func TestExecutor_DuplicateJobIDs(t *testing.T) {
	t.Parallel()

	gen := &MockGenerator{GenerateFn: func(context.Context, string) ([]byte, error) { return []byte("x"), nil }}
	jobs := []Job{{ID: "a", Prompt: "1"}, {ID: "a", Prompt: "2"}}

	_, err := newTestExecutor(t, gen, testExecutorConfig()).Execute(context.Background(), jobs)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, 0, gen.Calls("1"))
}

func TestExecutor_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	gen := &MockGenerator{}
	gen.GenerateFn = func(ctx context.Context, prompt string) ([]byte, error) {
		if gen.Calls(prompt) < 3 {
			return nil, ErrTransientFailure
		}
		return []byte("ok"), nil
	}

	jobs := makeJobs(2)
	res, err := newTestExecutor(t, gen, testExecutorConfig()).Execute(context.Background(), jobs)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded())
	for _, j := range jobs {
		assert.Equal(t, 3, gen.Calls(j.Prompt))
	}
}

func TestExecutor_RetriesAreBounded(t *testing.T) {
	t.Parallel()

	gen := &MockGenerator{GenerateFn: func(ctx context.Context, prompt string) ([]byte, error) {
		if prompt == "prompt 1" {
			return []byte("ok"), nil
		}
		return nil, ErrTransientFailure
	}}

	jobs := makeJobs(2)
	res, err := newTestExecutor(t, gen, testExecutorConfig()).Execute(context.Background(), jobs)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded())
	assert.Equal(t, 3, gen.Calls("prompt 2"), "one attempt plus MaxRetries retries")
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 3, res.Failures[0].Attempts)
}

func TestExecutor_RetryBudgetCapsBatchRetries(t *testing.T) {
	t.Parallel()

	gen := &MockGenerator{GenerateFn: func(ctx context.Context, prompt string) ([]byte, error) {
		if prompt == "prompt 1" {
			return []byte("ok"), nil
		}
		return nil, ErrTransientFailure
	}}

	cfg := testExecutorConfig()
	cfg.MaxRetries = 5
	cfg.RetryBudget = 2
	jobs := makeJobs(4)

	res, err := newTestExecutor(t, gen, cfg).Execute(context.Background(), jobs)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded())

	total := 0
	for _, j := range jobs[1:] {
		total += gen.Calls(j.Prompt)
	}
	// three failing jobs, one attempt each plus at most two budgeted retries
	assert.LessOrEqual(t, total, 3+2)

	exhausted := 0
	for _, f := range res.Failures {
		if errors.Is(f.Err, ErrRetryBudgetExhausted) {
			exhausted++
		}
	}
	assert.GreaterOrEqual(t, exhausted, 1)
}

func TestExecutor_PerJobTimeoutDoesNotBlockSiblings(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	gen := &MockGenerator{GenerateFn: func(ctx context.Context, prompt string) ([]byte, error) {
		if prompt == "prompt 2" {
			<-block // ignores ctx on purpose
			return nil, nil
		}
		return []byte("ok"), nil
	}}

	cfg := testExecutorConfig()
	cfg.JobTimeout = 50 * time.Millisecond
	cfg.MaxRetries = 0

	start := time.Now()
	res, err := newTestExecutor(t, gen, cfg).Execute(context.Background(), makeJobs(3))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, 2, res.Succeeded())
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "frontside_white_2", res.Failures[0].ID)
	assert.ErrorIs(t, res.Failures[0].Err, ErrJobTimeout)
}

func TestExecutor_PanicIsIsolated(t *testing.T) {
	t.Parallel()

	gen := &MockGenerator{GenerateFn: func(ctx context.Context, prompt string) ([]byte, error) {
		if prompt == "prompt 1" {
			panic("renderer crashed")
		}
		return []byte("ok"), nil
	}}

	cfg := testExecutorConfig()
	cfg.MaxRetries = 0
	res, err := newTestExecutor(t, gen, cfg).Execute(context.Background(), makeJobs(3))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded())
	require.Len(t, res.Failures, 1)
	assert.ErrorIs(t, res.Failures[0].Err, ErrGenerationFailed)
	assert.Contains(t, res.Failures[0].Err.Error(), "renderer crashed")
}

func TestExecutor_EmptyArtifactCountsAsFailure(t *testing.T) {
	t.Parallel()

	gen := &MockGenerator{GenerateFn: func(ctx context.Context, prompt string) ([]byte, error) {
		if prompt == "prompt 1" {
			return nil, nil
		}
		return []byte("ok"), nil
	}}

	cfg := testExecutorConfig()
	cfg.MaxRetries = 1
	res, err := newTestExecutor(t, gen, cfg).Execute(context.Background(), makeJobs(2))
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.ErrorIs(t, res.Failures[0].Err, ErrNoArtifact)
	assert.Equal(t, 2, gen.Calls("prompt 1"))
}

func TestExecutor_ConcurrencyCap(t *testing.T) {
	t.Parallel()

	var current, peak atomic.Int32
	gen := &MockGenerator{GenerateFn: func(ctx context.Context, prompt string) ([]byte, error) {
		n := current.Add(1)
		defer current.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		return []byte("ok"), nil
	}}

	cfg := testExecutorConfig()
	cfg.MaxConcurrency = 3
	res, err := newTestExecutor(t, gen, cfg).Execute(context.Background(), makeJobs(10))
	require.NoError(t, err)
	assert.Equal(t, 10, res.Succeeded())
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

type countingRecorder struct {
	mu        sync.Mutex
	outcomes  map[string]int
	requested int
	succeeded int
}

func (r *countingRecorder) JobFinished(outcome string, _ int, _ time.Duration) {
	r.mu.Lock()
	r.outcomes[outcome]++
	r.mu.Unlock()
}

func (r *countingRecorder) BatchFinished(requested, succeeded int) {
	r.mu.Lock()
	r.requested, r.succeeded = requested, succeeded
	r.mu.Unlock()
}

func TestExecutor_Recorder(t *testing.T) {
	t.Parallel()

	gen := &MockGenerator{GenerateFn: func(ctx context.Context, prompt string) ([]byte, error) {
		if prompt == "prompt 3" {
			return nil, ErrContentBlocked
		}
		return []byte("ok"), nil
	}}
	rec := &countingRecorder{outcomes: map[string]int{}}

	e, err := NewExecutor(gen, testExecutorConfig(), testLogger(), WithRecorder(rec))
	require.NoError(t, err)
	_, err = e.Execute(context.Background(), makeJobs(3))
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 2, rec.outcomes["succeeded"])
	assert.Equal(t, 1, rec.outcomes["failed"])
	assert.Equal(t, 3, rec.requested)
	assert.Equal(t, 2, rec.succeeded)
}
