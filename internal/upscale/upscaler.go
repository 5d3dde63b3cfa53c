package upscale

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/lookbook/internal/generation"
	"github.com/sourcegraph/conc/panics"
)

// Config holds configuration for a ConcurrentUpscaler
type Config struct {
	// Workers sizes the compute pool. If zero, defaults to the number of CPUs
	Workers int

	// Backlog is the compute pool queue length. If zero, four per worker
	Backlog int

	// Scale is the upscale factor
	Scale int

	// TileSize is the tile edge used on the first attempt
	TileSize int

	// MinTileSize is the smallest tile edge the retry may fall back to
	MinTileSize int
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	pool := DefaultWorkerPoolConfig()
	return Config{
		Workers:     pool.WorkerCount,
		Backlog:     pool.Backlog,
		Scale:       2,
		TileSize:    512,
		MinTileSize: 64,
	}
}

// Recorder receives per-artifact outcomes, typically for metrics
type Recorder interface {
	ArtifactUpscaled(outcome string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ArtifactUpscaled(string, time.Duration) {}

// BatchReport describes how each key of a batch was produced
type BatchReport struct {
	// Upscaled lists keys whose artifact was upscaled, in input order
	Upscaled []string

	// Fallbacks maps keys that kept their original bytes to the reason
	Fallbacks map[string]error

	// Elapsed is the wall-clock time of the batch
	Elapsed time.Duration
}

// ConcurrentUpscaler upscales a VariationMap on its own compute pool
type ConcurrentUpscaler struct {
	upscaler Upscaler
	pool     *WorkerPool
	config   Config
	logger   *slog.Logger
	recorder Recorder
}

// Option customizes a ConcurrentUpscaler
type Option func(*ConcurrentUpscaler)

// WithRecorder registers a Recorder for per-artifact outcomes
func WithRecorder(r Recorder) Option {
	return func(u *ConcurrentUpscaler) {
		if r != nil {
			u.recorder = r
		}
	}
}

// New validates config and starts the compute pool. Callers must call
// Shutdown when the upscaler is no longer needed.
func New(upscaler Upscaler, config Config, logger *slog.Logger, opts ...Option) (*ConcurrentUpscaler, error) {
	if upscaler == nil {
		return nil, fmt.Errorf("%w: upscaler cannot be nil", ErrInvalidConfig)
	}
	if config.Scale < 1 {
		return nil, fmt.Errorf("%w: scale must be at least 1, got %d", ErrInvalidConfig, config.Scale)
	}
	if config.TileSize <= 0 {
		return nil, fmt.Errorf("%w: tile size must be positive, got %d", ErrInvalidConfig, config.TileSize)
	}
	if config.MinTileSize <= 0 || config.MinTileSize > config.TileSize {
		config.MinTileSize = config.TileSize
	}

	logger = logger.With("component", "upscaler")
	u := &ConcurrentUpscaler{
		upscaler: upscaler,
		pool: NewWorkerPool(WorkerPoolConfig{
			WorkerCount: config.Workers,
			Backlog:     config.Backlog,
		}, logger),
		config:   config,
		logger:   logger,
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

type upscaleResult struct {
	data []byte
	err  error
}

// UpscaleBatch upscales every artifact in in. The output always holds every
// input key in input order: artifacts that cannot be upscaled keep their
// original bytes and are listed in the report's Fallbacks.
func (u *ConcurrentUpscaler) UpscaleBatch(ctx context.Context, in *generation.VariationMap) (*generation.VariationMap, BatchReport) {
	start := time.Now()
	keys := in.Keys()
	report := BatchReport{Fallbacks: make(map[string]error)}

	results := make([]chan upscaleResult, len(keys))
	for i, key := range keys {
		data, _ := in.Get(key)
		ch := make(chan upscaleResult, 1)
		results[i] = ch

		err := u.pool.Submit(ctx, func() {
			var res upscaleResult
			if r := panics.Try(func() { res.data, res.err = u.upscaleOne(ctx, key, data) }); r != nil {
				res.err = r.AsError()
			}
			ch <- res
		})
		if err != nil {
			ch <- upscaleResult{err: fmt.Errorf("failed to schedule upscale: %w", err)}
		}
	}

	out := generation.NewVariationMap(len(keys))
	for i, key := range keys {
		original, _ := in.Get(key)

		var res upscaleResult
		select {
		case res = <-results[i]:
		case <-u.pool.Done():
			res.err = ErrPoolClosed
		case <-ctx.Done():
			res.err = ctx.Err()
		}

		if res.err != nil || len(res.data) == 0 {
			if res.err == nil {
				res.err = fmt.Errorf("%w: empty output", ErrUnsupportedImage)
			}
			out.Set(key, original)
			report.Fallbacks[key] = res.err
			u.logger.WarnContext(ctx, "upscale failed, keeping original artifact",
				"key", key,
				"error", res.err)
			continue
		}
		out.Set(key, res.data)
		report.Upscaled = append(report.Upscaled, key)
	}

	report.Elapsed = time.Since(start)
	u.logger.InfoContext(ctx, "upscale batch finished",
		"total", len(keys),
		"upscaled", len(report.Upscaled),
		"fallbacks", len(report.Fallbacks),
		"duration_ms", report.Elapsed.Milliseconds())
	return out, report
}

// upscaleOne tries the configured tile size, then once more with a reduced tile
func (u *ConcurrentUpscaler) upscaleOne(ctx context.Context, key string, data []byte) ([]byte, error) {
	start := time.Now()
	tile := u.config.TileSize

	out, err := u.upscaler.Upscale(ctx, data, u.config.Scale, tile)
	if err == nil {
		u.recorder.ArtifactUpscaled("upscaled", time.Since(start))
		return out, nil
	}

	reduced := max(tile/2, u.config.MinTileSize)
	if reduced >= tile || ctx.Err() != nil {
		u.recorder.ArtifactUpscaled("fallback", time.Since(start))
		return nil, err
	}

	u.logger.WarnContext(ctx, "upscale failed, retrying with reduced tile size",
		"key", key,
		"tile_size", tile,
		"reduced_tile_size", reduced,
		"error", err)

	out, err = u.upscaler.Upscale(ctx, data, u.config.Scale, reduced)
	if err != nil {
		u.recorder.ArtifactUpscaled("fallback", time.Since(start))
		return nil, fmt.Errorf("upscale failed at tile sizes %d and %d: %w", tile, reduced, err)
	}
	u.recorder.ArtifactUpscaled("upscaled_reduced_tile", time.Since(start))
	return out, nil
}

// Shutdown releases the compute pool. It is safe to call more than once.
func (u *ConcurrentUpscaler) Shutdown() {
	u.pool.Shutdown()
}
