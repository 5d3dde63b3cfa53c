package pipeline

import (
	"context"
	"time"

	"github.com/phrazzld/lookbook/internal/generation"
	"github.com/phrazzld/lookbook/internal/upscale"
)

// BatchExecutor fans generation jobs out; *generation.Executor implements it
type BatchExecutor interface {
	Execute(ctx context.Context, jobs []generation.Job) (*generation.BatchResult, error)
}

// BatchUpscaler upscales a whole variation map; *upscale.ConcurrentUpscaler
// implements it
type BatchUpscaler interface {
	UpscaleBatch(ctx context.Context, in *generation.VariationMap) (*generation.VariationMap, upscale.BatchReport)
	Shutdown()
}

// UpscalerFactory creates a BatchUpscaler for one request. The orchestrator
// shuts it down when the request's post-processing ends.
type UpscalerFactory func() (BatchUpscaler, error)

// Persister stores an artifact and returns a reference to it, usually a URL.
// Persisting the same requestID and key twice must overwrite, not duplicate.
type Persister interface {
	Persist(ctx context.Context, data []byte, requestID, key string) (string, error)
}

// ReportInput is the aggregate handed to the report builder
type ReportInput struct {
	RequestID     string
	Product       string
	Analysis      generation.Analysis
	PrimaryKey    string
	VariationKeys []string
	// ArtifactURLs maps variation keys to the URL shown in the report,
	// upscaled when available
	ArtifactURLs map[string]string
	VideoURL     string
	Metadata     Metadata
}

// Reporter builds the catalogue report for a finished request
type Reporter interface {
	BuildReport(ctx context.Context, in ReportInput) ([]byte, error)
}

// StageRecorder receives per-stage timings, typically for metrics
type StageRecorder interface {
	StageFinished(stage string, outcome string, elapsed time.Duration)
}

type nopStageRecorder struct{}

func (nopStageRecorder) StageFinished(string, string, time.Duration) {}
