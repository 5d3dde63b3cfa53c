package pipeline

import (
	"maps"
	"time"

	"github.com/phrazzld/lookbook/internal/generation"
)

// Stage names a step of the pipeline
type Stage string

// Pipeline stages in execution order
const (
	StageQueued         Stage = "queued"
	StageAnalyzing      Stage = "analyzing"
	StageGenerating     Stage = generation.StageGenerating
	StagePostProcessing Stage = "post_processing"
	StageFinalizing     Stage = "finalizing"
	StageDone           Stage = "done"
	StageFailed         Stage = "failed"
)

// stageProgress is the progress reported once a stage has started
var stageProgress = map[Stage]float64{
	StageQueued:         0,
	StageAnalyzing:      0.05,
	StageGenerating:     0.15,
	StagePostProcessing: 0.70,
	StageFinalizing:     0.90,
	StageDone:           1,
}

// Progress returns the fraction of work done when s has started
func (s Stage) Progress() float64 {
	return stageProgress[s]
}

// Status is the lifecycle state of a request
type Status string

// Request status values
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the request has finished
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Keys of Result.ProcessingTimes
const (
	TimingAnalysis       = "analysis"
	TimingGeneration     = "generation"
	TimingPostProcessing = "post_processing"
	TimingSaving         = "saving"
	TimingTotal          = "total"
)

// Result is the aggregate outcome of a successful request
type Result struct {
	RequestID string `json:"request_id"`

	// PrimaryKey is the variation chosen as the canonical artifact
	PrimaryKey string `json:"primary_key"`
	PrimaryURL string `json:"primary_url"`

	// VariationKeys lists generated variations in job order
	VariationKeys []string          `json:"variation_keys"`
	VariationURLs map[string]string `json:"image_variations"`
	UpscaledURLs  map[string]string `json:"upscaled_images,omitempty"`
	VideoURL      string            `json:"video_url,omitempty"`
	ReportURL     string            `json:"report_url,omitempty"`

	Analysis generation.Analysis `json:"analysis"`

	RequestedCount int `json:"requested_count"`
	SucceededCount int `json:"succeeded_count"`

	// FailedJobs maps generation jobs that produced nothing to the reason
	FailedJobs map[string]string `json:"failed_jobs,omitempty"`

	// UpscaleFallbacks maps keys that kept their original artifact to the reason
	UpscaleFallbacks map[string]string `json:"upscale_fallbacks,omitempty"`

	// BranchErrors maps optional branches ("video", "report") to their failure
	BranchErrors map[string]string `json:"branch_errors,omitempty"`

	// ProcessingTimes holds per-stage durations in seconds
	ProcessingTimes map[string]float64 `json:"processing_times"`

	Metadata Metadata `json:"metadata"`

	// Artifacts are held in memory only and never serialized
	Variations         *generation.VariationMap `json:"-"`
	UpscaledVariations *generation.VariationMap `json:"-"`
	Video              []byte                   `json:"-"`
}

// Metadata echoes the effective request options
type Metadata struct {
	Product         string                      `json:"product,omitempty"`
	Gender          string                      `json:"gender,omitempty"`
	AspectRatio     string                      `json:"aspect_ratio"`
	NumberOfOutputs int                         `json:"number_of_outputs"`
	Backgrounds     map[string]BackgroundCounts `json:"backgrounds"`
	Upscale         bool                        `json:"upscale"`
	Video           bool                        `json:"video"`
	References      []string                    `json:"references"`
	CompletedAt     time.Time                   `json:"completed_at"`
}

// WithoutArtifacts returns a copy safe to retain after the request finished
func (r *Result) WithoutArtifacts() *Result {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Variations = nil
	cp.UpscaledVariations = nil
	cp.Video = nil
	cp.VariationURLs = maps.Clone(r.VariationURLs)
	cp.UpscaledURLs = maps.Clone(r.UpscaledURLs)
	return &cp
}

// RequestStatus is what Poll reports for a request
type RequestStatus struct {
	RequestID string  `json:"request_id"`
	Status    Status  `json:"status"`
	Stage     Stage   `json:"stage"`
	Progress  float64 `json:"progress"`
	Result    *Result `json:"result,omitempty"`
	Error     string  `json:"error,omitempty"`

	// FailedStage names the stage that aborted a failed request
	FailedStage string `json:"failed_stage,omitempty"`

	// Attempts counts how many times the pipeline ran for this request
	Attempts int `json:"attempts"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
