package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/lookbook/internal/events"
	"github.com/phrazzld/lookbook/internal/generation"
	"github.com/phrazzld/lookbook/internal/upscale"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Branch names used in Result.BranchErrors and branch_failed events
const (
	BranchUpscale = "upscale"
	BranchVideo   = "video"
	BranchReport  = "report"
)

// Config holds orchestrator options
type Config struct {
	// PrimaryTag selects the canonical variation by key prefix
	PrimaryTag string

	// PersistConcurrency caps concurrent Persist calls while finalizing
	PersistConcurrency int

	// VideoTimeout bounds video synthesis. Zero means no extra bound.
	VideoTimeout time.Duration

	// ReportKey is the storage key of the catalogue report
	ReportKey string
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		PrimaryTag:         ViewFront,
		PersistConcurrency: 8,
		VideoTimeout:       10 * time.Minute,
		ReportKey:          "report.xlsx",
	}
}

// Dependencies are the collaborators of an Orchestrator. Analyzer, Executor
// and Persister are required; a nil Upscalers, Video or Reporter disables
// that branch.
type Dependencies struct {
	Analyzer  generation.Analyzer
	Executor  BatchExecutor
	Upscalers UpscalerFactory
	Video     generation.VideoSynthesizer
	Persister Persister
	Reporter  Reporter
	Prompts   PromptBuilder
}

// Orchestrator runs one request through analysis, generation,
// post-processing and finalization
type Orchestrator struct {
	deps     Dependencies
	config   Config
	validate *validator.Validate
	emitter  events.EventEmitter
	recorder StageRecorder
	logger   *slog.Logger
}

// OrchestratorOption customizes an Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithEmitter publishes stage progress events to e
func WithEmitter(e events.EventEmitter) OrchestratorOption {
	return func(o *Orchestrator) {
		if e != nil {
			o.emitter = e
		}
	}
}

// WithStageRecorder registers a StageRecorder for stage timings
func WithStageRecorder(r StageRecorder) OrchestratorOption {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// NewOrchestrator validates deps and fills unset config with defaults
func NewOrchestrator(deps Dependencies, config Config, logger *slog.Logger, opts ...OrchestratorOption) (*Orchestrator, error) {
	if deps.Analyzer == nil {
		return nil, fmt.Errorf("%w: analyzer cannot be nil", ErrInvalidConfig)
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("%w: executor cannot be nil", ErrInvalidConfig)
	}
	if deps.Persister == nil {
		return nil, fmt.Errorf("%w: persister cannot be nil", ErrInvalidConfig)
	}
	if deps.Prompts == nil {
		prompts, err := NewTemplatePromptBuilder("")
		if err != nil {
			return nil, err
		}
		deps.Prompts = prompts
	}

	defaults := DefaultConfig()
	if config.PrimaryTag == "" {
		config.PrimaryTag = defaults.PrimaryTag
	}
	if config.PersistConcurrency <= 0 {
		config.PersistConcurrency = defaults.PersistConcurrency
	}
	if config.ReportKey == "" {
		config.ReportKey = defaults.ReportKey
	}

	o := &Orchestrator{
		deps:     deps,
		config:   config,
		validate: NewValidator(),
		emitter:  events.NopEmitter{},
		recorder: nopStageRecorder{},
		logger:   logger.With("component", "orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// NewValidator returns the validator used for requests
func NewValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

// postResult is what the post-processing branches produce
type postResult struct {
	upscaled      *generation.VariationMap
	upscaleReport upscale.BatchReport
	video         []byte
	branchErrors  map[string]error
}

// Run executes the whole pipeline for req. Analysis and generation failures
// are returned as a FatalStageError naming the stage; upscale, video and
// report failures are recorded on the Result instead.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	req.Normalize()
	if err := req.Validate(o.validate); err != nil {
		return nil, err
	}
	id := req.RequestID
	log := o.logger.With("request_id", id)
	timings := make(map[string]float64, 5)

	// Analysis
	o.stageStarted(ctx, id, StageAnalyzing)
	stageStart := time.Now()
	analysis, err := o.deps.Analyzer.Analyze(ctx, generation.AnalysisInput{
		References: req.orderedReferences(),
		FreeText:   req.Description,
		Gender:     req.Gender,
	})
	if err != nil {
		return nil, o.fail(ctx, log, id, StageAnalyzing, err, time.Since(stageStart))
	}
	timings[TimingAnalysis] = o.stageCompleted(ctx, id, StageAnalyzing, stageStart, nil)
	log.InfoContext(ctx, "garment analyzed", "garment_type", analysis.GarmentType)

	// Generation
	o.stageStarted(ctx, id, StageGenerating)
	stageStart = time.Now()
	jobs, err := BuildJobs(&req, analysis, o.deps.Prompts)
	if err != nil {
		return nil, o.fail(ctx, log, id, StageGenerating, err, time.Since(stageStart))
	}
	batch, err := o.deps.Executor.Execute(ctx, jobs)
	if err != nil {
		return nil, o.fail(ctx, log, id, StageGenerating, err, time.Since(stageStart))
	}
	for _, f := range batch.Failures {
		log.WarnContext(ctx, "generation job failed",
			"job_id", f.ID,
			"attempts", f.Attempts,
			"error", f.Err)
	}
	timings[TimingGeneration] = o.stageCompleted(ctx, id, StageGenerating, stageStart, map[string]int{
		"requested": batch.Requested,
		"succeeded": batch.Succeeded(),
	})

	// Post-processing
	o.stageStarted(ctx, id, StagePostProcessing)
	stageStart = time.Now()
	post := o.postProcess(ctx, log, &req, analysis, batch.Variations)
	timings[TimingPostProcessing] = o.stageCompleted(ctx, id, StagePostProcessing, stageStart, nil)

	// Finalization
	o.stageStarted(ctx, id, StageFinalizing)
	stageStart = time.Now()
	result, err := o.finalize(ctx, log, &req, analysis, batch, post)
	if err != nil {
		return nil, o.fail(ctx, log, id, StageFinalizing, err, time.Since(stageStart))
	}
	timings[TimingSaving] = o.stageCompleted(ctx, id, StageFinalizing, stageStart, nil)

	timings[TimingTotal] = time.Since(start).Seconds()
	result.ProcessingTimes = timings

	o.emit(ctx, id, events.TypeRequestCompleted, StageDone, map[string]any{
		"succeeded":     result.SucceededCount,
		"requested":     result.RequestedCount,
		"branch_errors": len(result.BranchErrors),
	})
	log.InfoContext(ctx, "request completed",
		"requested", result.RequestedCount,
		"succeeded", result.SucceededCount,
		"upscaled", result.UpscaledVariations != nil,
		"video", result.VideoURL != "",
		"duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

// postProcess runs upscaling and video synthesis concurrently. Each branch
// is isolated: a failure or panic in one never affects the other.
func (o *Orchestrator) postProcess(
	ctx context.Context,
	log *slog.Logger,
	req *Request,
	analysis generation.Analysis,
	variations *generation.VariationMap,
) postResult {
	var (
		wg         conc.WaitGroup
		post       postResult
		upscaleErr error
		videoErr   error
	)

	if req.WantsUpscale {
		wg.Go(func() {
			if r := panics.Try(func() {
				post.upscaled, post.upscaleReport, upscaleErr = o.runUpscale(ctx, variations)
			}); r != nil {
				upscaleErr = r.AsError()
			}
		})
	}

	if req.WantsVideo {
		wg.Go(func() {
			if r := panics.Try(func() {
				post.video, videoErr = o.runVideo(ctx, variations, analysis)
			}); r != nil {
				videoErr = r.AsError()
			}
		})
	}

	wg.Wait()

	post.branchErrors = make(map[string]error)
	if upscaleErr != nil {
		post.upscaled = nil
		post.branchErrors[BranchUpscale] = fmt.Errorf("%w: %s: %w", ErrOptionalBranch, BranchUpscale, upscaleErr)
	}
	if videoErr != nil {
		post.video = nil
		post.branchErrors[BranchVideo] = fmt.Errorf("%w: %s: %w", ErrOptionalBranch, BranchVideo, videoErr)
	}
	for branch, err := range post.branchErrors {
		log.WarnContext(ctx, "optional branch failed", "branch", branch, "error", err)
		o.emit(ctx, req.RequestID, events.TypeBranchFailed, StagePostProcessing, map[string]string{
			"branch": branch,
			"error":  err.Error(),
		})
	}
	return post
}

func (o *Orchestrator) runUpscale(ctx context.Context, variations *generation.VariationMap) (*generation.VariationMap, upscale.BatchReport, error) {
	if o.deps.Upscalers == nil {
		return nil, upscale.BatchReport{}, errors.New("no upscaler configured")
	}
	u, err := o.deps.Upscalers()
	if err != nil {
		return nil, upscale.BatchReport{}, fmt.Errorf("failed to create upscaler: %w", err)
	}
	defer u.Shutdown()

	out, report := u.UpscaleBatch(ctx, variations)
	return out, report, nil
}

func (o *Orchestrator) runVideo(ctx context.Context, variations *generation.VariationMap, analysis generation.Analysis) ([]byte, error) {
	if o.deps.Video == nil {
		return nil, errors.New("no video synthesizer configured")
	}
	_, primary, ok := variations.Primary(o.config.PrimaryTag)
	if !ok {
		return nil, errors.New("no primary artifact")
	}
	if o.config.VideoTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.VideoTimeout)
		defer cancel()
	}
	video, err := o.deps.Video.SynthesizeVideo(ctx, primary, analysis)
	if err != nil {
		return nil, err
	}
	if len(video) == 0 {
		return nil, errors.New("video synthesizer returned no data")
	}
	return video, nil
}

func (o *Orchestrator) stageStarted(ctx context.Context, id string, stage Stage) {
	o.emit(ctx, id, events.TypeStageStarted, stage, nil)
}

// stageCompleted emits the completion event and returns the stage duration
// in seconds
func (o *Orchestrator) stageCompleted(ctx context.Context, id string, stage Stage, start time.Time, payload any) float64 {
	elapsed := time.Since(start)
	o.recorder.StageFinished(string(stage), "completed", elapsed)
	o.emit(ctx, id, events.TypeStageCompleted, stage, payload)
	return elapsed.Seconds()
}

// fail converts err into a FatalStageError for stage and reports it
func (o *Orchestrator) fail(ctx context.Context, log *slog.Logger, id string, stage Stage, err error, elapsed time.Duration) error {
	var fatal *FatalStageError
	if !errors.As(err, &fatal) {
		fatal = generation.NewFatalStageError(string(stage), err)
	}
	o.recorder.StageFinished(string(stage), "failed", elapsed)
	o.emit(ctx, id, events.TypeRequestFailed, stage, map[string]string{"error": fatal.Error()})
	log.ErrorContext(ctx, "request failed",
		"stage", stage,
		"error", err,
		"duration_ms", elapsed.Milliseconds())
	return fatal
}

func (o *Orchestrator) emit(ctx context.Context, id, eventType string, stage Stage, payload any) {
	event, err := events.NewPipelineEvent(id, eventType, string(stage), payload)
	if err != nil {
		o.logger.WarnContext(ctx, "failed to build pipeline event", "type", eventType, "error", err)
		return
	}
	if err := o.emitter.EmitEvent(ctx, event); err != nil {
		o.logger.WarnContext(ctx, "failed to emit pipeline event",
			"request_id", id,
			"type", eventType,
			"error", err)
	}
}
