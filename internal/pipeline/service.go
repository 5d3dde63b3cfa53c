package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phrazzld/lookbook/internal/events"
	"github.com/phrazzld/lookbook/internal/task"
	"github.com/sourcegraph/conc/panics"
)

// JobKind is the task kind of pipeline runs
const JobKind = "pipeline"

// Runner executes one request; *Orchestrator implements it
type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// Enqueuer accepts jobs; *task.TaskQueue implements it
type Enqueuer interface {
	AddTaskWithID(id string, job task.Job, priority, maxRetries int) (string, error)
}

// ServiceConfig holds scheduling options for submitted requests
type ServiceConfig struct {
	// Priority of pipeline tasks; lower runs first
	Priority int

	// MaxRetries applies to unexpected failures only. Fatal stage errors
	// and invalid requests are never retried.
	MaxRetries int
}

// DefaultServiceConfig returns a ServiceConfig with reasonable defaults
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{Priority: 1, MaxRetries: 3}
}

// Service accepts requests, runs them on a task queue and reports status
type Service struct {
	runner   Runner
	queue    Enqueuer
	statuses StatusStore
	validate *validator.Validate
	config   ServiceConfig
	logger   *slog.Logger

	// mu serializes read-modify-write updates of statuses
	mu sync.Mutex
}

// NewService creates a Service. Register it with the orchestrator's event
// emitter to get stage level progress.
func NewService(runner Runner, queue Enqueuer, statuses StatusStore, config ServiceConfig, logger *slog.Logger) (*Service, error) {
	if runner == nil {
		return nil, fmt.Errorf("%w: runner cannot be nil", ErrInvalidConfig)
	}
	if queue == nil {
		return nil, fmt.Errorf("%w: queue cannot be nil", ErrInvalidConfig)
	}
	if statuses == nil {
		statuses = NewMemoryStatusStore()
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return &Service{
		runner:   runner,
		queue:    queue,
		statuses: statuses,
		validate: NewValidator(),
		config:   config,
		logger:   logger.With("component", "pipeline_service"),
	}, nil
}

// Submit validates and enqueues req, returning its request id. Submitting
// an id that is already known returns that id without running it again.
func (s *Service) Submit(ctx context.Context, req Request) (string, error) {
	req.Normalize()
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if err := req.Validate(s.validate); err != nil {
		return "", err
	}
	id := req.RequestID
	log := s.logger.With("request_id", id)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.statuses.Get(ctx, id)
	switch {
	case err == nil:
		log.InfoContext(ctx, "request already submitted")
		return id, nil
	case !errors.Is(err, ErrRequestNotFound):
		return "", fmt.Errorf("failed to look up request: %w", err)
	}

	now := time.Now().UTC()
	if err := s.statuses.Set(ctx, RequestStatus{
		RequestID: id,
		Status:    StatusPending,
		Stage:     StageQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return "", fmt.Errorf("failed to store request status: %w", err)
	}

	job := &pipelineJob{svc: s, req: req, maxRetries: s.config.MaxRetries}
	if _, err := s.queue.AddTaskWithID(id, job, s.config.Priority, s.config.MaxRetries); err != nil {
		if errors.Is(err, task.ErrDuplicateTask) {
			return id, nil
		}
		if delErr := s.statuses.Delete(ctx, id); delErr != nil {
			log.ErrorContext(ctx, "failed to remove status of rejected request", "error", delErr)
		}
		return "", fmt.Errorf("failed to enqueue request: %w", err)
	}

	log.InfoContext(ctx, "request submitted",
		"references", len(req.References),
		"upscale", req.WantsUpscale,
		"video", req.WantsVideo)
	return id, nil
}

// Poll returns the current status of a request
func (s *Service) Poll(ctx context.Context, id string) (RequestStatus, error) {
	return s.statuses.Get(ctx, id)
}

// HandleEvent implements events.EventHandler. Stage starts move the
// request's stage and progress forward.
func (s *Service) HandleEvent(ctx context.Context, event *events.PipelineEvent) error {
	if event.Type != events.TypeStageStarted {
		return nil
	}
	stage := Stage(event.Stage)
	return s.update(ctx, event.RequestID, func(st *RequestStatus) {
		if st.Status.Terminal() {
			return
		}
		st.Stage = stage
		st.Progress = stage.Progress()
	})
}

// update applies fn to the stored status of id
func (s *Service) update(ctx context.Context, id string, fn func(*RequestStatus)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.statuses.Get(ctx, id)
	if err != nil {
		return err
	}
	fn(&st)
	st.UpdatedAt = time.Now().UTC()
	return s.statuses.Set(ctx, st)
}

// pipelineJob runs one request on the task queue. The same job value is
// reused across retries.
type pipelineJob struct {
	svc        *Service
	req        Request
	maxRetries int
	attempts   atomic.Int32
}

func (j *pipelineJob) Kind() string {
	return JobKind
}

func (j *pipelineJob) Run(ctx context.Context) (any, error) {
	s := j.svc
	id := j.req.RequestID
	attempt := int(j.attempts.Add(1))

	// Status updates use a detached context so a cancelled run still
	// records its outcome.
	statusCtx := context.WithoutCancel(ctx)
	s.setStatus(statusCtx, id, func(st *RequestStatus) {
		st.Status = StatusRunning
		st.Attempts = attempt
		st.Error = ""
	})

	var (
		result *Result
		err    error
	)
	if r := panics.Try(func() { result, err = s.runner.Run(ctx, j.req) }); r != nil {
		err = r.AsError()
	}

	if err == nil {
		stored := result.WithoutArtifacts()
		s.setStatus(statusCtx, id, func(st *RequestStatus) {
			st.Status = StatusCompleted
			st.Stage = StageDone
			st.Progress = 1
			st.Result = stored
		})
		return stored, nil
	}

	permanent := errors.Is(err, ErrFatalStage) ||
		errors.Is(err, ErrInvalidRequest) ||
		ctx.Err() != nil
	final := permanent || attempt > j.maxRetries

	s.setStatus(statusCtx, id, func(st *RequestStatus) {
		st.Error = err.Error()
		if !final {
			st.Status = StatusPending
			st.Stage = StageQueued
			st.Progress = 0
			return
		}
		st.Status = StatusFailed
		st.Stage = StageFailed
		var fatal *FatalStageError
		if errors.As(err, &fatal) {
			st.FailedStage = fatal.Stage
		}
	})

	if permanent {
		return nil, fmt.Errorf("%w: %w", task.ErrPermanent, err)
	}
	return nil, err
}

func (s *Service) setStatus(ctx context.Context, id string, fn func(*RequestStatus)) {
	if err := s.update(ctx, id, fn); err != nil {
		s.logger.ErrorContext(ctx, "failed to update request status",
			"request_id", id,
			"error", err)
	}
}
