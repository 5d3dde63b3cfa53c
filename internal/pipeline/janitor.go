package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// TaskPruner removes task snapshots; *task.MemoryStore implements it
type TaskPruner interface {
	Delete(ctx context.Context, id string) error
}

// JanitorConfig controls pruning of finished requests
type JanitorConfig struct {
	// Schedule is a cron spec or descriptor such as "@every 10m"
	Schedule string

	// Retention is how long finished requests stay pollable
	Retention time.Duration
}

// DefaultJanitorConfig returns a JanitorConfig with reasonable defaults
func DefaultJanitorConfig() JanitorConfig {
	return JanitorConfig{
		Schedule:  "@every 10m",
		Retention: 24 * time.Hour,
	}
}

// Janitor periodically deletes finished requests older than the retention
type Janitor struct {
	statuses StatusStore
	tasks    TaskPruner
	config   JanitorConfig
	cron     *cron.Cron
	logger   *slog.Logger
	now      func() time.Time
}

// NewJanitor creates a Janitor. tasks may be nil.
func NewJanitor(statuses StatusStore, tasks TaskPruner, config JanitorConfig, logger *slog.Logger) (*Janitor, error) {
	if statuses == nil {
		return nil, fmt.Errorf("%w: status store cannot be nil", ErrInvalidConfig)
	}
	if config.Retention <= 0 {
		return nil, fmt.Errorf("%w: retention must be positive, got %s", ErrInvalidConfig, config.Retention)
	}

	j := &Janitor{
		statuses: statuses,
		tasks:    tasks,
		config:   config,
		cron:     cron.New(),
		logger:   logger.With("component", "janitor"),
		now:      time.Now,
	}
	if _, err := j.cron.AddFunc(config.Schedule, j.run); err != nil {
		return nil, fmt.Errorf("%w: invalid schedule %q: %w", ErrInvalidConfig, config.Schedule, err)
	}
	return j, nil
}

// Start begins running the schedule in the background
func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.Info("janitor started",
		"schedule", j.config.Schedule,
		"retention", j.config.Retention.String())
}

// Stop halts the schedule and waits for a running prune to finish or ctx
// to be done
func (j *Janitor) Stop(ctx context.Context) {
	done := j.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (j *Janitor) run() {
	ctx := context.Background()
	if _, err := j.Prune(ctx); err != nil {
		j.logger.ErrorContext(ctx, "prune failed", "error", err)
	}
}

// Prune deletes every finished request last updated before the retention
// window and returns how many were removed
func (j *Janitor) Prune(ctx context.Context) (int, error) {
	cutoff := j.now().Add(-j.config.Retention)

	var expired []string
	err := j.statuses.Scan(ctx, func(st RequestStatus) bool {
		if st.Status.Terminal() && st.UpdatedAt.Before(cutoff) {
			expired = append(expired, st.RequestID)
		}
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan request statuses: %w", err)
	}

	pruned := 0
	for _, id := range expired {
		if err := j.statuses.Delete(ctx, id); err != nil {
			return pruned, fmt.Errorf("failed to delete request %s: %w", id, err)
		}
		if j.tasks != nil {
			if err := j.tasks.Delete(ctx, id); err != nil {
				j.logger.WarnContext(ctx, "failed to delete task snapshot", "request_id", id, "error", err)
			}
		}
		pruned++
	}

	if pruned > 0 {
		j.logger.InfoContext(ctx, "pruned finished requests",
			"count", pruned,
			"cutoff", cutoff)
	}
	return pruned, nil
}
