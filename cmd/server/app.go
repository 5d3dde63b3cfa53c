package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/phrazzld/lookbook/internal/api"
	apiMiddleware "github.com/phrazzld/lookbook/internal/api/middleware"
	"github.com/phrazzld/lookbook/internal/config"
	"github.com/phrazzld/lookbook/internal/events"
	"github.com/phrazzld/lookbook/internal/generation"
	"github.com/phrazzld/lookbook/internal/metrics"
	"github.com/phrazzld/lookbook/internal/pipeline"
	"github.com/phrazzld/lookbook/internal/platform/gemini"
	"github.com/phrazzld/lookbook/internal/platform/postgres"
	"github.com/phrazzld/lookbook/internal/report"
	"github.com/phrazzld/lookbook/internal/service/auth"
	"github.com/phrazzld/lookbook/internal/storage"
	"github.com/phrazzld/lookbook/internal/task"
	"github.com/phrazzld/lookbook/internal/upscale"
)

// artifactsPath is where locally stored artifacts are served from
const artifactsPath = "/artifacts"

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	pool   *pgxpool.Pool

	metrics   *metrics.Metrics
	statuses  pipeline.StatusStore
	taskStore *task.MemoryStore
	queue     *task.TaskQueue
	service   *pipeline.Service
	janitor   *pipeline.Janitor

	// artifacts serves local storage; nil for remote backends
	artifacts http.Handler
	closers   []func() error

	keys   apiMiddleware.KeyVerifier
	tokens apiMiddleware.TokenValidator
}

// newApplication creates a new application instance with all dependencies
// initialized. The task queue and janitor are started by Run.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, autoMigrate bool) (*application, error) {
	app := &application{
		config:    cfg,
		logger:    logger,
		metrics:   metrics.New(),
		taskStore: task.NewMemoryStore(),
	}

	ok := false
	defer func() {
		if !ok {
			app.cleanup()
		}
	}()

	if err := app.setupStatusStore(ctx, autoMigrate); err != nil {
		return nil, err
	}

	persister, err := app.setupStorage(ctx)
	if err != nil {
		return nil, err
	}

	if err := app.setupAuth(); err != nil {
		return nil, err
	}

	llm, err := gemini.NewClient(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	logger.Info("LLM client initialized",
		"analysis_model", cfg.LLM.AnalysisModel,
		"image_model", cfg.LLM.ImageModel,
		"video_model", cfg.LLM.VideoModel)

	executor, err := generation.NewExecutor(llm, generation.ExecutorConfig{
		MaxConcurrency:    cfg.Generation.MaxConcurrency,
		JobTimeout:        cfg.Generation.JobTimeout,
		MaxRetries:        cfg.Generation.MaxRetries,
		BaseBackoff:       cfg.Generation.BaseBackoff,
		MaxBackoff:        cfg.Generation.MaxBackoff,
		JitterPercent:     cfg.Generation.JitterPercent,
		RetryBudget:       cfg.Generation.RetryBudget,
		RequestsPerSecond: cfg.Generation.RequestsPerSecond,
	}, logger, generation.WithRecorder(app.metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to create generation executor: %w", err)
	}

	prompts, err := pipeline.NewTemplatePromptBuilder(cfg.Pipeline.PromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt template: %w", err)
	}

	emitter := events.NewInMemoryEventEmitter(logger)
	orchestrator, err := pipeline.NewOrchestrator(pipeline.Dependencies{
		Analyzer:  llm,
		Executor:  executor,
		Upscalers: app.upscalerFactory(),
		Video:     llm,
		Persister: persister,
		Reporter:  report.NewExcelReporter(logger),
		Prompts:   prompts,
	}, pipeline.Config{
		PrimaryTag:         cfg.Pipeline.PrimaryTag,
		PersistConcurrency: cfg.Pipeline.PersistConcurrency,
		VideoTimeout:       cfg.Pipeline.VideoTimeout,
	}, logger,
		pipeline.WithEmitter(emitter),
		pipeline.WithStageRecorder(app.metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	app.queue = task.NewTaskQueue(task.Config{
		WorkerCount:   cfg.Queue.Workers,
		MaxConcurrent: cfg.Queue.MaxConcurrent,
		Capacity:      cfg.Queue.Capacity,
		RetryPenalty:  cfg.Queue.RetryPenalty,
	}, logger,
		task.WithStore(app.taskStore),
		task.WithObserver(app.metrics))

	serviceCfg := pipeline.DefaultServiceConfig()
	serviceCfg.MaxRetries = cfg.Queue.DefaultMaxRetries
	app.service, err = pipeline.NewService(orchestrator, app.queue, app.statuses, serviceCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline service: %w", err)
	}
	emitter.RegisterHandler(app.service)

	app.janitor, err = pipeline.NewJanitor(app.statuses, app.taskStore, pipeline.JanitorConfig{
		Schedule:  cfg.Pipeline.JanitorSchedule,
		Retention: cfg.Pipeline.Retention,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create janitor: %w", err)
	}

	ok = true
	logger.Info("Application initialized successfully")
	return app, nil
}

// setupStatusStore uses Postgres when a database URL is configured and
// keeps statuses in memory otherwise
func (app *application) setupStatusStore(ctx context.Context, autoMigrate bool) error {
	if app.config.Database.URL == "" {
		app.statuses = pipeline.NewMemoryStatusStore()
		app.logger.Info("request statuses kept in memory")
		return nil
	}

	pool, err := postgres.Open(ctx, app.config.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	app.pool = pool

	if autoMigrate {
		if err := postgres.Migrate(ctx, pool, app.logger); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
	}
	app.statuses = postgres.NewStatusStore(pool, app.logger)
	app.logger.Info("request statuses stored in postgres")
	return nil
}

// setupStorage picks the artifact backend
func (app *application) setupStorage(ctx context.Context) (pipeline.Persister, error) {
	cfg := app.config.Storage
	switch cfg.Backend {
	case "gcs":
		store, err := storage.NewGCSStore(ctx, cfg.GCSBucket, cfg.BaseURL, app.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create gcs store: %w", err)
		}
		app.closers = append(app.closers, store.Close)
		return store, nil
	default:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = artifactsPath
		}
		store, err := storage.NewFileStore(cfg.LocalDir, baseURL, app.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create file store: %w", err)
		}
		app.artifacts = store.Handler()
		return store, nil
	}
}

// setupAuth builds the credential checkers. Nil interfaces are left unset
// so the middleware can tell a disabled scheme from a configured one.
func (app *application) setupAuth() error {
	keys, err := auth.NewAPIKeyVerifier(app.config.Auth.APIKeyHashes)
	if err != nil {
		return err
	}
	app.keys = keys

	if app.config.Auth.JWTSecret != "" {
		tokens, err := auth.NewTokenService(app.config.Auth.JWTSecret, app.config.Auth.TokenLifetime)
		if err != nil {
			return err
		}
		app.tokens = tokens
	}

	if !keys.Enabled() && app.tokens == nil && !app.config.Auth.AllowAnonymous {
		app.logger.Warn("no API keys or JWT secret configured and anonymous access is disabled; every API call will be rejected")
	}
	return nil
}

// upscalerFactory creates a fresh compute pool per request
func (app *application) upscalerFactory() pipeline.UpscalerFactory {
	cfg := app.config.Upscale
	tiled := upscale.NewTiledUpscaler(upscale.TiledUpscalerConfig{
		MaxTilePixels:   cfg.MaxTilePixels,
		MaxOutputPixels: cfg.MaxOutputPixels,
	})
	return func() (pipeline.BatchUpscaler, error) {
		u, err := upscale.New(tiled, upscale.Config{
			Workers:     cfg.Workers,
			Backlog:     cfg.Backlog,
			Scale:       cfg.Scale,
			TileSize:    cfg.TileSize,
			MinTileSize: cfg.MinTileSize,
		}, app.logger, upscale.WithRecorder(app.metrics))
		if err != nil {
			return nil, err
		}
		return u, nil
	}
}

// Run starts background processing and serves HTTP until ctx is done
func (app *application) Run(ctx context.Context) error {
	if err := app.queue.Start(); err != nil {
		return fmt.Errorf("failed to start task queue: %w", err)
	}
	app.janitor.Start()

	router := newRouter(routerDeps{
		handler: api.NewHandler(app.service, app.queue, api.HandlerConfig{
			MaxUploadBytes: app.config.Server.MaxUploadBytes,
		}, app.logger),
		auth:      apiMiddleware.NewAuthMiddleware(app.keys, app.tokens, app.config.Auth.AllowAnonymous),
		metrics:   app.metrics.Handler(),
		artifacts: app.artifacts,
		logger:    app.logger,
	})

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources
func (app *application) cleanup() {
	if app.janitor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
		app.janitor.Stop(ctx)
		cancel()
	}
	if app.queue != nil {
		app.queue.Stop()
	}
	for _, closeFn := range app.closers {
		if err := closeFn(); err != nil {
			app.logger.Error("Error closing resource", "error", err)
		}
	}
	if app.pool != nil {
		app.pool.Close()
	}
	app.logger.Info("Application shutdown completed")
}
