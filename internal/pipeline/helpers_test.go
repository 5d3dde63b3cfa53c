package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/phrazzld/lookbook/internal/events"
	"github.com/phrazzld/lookbook/internal/generation"
	"github.com/phrazzld/lookbook/internal/upscale"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// memPersister records every Persist call and returns mem:// URLs
type memPersister struct {
	mu      sync.Mutex
	objects map[string][]byte
	failOn  func(key string) bool
}

func newMemPersister() *memPersister {
	return &memPersister{objects: make(map[string][]byte)}
}

func (p *memPersister) Persist(_ context.Context, data []byte, requestID, key string) (string, error) {
	if p.failOn != nil && p.failOn(key) {
		return "", errors.New("disk full")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	path := requestID + "/" + key
	p.objects[path] = data
	return "mem://" + path, nil
}

func (p *memPersister) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.objects))
	for k := range p.objects {
		out = append(out, k)
	}
	return out
}

// fixedAnalyzer returns the same analysis for every request
func fixedAnalyzer() generation.Analyzer {
	return generation.AnalyzerFunc(func(ctx context.Context, in generation.AnalysisInput) (generation.Analysis, error) {
		return generation.Analysis{GarmentType: "dress", Gender: "female", Colors: []string{"red"}}, nil
	})
}

// promptGenerator echoes the job prompt as the artifact
func promptGenerator() generation.ImageGenerator {
	return generation.ImageGeneratorFunc(func(ctx context.Context, prompt string, refs []generation.Reference, hint string) ([]byte, error) {
		return []byte("image:" + prompt), nil
	})
}

func newExecutor(gen generation.ImageGenerator) *generation.Executor {
	cfg := generation.DefaultExecutorConfig()
	cfg.JobTimeout = time.Second
	cfg.BaseBackoff = time.Millisecond
	cfg.MaxBackoff = 2 * time.Millisecond
	e, err := generation.NewExecutor(gen, cfg, testLogger())
	if err != nil {
		panic(err)
	}
	return e
}

// prefixUpscaler prepends "up:" to every artifact
func prefixUpscaler() UpscalerFactory {
	return func() (BatchUpscaler, error) {
		u := upscale.UpscalerFunc(func(ctx context.Context, data []byte, scale, tile int) ([]byte, error) {
			return append([]byte("up:"), data...), nil
		})
		return upscale.New(u, upscale.Config{Workers: 2, Scale: 2, TileSize: 64, MinTileSize: 32}, testLogger())
	}
}

// videoOf returns "video:" plus the primary bytes
func videoOf() generation.VideoSynthesizer {
	return generation.VideoSynthesizerFunc(func(ctx context.Context, primary []byte, _ generation.Analysis) ([]byte, error) {
		return append([]byte("video:"), primary...), nil
	})
}

// keyReporter lists the report's artifact URLs one per line
type keyReporter struct {
	mu   sync.Mutex
	last ReportInput
	err  error
}

func (r *keyReporter) BuildReport(_ context.Context, in ReportInput) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = in
	if r.err != nil {
		return nil, r.err
	}
	var sb strings.Builder
	for _, k := range in.VariationKeys {
		fmt.Fprintf(&sb, "%s=%s\n", k, in.ArtifactURLs[k])
	}
	return []byte(sb.String()), nil
}

// eventLog records emitted events
type eventLog struct {
	mu     sync.Mutex
	events []*events.PipelineEvent
}

func (l *eventLog) HandleEvent(_ context.Context, e *events.PipelineEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) summary() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type + ":" + e.Stage
	}
	return out
}

func fullDeps() Dependencies {
	return Dependencies{
		Analyzer:  fixedAnalyzer(),
		Executor:  newExecutor(promptGenerator()),
		Upscalers: prefixUpscaler(),
		Video:     videoOf(),
		Persister: newMemPersister(),
		Reporter:  &keyReporter{},
		Prompts:   echoPrompts,
	}
}

func newTestOrchestrator(deps Dependencies, opts ...OrchestratorOption) *Orchestrator {
	o, err := NewOrchestrator(deps, DefaultConfig(), testLogger(), opts...)
	if err != nil {
		panic(err)
	}
	return o
}

func nineJobRequest(id string) Request {
	return Request{
		RequestID:  id,
		References: refs(ViewFront, ViewBack, ViewSide, ViewDetail),
		Backgrounds: map[string]BackgroundCounts{
			ViewFront: {1, 1, 1},
			ViewBack:  {1, 1, 1},
			ViewSide:  {1, 1, 1},
		},
		WantsUpscale: true,
		WantsVideo:   true,
	}
}
