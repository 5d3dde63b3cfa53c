package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/lookbook/internal/config"
	"github.com/phrazzld/lookbook/internal/generation"
	"google.golang.org/genai"
)

// contentAPI is the subset of genai.Models used for text and image output
type contentAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// videoAPI is the subset of genai.Models used to start video operations
type videoAPI interface {
	GenerateVideos(ctx context.Context, model string, prompt string, image *genai.Image, config *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error)
}

// operationsAPI polls long-running video operations
type operationsAPI interface {
	GetVideosOperation(ctx context.Context, op *genai.GenerateVideosOperation, config *genai.GetOperationConfig) (*genai.GenerateVideosOperation, error)
}

// filesAPI downloads generated media
type filesAPI interface {
	Download(ctx context.Context, uri genai.DownloadURI, config *genai.DownloadFileConfig) ([]byte, error)
}

// models groups the model endpoints the Client calls
type models interface {
	contentAPI
	videoAPI
}

// Client implements generation.Analyzer, generation.ImageGenerator and
// generation.VideoSynthesizer on top of the Gemini API.
type Client struct {
	models     models
	operations operationsAPI
	files      filesAPI
	config     config.LLMConfig
	logger     *slog.Logger
}

var (
	_ generation.Analyzer         = (*Client)(nil)
	_ generation.ImageGenerator   = (*Client)(nil)
	_ generation.VideoSynthesizer = (*Client)(nil)
)

// Option customizes client construction
type Option func(*genai.ClientConfig)

// WithHTTPClient sets the HTTP client used for every API call
func WithHTTPClient(c *http.Client) Option {
	return func(cc *genai.ClientConfig) {
		cc.HTTPClient = c
	}
}

// NewClient creates a Client for the Gemini developer API
func NewClient(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger, opts ...Option) (*Client, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.AnalysisModel == "" || cfg.ImageModel == "" || cfg.VideoModel == "" {
		return nil, fmt.Errorf("%w: analysis, image and video models must be set", generation.ErrInvalidConfig)
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	for _, opt := range opts {
		opt(cc)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}

	logger.InfoContext(ctx, "gemini client initialized",
		"analysis_model", cfg.AnalysisModel,
		"image_model", cfg.ImageModel,
		"video_model", cfg.VideoModel)

	return newClient(client.Models, client.Operations, client.Files, cfg, logger), nil
}

func newClient(m models, ops operationsAPI, files filesAPI, cfg config.LLMConfig, logger *slog.Logger) *Client {
	if cfg.VideoPollInterval <= 0 {
		cfg.VideoPollInterval = 10 * time.Second
	}
	return &Client{
		models:     m,
		operations: ops,
		files:      files,
		config:     cfg,
		logger:     logger.With("component", "gemini"),
	}
}
