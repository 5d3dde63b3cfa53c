package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" validate:"required"`
	Queue      QueueConfig      `mapstructure:"queue" validate:"required"`
	Generation GenerationConfig `mapstructure:"generation" validate:"required"`
	Upscale    UpscaleConfig    `mapstructure:"upscale" validate:"required"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline" validate:"required"`
	LLM        LLMConfig        `mapstructure:"llm" validate:"required"`
	Storage    StorageConfig    `mapstructure:"storage" validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	// MaxUploadBytes caps a whole multipart request body
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes" validate:"gt=0"`
}

// QueueConfig sizes the task queue that runs pipeline requests.
type QueueConfig struct {
	Workers           int `mapstructure:"workers" validate:"gt=0"`
	MaxConcurrent     int `mapstructure:"max_concurrent" validate:"gte=0"`
	Capacity          int `mapstructure:"capacity" validate:"gt=0"`
	RetryPenalty      int `mapstructure:"retry_penalty" validate:"gte=0"`
	DefaultMaxRetries int `mapstructure:"default_max_retries" validate:"gte=0"`
}

// GenerationConfig bounds one generation batch.
type GenerationConfig struct {
	MaxConcurrency    int           `mapstructure:"max_concurrency" validate:"gt=0"`
	JobTimeout        time.Duration `mapstructure:"job_timeout" validate:"gt=0"`
	MaxRetries        int           `mapstructure:"max_retries" validate:"gte=0"`
	BaseBackoff       time.Duration `mapstructure:"base_backoff" validate:"gt=0"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff" validate:"gtefield=BaseBackoff"`
	JitterPercent     int           `mapstructure:"jitter_percent" validate:"gte=0,lte=100"`
	RetryBudget       int           `mapstructure:"retry_budget" validate:"gte=0"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gte=0"`
}

// UpscaleConfig sizes the per-request upscaler and its resampling limits.
type UpscaleConfig struct {
	Workers         int `mapstructure:"workers" validate:"gte=0"`
	Backlog         int `mapstructure:"backlog" validate:"gte=0"`
	Scale           int `mapstructure:"scale" validate:"gte=1,lte=8"`
	TileSize        int `mapstructure:"tile_size" validate:"gt=0"`
	MinTileSize     int `mapstructure:"min_tile_size" validate:"gt=0,ltefield=TileSize"`
	MaxTilePixels   int `mapstructure:"max_tile_pixels" validate:"gte=0"`
	MaxOutputPixels int `mapstructure:"max_output_pixels" validate:"gte=0"`
}

// PipelineConfig controls orchestration and retention of requests.
type PipelineConfig struct {
	PrimaryTag         string        `mapstructure:"primary_tag" validate:"required"`
	PersistConcurrency int           `mapstructure:"persist_concurrency" validate:"gt=0"`
	VideoTimeout       time.Duration `mapstructure:"video_timeout" validate:"gte=0"`
	Retention          time.Duration `mapstructure:"retention" validate:"gt=0"`
	JanitorSchedule    string        `mapstructure:"janitor_schedule" validate:"required"`
	// PromptTemplate optionally replaces the built-in generation prompt
	PromptTemplate string `mapstructure:"prompt_template"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	GeminiAPIKey      string        `mapstructure:"gemini_api_key" validate:"required"`
	AnalysisModel     string        `mapstructure:"analysis_model" validate:"required"`
	ImageModel        string        `mapstructure:"image_model" validate:"required"`
	VideoModel        string        `mapstructure:"video_model" validate:"required"`
	VideoPollInterval time.Duration `mapstructure:"video_poll_interval" validate:"gt=0"`
	// BaseURL overrides the API endpoint, mainly for tests
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`
}

// StorageConfig selects where artifacts are persisted.
type StorageConfig struct {
	Backend   string `mapstructure:"backend" validate:"required,oneof=local gcs"`
	LocalDir  string `mapstructure:"local_dir" validate:"required_if=Backend local"`
	BaseURL   string `mapstructure:"base_url" validate:"omitempty,url"`
	GCSBucket string `mapstructure:"gcs_bucket" validate:"required_if=Backend gcs"`
}

// DatabaseConfig contains all database-related configuration settings.
// An empty URL keeps request statuses in memory.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url" validate:"omitempty,url"`
	MaxOpenConns    int32         `mapstructure:"max_open_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	// APIKeyHashes are bcrypt hashes of accepted x-api-key values
	APIKeyHashes []string `mapstructure:"api_key_hashes"`
	// JWTSecret enables bearer token auth when set
	JWTSecret string `mapstructure:"jwt_secret" validate:"omitempty,min=32"`
	// TokenLifetime bounds tokens issued by the token command
	TokenLifetime time.Duration `mapstructure:"token_lifetime" validate:"gt=0"`
	// AllowAnonymous disables authentication entirely
	AllowAnonymous bool `mapstructure:"allow_anonymous"`
}
