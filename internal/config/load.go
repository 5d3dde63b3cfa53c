package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// LOOKBOOK_SERVER_PORT for server.port
const EnvPrefix = "LOOKBOOK"

// ConfigFileEnv names the variable that points at an explicit config file
const ConfigFileEnv = EnvPrefix + "_CONFIG_FILE"

// defaults are applied before files and environment variables. Every key
// that may come from the environment must appear here or in envOnlyKeys,
// otherwise viper does not see it during Unmarshal.
var defaults = map[string]any{
	"server.port":             8080,
	"server.log_level":        "info",
	"server.shutdown_timeout": 30 * time.Second,
	"server.max_upload_bytes": 50 << 20,

	"queue.workers":             4,
	"queue.max_concurrent":      4,
	"queue.capacity":            100,
	"queue.retry_penalty":       10,
	"queue.default_max_retries": 2,

	"generation.max_concurrency":     10,
	"generation.job_timeout":         180 * time.Second,
	"generation.max_retries":         2,
	"generation.base_backoff":        time.Second,
	"generation.max_backoff":         30 * time.Second,
	"generation.jitter_percent":      25,
	"generation.retry_budget":        0,
	"generation.requests_per_second": 0.0,

	"upscale.workers":           0,
	"upscale.backlog":           0,
	"upscale.scale":             2,
	"upscale.tile_size":         512,
	"upscale.min_tile_size":     64,
	"upscale.max_tile_pixels":   0,
	"upscale.max_output_pixels": 0,

	"pipeline.primary_tag":         "frontside",
	"pipeline.persist_concurrency": 8,
	"pipeline.video_timeout":       10 * time.Minute,
	"pipeline.retention":           24 * time.Hour,
	"pipeline.janitor_schedule":    "@every 10m",
	"pipeline.prompt_template":     "",

	"llm.analysis_model":      "gemini-2.5-flash",
	"llm.image_model":         "gemini-2.5-flash-image",
	"llm.video_model":         "veo-3.0-generate-001",
	"llm.video_poll_interval": 10 * time.Second,

	"storage.backend":   "local",
	"storage.local_dir": "./data",

	"database.max_open_conns":    10,
	"database.conn_max_lifetime": 30 * time.Minute,

	"auth.allow_anonymous": false,
	"auth.token_lifetime":  time.Hour,
}

// envOnlyKeys have no default and are usually secrets
var envOnlyKeys = []string{
	"llm.gemini_api_key",
	"llm.base_url",
	"storage.base_url",
	"storage.gcs_bucket",
	"database.url",
	"auth.api_key_hashes",
	"auth.jwt_secret",
}

// Load reads configuration from a .env file in the working directory (if
// any), an optional config.yaml, and LOOKBOOK_ environment variables.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	return LoadFile(os.Getenv(ConfigFileEnv))
}

// LoadFile is Load without the .env step and with an explicit config file.
// An empty path searches the working directory for config.yaml.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envOnlyKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("error binding environment variable for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// loadDotEnv exports variables from path without overriding ones already set
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}
