package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// Values come from environment variables with sensible defaults.
//
// Environment Variables:
// Server:
// - HTTP_ADDR: listen address (default: :8080)
// - LOG_LEVEL: debug|info|warn|error (default: info)
//
// Jobs:
// - JOB_MAX_CONCURRENT: max jobs executing their pipeline at once (default: 4)
// - JOB_ITEM_CONCURRENCY: max concurrent items inside one batch job (default: 3)
// - JOB_RETENTION_HOURS: hours a finished job stays pollable (default: 24)
// - JOB_SWEEP_INTERVAL_SECONDS: sweeper period (default: 3600)
//
// LLM (vision analysis, OpenAI-compatible):
// - LLM_API_KEY: API key (required)
// - LLM_API_URL: API endpoint URL (default: https://api.openai.com/v1)
// - LLM_MODEL: model name (default: gpt-5.2)
// - LLM_MAX_OUTPUT_TOKENS: response token cap (default: 4000)
// - LLM_TEMPERATURE: sampling temperature (default: 0.7)
// - LLM_TIMEOUT: request timeout in seconds (default: 60)
//
// Gemini (item isolation):
// - GEMINI_API_KEY: API key (required)
// - GEMINI_API_URL: API base URL (default: https://generativelanguage.googleapis.com/v1beta)
// - GEMINI_IMAGE_MODEL: image model (default: gemini-2.5-flash-image)
// - GEMINI_TIMEOUT: request timeout in seconds (default: 120)
//
// Replicate (3D synthesis):
// - REPLICATE_API_TOKEN: API token (required)
// - REPLICATE_API_URL: API base URL (default: https://api.replicate.com/v1)
// - REPLICATE_TRELLIS_VERSION: Trellis model version id (required)
// - REPLICATE_TIMEOUT: overall synthesis timeout in seconds (default: 600)
//
// R2 (object storage, S3-compatible):
// - R2_ENDPOINT: account endpoint host (required)
// - R2_ACCESS_KEY_ID / R2_SECRET_ACCESS_KEY: credentials (required)
// - R2_BUCKET: bucket name (default: deja-view)
// - R2_PUBLIC_BASE_URL: public bucket base URL (required)
//
// Watcher:
// - WATCH_BOARDS: comma-separated board URLs to re-analyze on schedule
// - WATCH_CRON: cron expression for the watcher (default: @every 6h)
// - WATCH_MAX_PINS: per-board pin cap for watcher runs (default: 50)
//
// Catalog:
// - CATALOG_DB_PATH: sqlite file for the asset catalog (default: data/catalog.db)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Jobs      JobsConfig      `json:"jobs"`
	LLM       LLMConfig       `json:"llm"`
	Gemini    GeminiConfig    `json:"gemini"`
	Replicate ReplicateConfig `json:"replicate"`
	R2        R2Config        `json:"r2"`
	Watcher   WatcherConfig   `json:"watcher"`
	Catalog   CatalogConfig   `json:"catalog"`
}

type ServerConfig struct {
	Addr     string `json:"addr"`
	LogLevel string `json:"log_level"`
}

// JobsConfig bounds the orchestration core.
type JobsConfig struct {
	MaxConcurrent   int           `json:"max_concurrent"`
	ItemConcurrency int           `json:"item_concurrency"`
	Retention       time.Duration `json:"retention"`
	SweepInterval   time.Duration `json:"sweep_interval"`
}

// LLMConfig holds the configuration for the vision analysis client.
// Supports any OpenAI-compatible provider.
type LLMConfig struct {
	APIKey          string  `json:"api_key"`
	APIURL          string  `json:"api_url"`
	Model           string  `json:"model"`
	MaxOutputTokens int     `json:"max_output_tokens"`
	Temperature     float64 `json:"temperature"`
	Timeout         int     `json:"timeout"`
}

type GeminiConfig struct {
	APIKey     string `json:"api_key"`
	APIURL     string `json:"api_url"`
	ImageModel string `json:"image_model"`
	Timeout    int    `json:"timeout"`
}

type ReplicateConfig struct {
	APIToken       string `json:"api_token"`
	APIURL         string `json:"api_url"`
	TrellisVersion string `json:"trellis_version"`
	Timeout        int    `json:"timeout"`
}

type R2Config struct {
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Bucket          string `json:"bucket"`
	PublicBaseURL   string `json:"public_base_url"`
}

type WatcherConfig struct {
	Boards   []string `json:"boards"`
	CronExpr string   `json:"cron_expr"`
	MaxPins  int      `json:"max_pins"`
}

type CatalogConfig struct {
	DBPath string `json:"db_path"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Addr:     getEnvString("HTTP_ADDR", ":8080"),
			LogLevel: getEnvString("LOG_LEVEL", "info"),
		},
		Jobs: JobsConfig{
			MaxConcurrent:   getEnvInt("JOB_MAX_CONCURRENT", 4),
			ItemConcurrency: getEnvInt("JOB_ITEM_CONCURRENCY", 3),
			Retention:       time.Duration(getEnvInt("JOB_RETENTION_HOURS", 24)) * time.Hour,
			SweepInterval:   time.Duration(getEnvInt("JOB_SWEEP_INTERVAL_SECONDS", 3600)) * time.Second,
		},
		LLM: LLMConfig{
			APIKey:          getEnvString("LLM_API_KEY", ""),
			APIURL:          getEnvString("LLM_API_URL", "https://api.openai.com/v1"),
			Model:           getEnvString("LLM_MODEL", "gpt-5.2"),
			MaxOutputTokens: getEnvInt("LLM_MAX_OUTPUT_TOKENS", 4000),
			Temperature:     getEnvFloat("LLM_TEMPERATURE", 0.7),
			Timeout:         getEnvInt("LLM_TIMEOUT", 60),
		},
		Gemini: GeminiConfig{
			APIKey:     getEnvString("GEMINI_API_KEY", ""),
			APIURL:     getEnvString("GEMINI_API_URL", "https://generativelanguage.googleapis.com/v1beta"),
			ImageModel: getEnvString("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
			Timeout:    getEnvInt("GEMINI_TIMEOUT", 120),
		},
		Replicate: ReplicateConfig{
			APIToken:       getEnvString("REPLICATE_API_TOKEN", ""),
			APIURL:         getEnvString("REPLICATE_API_URL", "https://api.replicate.com/v1"),
			TrellisVersion: getEnvString("REPLICATE_TRELLIS_VERSION", ""),
			Timeout:        getEnvInt("REPLICATE_TIMEOUT", 600),
		},
		R2: R2Config{
			Endpoint:        getEnvString("R2_ENDPOINT", ""),
			AccessKeyID:     getEnvString("R2_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnvString("R2_SECRET_ACCESS_KEY", ""),
			Bucket:          getEnvString("R2_BUCKET", "deja-view"),
			PublicBaseURL:   getEnvString("R2_PUBLIC_BASE_URL", ""),
		},
		Watcher: WatcherConfig{
			Boards:   getEnvStringList("WATCH_BOARDS"),
			CronExpr: getEnvString("WATCH_CRON", "@every 6h"),
			MaxPins:  getEnvInt("WATCH_MAX_PINS", 50),
		},
		Catalog: CatalogConfig{
			DBPath: getEnvString("CATALOG_DB_PATH", "data/catalog.db"),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if c.Gemini.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if c.Replicate.APIToken == "" {
		return fmt.Errorf("REPLICATE_API_TOKEN is required")
	}
	if c.Replicate.TrellisVersion == "" {
		return fmt.Errorf("REPLICATE_TRELLIS_VERSION is required")
	}
	if c.R2.Endpoint == "" || c.R2.AccessKeyID == "" || c.R2.SecretAccessKey == "" {
		return fmt.Errorf("R2_ENDPOINT, R2_ACCESS_KEY_ID and R2_SECRET_ACCESS_KEY are required")
	}
	if c.R2.PublicBaseURL == "" {
		return fmt.Errorf("R2_PUBLIC_BASE_URL is required")
	}
	if c.Jobs.MaxConcurrent <= 0 {
		return fmt.Errorf("JOB_MAX_CONCURRENT must be positive")
	}
	if c.Jobs.ItemConcurrency <= 0 {
		return fmt.Errorf("JOB_ITEM_CONCURRENCY must be positive")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvStringList gets a comma-separated list from environment variables
func getEnvStringList(key string) []string {
	raw := os.Getenv(key)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	ret := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			ret = append(ret, trimmed)
		}
	}
	return ret
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
