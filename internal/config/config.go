package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	// Auth
	APIKey string

	Database DatabaseConfig

	// Embedding provider: "openai" or "compatible".
	EmbeddingProvider  string
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	EmbeddingModel     string
	EmbeddingDimension int
	EmbeddingHost      string

	// Usage counter: "postgres" or "badger".
	CounterBackend string
	BadgerPath     string

	// Chunking
	ContextTokensCutoff int
	MinContentLength    int

	// Embedding retry
	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	RetryMultiplier   float64

	// Worker pool
	WorkerCount  int
	MaxQueueSize int

	// Upload limits
	MaxUploadBytes int64

	// Job state
	JobTTL time.Duration

	// Embedding stats window
	StatsWindow time.Duration

	// PDF
	PDFFallbackPdftotext bool

	// Logging
	LogLevel  string
	LogFormat string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// LoadEnvFile reads KEY=value pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		APIKey: os.Getenv("DOCEMBED_API_KEY"),

		Database: DatabaseConfig{
			Host:     envOr("DB_HOST", "localhost"),
			Port:     envInt("DB_PORT", 5432),
			User:     envOr("DB_USER", "docembed"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     envOr("DB_NAME", "docembed"),
			SSLMode:  envOr("DB_SSLMODE", "disable"),
		},

		EmbeddingProvider:  envOr("EMBEDDING_PROVIDER", "openai"),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:      os.Getenv("OPENAI_BASE_URL"),
		EmbeddingModel:     envOr("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimension: envInt("EMBEDDING_DIMENSION", 1536),
		EmbeddingHost:      os.Getenv("EMBEDDING_HOST"),

		CounterBackend: envOr("COUNTER_BACKEND", "postgres"),
		BadgerPath:     envOr("BADGER_PATH", "./data/counters"),

		ContextTokensCutoff: envInt("CONTEXT_TOKENS_CUTOFF", 5000),
		MinContentLength:    envInt("MIN_CONTENT_LENGTH", 20),

		RetryMaxAttempts:  envInt("RETRY_MAX_ATTEMPTS", 10),
		RetryInitialDelay: envDuration("RETRY_INITIAL_DELAY", 10*time.Second),
		RetryMultiplier:   envFloat("RETRY_MULTIPLIER", 2),

		WorkerCount:  envInt("WORKER_COUNT", 4),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 100),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		JobTTL:      envDuration("JOB_TTL", 1*time.Hour),
		StatsWindow: envDuration("STATS_WINDOW", 1*time.Hour),

		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),

		LogLevel:  envOr("LOG_LEVEL", "info"),
		LogFormat: envOr("LOG_FORMAT", "json"),
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}
	if cfg.StatsWindow <= 0 {
		cfg.StatsWindow = 1 * time.Hour
	}
	if cfg.ContextTokensCutoff <= 0 {
		cfg.ContextTokensCutoff = 5000
	}
	if cfg.MinContentLength < 0 {
		cfg.MinContentLength = 20
	}

	return cfg
}

// Validate checks the settings every entry point needs.
func (c Config) Validate() error {
	switch c.EmbeddingProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
	case "compatible":
		if c.EmbeddingHost == "" {
			return fmt.Errorf("EMBEDDING_HOST is required for the compatible provider")
		}
	default:
		return fmt.Errorf("EMBEDDING_PROVIDER must be openai or compatible, got %q", c.EmbeddingProvider)
	}
	switch c.CounterBackend {
	case "postgres":
	case "badger":
		if c.BadgerPath == "" {
			return fmt.Errorf("BADGER_PATH is required for the badger counter")
		}
	default:
		return fmt.Errorf("COUNTER_BACKEND must be postgres or badger, got %q", c.CounterBackend)
	}
	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be positive")
	}
	if c.RetryInitialDelay < 0 {
		return fmt.Errorf("RETRY_INITIAL_DELAY must not be negative")
	}
	if c.RetryMultiplier < 1 {
		return fmt.Errorf("RETRY_MULTIPLIER must be at least 1")
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSION must be positive")
	}
	return nil
}

// ValidateServer adds the settings only the HTTP server needs.
func (c Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.APIKey == "" {
		return fmt.Errorf("DOCEMBED_API_KEY is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
