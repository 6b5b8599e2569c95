/**
 * Configuration for the configuration extraction worker
 *
 * Loads configuration from environment variables, optionally seeded from a
 * .env file.
 */

package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration
	RedisURL     string `envconfig:"REDIS_URL" default:"redis://localhost:6379"`
	QueueName    string `envconfig:"QUEUE_NAME" default:"configextract:jobs"`
	QueueBackend string `envconfig:"QUEUE_BACKEND" default:"redis"` // redis or asynq

	// PostgreSQL configuration; persistence is skipped when empty
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// Worker configuration
	WorkerConcurrency int   `envconfig:"WORKER_CONCURRENCY" default:"4"`
	MaxFileSize       int64 `envconfig:"MAX_FILE_SIZE" default:"1073741824"` // 1GB
	ProcessingTimeout int   `envconfig:"PROCESSING_TIMEOUT" default:"300000"`  // ms
	MaxRetries        int   `envconfig:"MAX_RETRIES" default:"3"`

	// Extraction pipeline
	SampleIntervalSeconds float64 `envconfig:"SAMPLE_INTERVAL_SECONDS" default:"3"`
	BinarizeThreshold     int     `envconfig:"BINARIZE_THRESHOLD" default:"180"`
	SkipSimilarFrames     bool    `envconfig:"SKIP_SIMILAR_FRAMES" default:"false"`
	SimilarFrameDistance  int     `envconfig:"SIMILAR_FRAME_DISTANCE" default:"4"`
	PreserveInterword     bool    `envconfig:"TESSERACT_PRESERVE_INTERWORD_SPACES" default:"true"`

	// ffmpeg binary; ffprobe is looked up on PATH
	FFmpegPath string `envconfig:"FFMPEG_PATH" default:"ffmpeg"`

	// Temporary directory for staging uploaded video
	TempDir string `envconfig:"TEMP_DIR" default:"/tmp/configextract"`

	// Report output format: markdown, html, json, yaml
	ReportFormat string `envconfig:"REPORT_FORMAT" default:"markdown"`

	// Observability
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9102"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogDev      bool   `envconfig:"LOG_DEV" default:"false"`
}

// LoadConfig loads configuration from environment variables. envFiles are
// read first when present; variables already set in the environment win.
func LoadConfig(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.QueueBackend != "redis" && c.QueueBackend != "asynq" {
		return fmt.Errorf("QUEUE_BACKEND must be redis or asynq, got %q", c.QueueBackend)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.MaxFileSize < 1024 || c.MaxFileSize > 10737418240 { // 1KB to 10GB
		return fmt.Errorf("MAX_FILE_SIZE must be between 1KB and 10GB, got %d", c.MaxFileSize)
	}

	if c.ProcessingTimeout < 1000 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 1000ms, got %d", c.ProcessingTimeout)
	}

	if c.SampleIntervalSeconds <= 0 {
		return fmt.Errorf("SAMPLE_INTERVAL_SECONDS must be positive, got %v", c.SampleIntervalSeconds)
	}

	if c.BinarizeThreshold < 1 || c.BinarizeThreshold > 255 {
		return fmt.Errorf("BINARIZE_THRESHOLD must be between 1 and 255, got %d", c.BinarizeThreshold)
	}

	if c.SimilarFrameDistance < 0 || c.SimilarFrameDistance > 64 {
		return fmt.Errorf("SIMILAR_FRAME_DISTANCE must be between 0 and 64, got %d", c.SimilarFrameDistance)
	}

	switch c.ReportFormat {
	case "markdown", "html", "json", "yaml":
	default:
		return fmt.Errorf("REPORT_FORMAT must be markdown, html, json or yaml, got %q", c.ReportFormat)
	}

	return nil
}
