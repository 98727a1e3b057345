package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production"
	Server      ServerConfig      `toml:"server"`
	Queue       QueueConfig       `toml:"queue"`
	ObjectStore ObjectStoreConfig `toml:"object_store"`
	Storage     StorageConfig     `toml:"storage"`
	VectorStore VectorStoreConfig `toml:"vector_store"`
	Fetcher     FetcherConfig     `toml:"fetcher"`
	Pipeline    PipelineConfig    `toml:"pipeline"`
	Worker      WorkerConfig      `toml:"worker"`
	Logging     LoggingConfig     `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type QueueConfig struct {
	QueueName         string `toml:"queue_name"`         // Queue name prefix in Badger
	PollInterval      string `toml:"poll_interval"`      // e.g., "1s" - how often workers poll for messages
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g., "5m" - message visibility timeout for redelivery
	MaxReceive        int    `toml:"max_receive"`        // Max times a message can be received before dead-letter
}

// ObjectStoreConfig covers the S3-compatible backend. Endpoint is left empty
// for real AWS and set for MinIO-style deployments.
type ObjectStoreConfig struct {
	Bucket         string `toml:"bucket"`
	Region         string `toml:"region"`
	Endpoint       string `toml:"endpoint"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
	UseMemory      bool   `toml:"use_memory"` // In-process store for development and tests
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

type VectorStoreConfig struct {
	Path         string `toml:"path"`         // chromem persistence directory
	DefaultName  string `toml:"default_name"` // Store used when no session is in play
	SessionCache int    `toml:"session_cache"`
}

type FetcherConfig struct {
	UserAgent          string `toml:"user_agent"`
	RequestTimeout     string `toml:"request_timeout"`
	MaxBodyBytes       int64  `toml:"max_body_bytes"`
	DefaultCountryCode string `toml:"default_country_code"`
	StandardProxyURL   string `toml:"standard_proxy_url"`
	PremiumProxyURL    string `toml:"premium_proxy_url"`
	StealthEnabled     bool   `toml:"stealth_enabled"` // Headless-browser tier
	RequestsPerSecond  float64 `toml:"requests_per_second"`
}

type PipelineConfig struct {
	AllowedExtensions []string `toml:"allowed_extensions"`
	MaxUploadBytes    int64    `toml:"max_upload_bytes"`
	OCREnabled        bool     `toml:"ocr_enabled"`
	OCREndpoint       string   `toml:"ocr_endpoint"`
}

type WorkerConfig struct {
	BatchSize      int    `toml:"batch_size"`
	WaitSeconds    int    `toml:"wait_seconds"`
	Concurrency    int    `toml:"concurrency"`
	StaleThreshold string `toml:"stale_threshold"` // RUNNING tasks without heartbeat past this are failed
	ReapSchedule   string `toml:"reap_schedule"`   // Cron schedule for the stale-task reaper
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Format string   `toml:"format"` // "json" or "text"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig returns the configuration used when no file is present.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Queue: QueueConfig{
			QueueName:         "crawl-tasks",
			PollInterval:      "1s",
			VisibilityTimeout: "5m",
			MaxReceive:        3,
		},
		ObjectStore: ObjectStoreConfig{
			Bucket:    "colligo-documents",
			Region:    "us-east-1",
			UseMemory: true,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/badger",
			},
		},
		VectorStore: VectorStoreConfig{
			Path:         "./data/vectors",
			DefaultName:  "Stock Market Data",
			SessionCache: 256,
		},
		Fetcher: FetcherConfig{
			UserAgent:         "Mozilla/5.0 (compatible; colligo/1.0)",
			RequestTimeout:    "30s",
			MaxBodyBytes:      10 * 1024 * 1024,
			RequestsPerSecond: 2,
		},
		Pipeline: PipelineConfig{
			AllowedExtensions: []string{
				".pdf", ".doc", ".docx", ".txt", ".html",
				".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff",
			},
			MaxUploadBytes: 10 * 1024 * 1024,
		},
		Worker: WorkerConfig{
			BatchSize:      1,
			WaitSeconds:    20,
			Concurrency:    2,
			StaleThreshold: "10m",
			ReapSchedule:   "* * * * *",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFile loads configuration with priority: defaults -> file -> env.
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files. Later files override
// earlier files; environment variables override everything.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.ValidateDurations(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("COLLIGO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("COLLIGO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if name := os.Getenv("COLLIGO_QUEUE_NAME"); name != "" {
		config.Queue.QueueName = name
	}
	if timeout := os.Getenv("COLLIGO_QUEUE_VISIBILITY_TIMEOUT"); timeout != "" {
		config.Queue.VisibilityTimeout = timeout
	}
	if bucket := os.Getenv("COLLIGO_OBJECT_STORE_BUCKET"); bucket != "" {
		config.ObjectStore.Bucket = bucket
	}
	if region := os.Getenv("COLLIGO_OBJECT_STORE_REGION"); region != "" {
		config.ObjectStore.Region = region
	}
	if endpoint := os.Getenv("COLLIGO_OBJECT_STORE_ENDPOINT"); endpoint != "" {
		config.ObjectStore.Endpoint = endpoint
	}
	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" && config.ObjectStore.AccessKey == "" {
		config.ObjectStore.AccessKey = key
	}
	if key := os.Getenv("AWS_SECRET_ACCESS_KEY"); key != "" && config.ObjectStore.SecretKey == "" {
		config.ObjectStore.SecretKey = key
	}
	if path := os.Getenv("COLLIGO_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	if name := os.Getenv("COLLIGO_VECTOR_DEFAULT_NAME"); name != "" {
		config.VectorStore.DefaultName = name
	}
	if level := os.Getenv("COLLIGO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("COLLIGO_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ValidateDurations parses every duration-typed string field so that bad
// values fail at startup rather than mid-crawl.
func (c *Config) ValidateDurations() error {
	fields := map[string]string{
		"queue.poll_interval":      c.Queue.PollInterval,
		"queue.visibility_timeout": c.Queue.VisibilityTimeout,
		"fetcher.request_timeout":  c.Fetcher.RequestTimeout,
		"worker.stale_threshold":   c.Worker.StaleThreshold,
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}
	return nil
}

// Duration returns a parsed duration string, falling back when empty or
// malformed.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// IsProduction reports whether the environment is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
