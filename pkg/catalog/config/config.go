// Package config assembles a catalog.Service from environment variables or
// programmatic options.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/product-catalog/pkg/catalog"
)

// Option applies configuration to a Config instance.
type Option func(*Config) error

// Load constructs a Config by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*Config, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() Config {
	return Config{
		DatabaseURL:        "memory",
		DBSchema:           "catalog",
		MigrateSchema:      true,
		StorageURL:         "memory://",
		S3:                 S3Config{Region: "us-east-1", SSEAlgorithm: "AES256"},
		DefaultVisibility:  string(catalog.VisibilityPublic),
		PresignExpiry:      15 * time.Minute,
		UploadConcurrency:  4,
		Retry:              RetryConfig{MaxAttempts: 4, InitialDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second},
		EnableEventLogging: true,
	}
}

// Config represents the catalog configuration. Field tags drive cleanenv
// when WithEnv is used.
type Config struct {
	// Database configuration
	DatabaseURL   string `env:"CATALOG_DATABASE_URL" env-default:"memory" env-description:"'memory' or a postgres:// connection string"`
	DBSchema      string `env:"CATALOG_DB_SCHEMA" env-default:"catalog" env-description:"Postgres schema (search_path)"`
	MigrateSchema bool   `env:"CATALOG_DB_MIGRATE" env-default:"true" env-description:"create catalog tables on startup"`

	// Object storage configuration
	StorageURL string `env:"CATALOG_STORAGE_URL" env-default:"memory://" env-description:"memory://, file:///path or s3://bucket?region=..."`
	S3         S3Config
	FS         FSConfig

	// RedisURL enables the presigned URL cache when set
	RedisURL string `env:"CATALOG_REDIS_URL" env-description:"redis://host:port/db for the presigned URL cache"`

	DefaultVisibility string        `env:"CATALOG_DEFAULT_VISIBILITY" env-default:"public" env-description:"public or restricted"`
	PresignExpiry     time.Duration `env:"CATALOG_PRESIGN_EXPIRY" env-default:"15m" env-description:"lifetime of download URLs"`
	UploadConcurrency int           `env:"CATALOG_UPLOAD_CONCURRENCY" env-default:"4" env-description:"sources registered in parallel per upload"`
	Retry             RetryConfig

	EnableMetrics      bool `env:"CATALOG_ENABLE_METRICS" env-default:"false"`
	EnableEventLogging bool `env:"CATALOG_ENABLE_EVENT_LOGGING" env-default:"true"`

	logger     *slog.Logger
	registerer prometheus.Registerer
	directory  catalog.PrincipalDirectory
}

// S3Config holds credentials and options for s3:// storage URLs. Values in
// the URL query take precedence.
type S3Config struct {
	Region                 string `env:"AWS_S3_REGION" env-default:"us-east-1"`
	AccessKeyID            string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey        string `env:"AWS_SECRET_ACCESS_KEY"`
	Endpoint               string `env:"AWS_S3_ENDPOINT"`
	UsePathStyle           bool   `env:"AWS_S3_USE_PATH_STYLE" env-default:"false"`
	EnableSSE              bool   `env:"AWS_S3_ENABLE_SSE" env-default:"false"`
	SSEAlgorithm           string `env:"AWS_S3_SSE_ALGORITHM" env-default:"AES256"`
	SSEKMSKeyID            string `env:"AWS_S3_SSE_KMS_KEY_ID"`
	CreateBucketIfNotExist bool   `env:"AWS_S3_CREATE_BUCKET" env-default:"false"`
}

// FSConfig holds options for file:// storage URLs
type FSConfig struct {
	URLPrefix string `env:"CATALOG_FS_URL_PREFIX" env-description:"base URL serving signed downloads"`
	SecretKey string `env:"CATALOG_FS_SECRET_KEY" env-description:"HMAC key for signed downloads"`
}

// RetryConfig bounds retries of object store calls
type RetryConfig struct {
	MaxAttempts  int           `env:"CATALOG_RETRY_MAX_ATTEMPTS" env-default:"4"`
	InitialDelay time.Duration `env:"CATALOG_RETRY_INITIAL_DELAY" env-default:"100ms"`
	MaxDelay     time.Duration `env:"CATALOG_RETRY_MAX_DELAY" env-default:"5s"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if _, err := c.databaseType(); err != nil {
		return err
	}

	storage, err := url.Parse(c.StorageURL)
	if err != nil {
		return fmt.Errorf("invalid storage url: %w", err)
	}
	switch storage.Scheme {
	case "memory":
	case "file":
		if storage.Path == "" {
			return errors.New("filesystem path cannot be empty in storage url")
		}
		if c.FS.URLPrefix != "" && c.FS.SecretKey == "" {
			return errors.New("fs url prefix requires a secret key")
		}
	case "s3":
		if storage.Host == "" {
			return errors.New("bucket name is required in s3 storage url")
		}
	default:
		return fmt.Errorf("unsupported storage url %q (use 'memory://', 'file://...', or 's3://...')", c.StorageURL)
	}

	switch catalog.Visibility(c.DefaultVisibility) {
	case catalog.VisibilityPublic, catalog.VisibilityRestricted:
	default:
		return fmt.Errorf("default visibility must be 'public' or 'restricted', got %q", c.DefaultVisibility)
	}

	if c.PresignExpiry <= 0 {
		return errors.New("presign expiry must be positive")
	}
	if c.UploadConcurrency < 1 {
		return errors.New("upload concurrency must be at least 1")
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry max attempts must be at least 1")
	}
	return nil
}

func (c *Config) databaseType() (string, error) {
	switch {
	case c.DatabaseURL == "" || c.DatabaseURL == "memory":
		return "memory", nil
	case strings.HasPrefix(c.DatabaseURL, "postgres://"), strings.HasPrefix(c.DatabaseURL, "postgresql://"):
		return "postgres", nil
	}
	return "", fmt.Errorf("unsupported database url (use 'memory' or 'postgresql://...')")
}
