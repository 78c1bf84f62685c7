package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/product-catalog/pkg/catalog"
)

// WithEnv reads the CATALOG_* and AWS_* variables described by the Config
// tags. Unset variables take their tag defaults, so apply it before other
// options.
func WithEnv() Option {
	return func(c *Config) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("read environment: %w", err)
		}
		return nil
	}
}

// WithDatabase sets the database url ("memory" or a postgres url) and schema
func WithDatabase(url, schema string) Option {
	return func(c *Config) error {
		c.DatabaseURL = url
		c.DBSchema = schema
		return nil
	}
}

// WithStorage sets the object storage url
func WithStorage(url string) Option {
	return func(c *Config) error {
		if url == "" {
			return fmt.Errorf("storage url cannot be empty")
		}
		c.StorageURL = url
		return nil
	}
}

// WithRedis enables the presigned URL cache
func WithRedis(url string) Option {
	return func(c *Config) error {
		c.RedisURL = url
		return nil
	}
}

// WithDefaultVisibility sets the visibility applied to products that do
// not choose one
func WithDefaultVisibility(v catalog.Visibility) Option {
	return func(c *Config) error {
		c.DefaultVisibility = string(v)
		return nil
	}
}

// WithPresignExpiry sets the lifetime of download URLs
func WithPresignExpiry(d time.Duration) Option {
	return func(c *Config) error {
		c.PresignExpiry = d
		return nil
	}
}

// WithMetrics enables prometheus collectors registered on reg. A nil reg
// uses the default registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Config) error {
		c.EnableMetrics = true
		c.registerer = reg
		return nil
	}
}

// WithLogger sets the structured logger handed to every component
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithPrincipalDirectory sets how principals are resolved
func WithPrincipalDirectory(dir catalog.PrincipalDirectory) Option {
	return func(c *Config) error {
		c.directory = dir
		return nil
	}
}
