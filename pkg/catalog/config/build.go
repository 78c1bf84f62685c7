package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/product-catalog/pkg/catalog"
	"github.com/tendant/product-catalog/pkg/catalog/metrics"
	"github.com/tendant/product-catalog/pkg/catalog/registry"
	"github.com/tendant/product-catalog/pkg/catalog/repo/memory"
	repopg "github.com/tendant/product-catalog/pkg/catalog/repo/postgres"
	"github.com/tendant/product-catalog/pkg/catalog/retry"
	fsstorage "github.com/tendant/product-catalog/pkg/catalog/storage/fs"
	memorystorage "github.com/tendant/product-catalog/pkg/catalog/storage/memory"
	s3storage "github.com/tendant/product-catalog/pkg/catalog/storage/s3"
	"github.com/tendant/product-catalog/pkg/catalog/storage/urlcache"
)

// Catalog is a wired catalog together with the components behind it.
type Catalog struct {
	Service    catalog.Service
	Repository catalog.Repository
	Objects    catalog.ObjectStore
	Registry   *registry.Registry
	Metrics    *metrics.Metrics

	closers []func()
}

// Close releases database pools and redis clients
func (c *Catalog) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Build creates a Catalog from the configuration
func (c *Config) Build(ctx context.Context) (*Catalog, error) {
	logger := c.logger
	if logger == nil {
		logger = slog.Default()
	}
	out := &Catalog{}
	fail := func(err error) (*Catalog, error) {
		out.Close()
		return nil, err
	}

	repo, err := c.buildRepository(ctx, out)
	if err != nil {
		return fail(fmt.Errorf("failed to build repository: %w", err))
	}
	out.Repository = repo

	objects, err := c.buildObjectStore(ctx)
	if err != nil {
		return fail(fmt.Errorf("failed to build object store: %w", err))
	}

	var sinks catalog.MultiEventSink
	if c.EnableMetrics {
		reg := c.registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		m, err := metrics.New(reg)
		if err != nil {
			return fail(err)
		}
		out.Metrics = m
		objects = m.Instrument(objects)
		sinks = append(sinks, m.Sink())
	}

	if c.RedisURL != "" {
		rdb, err := urlcache.Dial(ctx, c.RedisURL)
		if err != nil {
			return fail(err)
		}
		out.closers = append(out.closers, func() { _ = rdb.Close() })
		objects = urlcache.New(objects, rdb, urlcache.WithLogger(logger))
	}
	out.Objects = objects

	if c.EnableEventLogging {
		sinks = append(sinks, catalog.NewLoggingEventSink(logger))
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = c.Retry.MaxAttempts
	retryCfg.InitialDelay = c.Retry.InitialDelay
	retryCfg.MaxDelay = c.Retry.MaxDelay

	out.Registry = registry.New(repo, objects,
		registry.WithRetry(retryCfg),
		registry.WithPresignExpiry(c.PresignExpiry),
		registry.WithLogger(logger),
	)

	options := []catalog.Option{
		catalog.WithRepository(repo),
		catalog.WithRegistry(out.Registry),
		catalog.WithLogger(logger),
		catalog.WithConfig(catalog.Config{
			DefaultVisibility: catalog.Visibility(c.DefaultVisibility),
			UploadConcurrency: c.UploadConcurrency,
		}),
	}
	if len(sinks) > 0 {
		options = append(options, catalog.WithEventSink(sinks))
	}
	if c.directory != nil {
		options = append(options, catalog.WithPrincipalDirectory(c.directory))
	}

	svc, err := catalog.New(options...)
	if err != nil {
		return fail(err)
	}
	out.Service = svc
	return out, nil
}

// buildRepository creates a Repository based on the configuration
func (c *Config) buildRepository(ctx context.Context, out *Catalog) (catalog.Repository, error) {
	dbType, err := c.databaseType()
	if err != nil {
		return nil, err
	}
	if dbType == "memory" {
		return memory.New(), nil
	}

	pool, err := NewPool(ctx, c.DatabaseURL, c.DBSchema)
	if err != nil {
		return nil, err
	}
	out.closers = append(out.closers, pool.Close)

	if c.MigrateSchema {
		if c.DBSchema != "" {
			if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{c.DBSchema}.Sanitize()); err != nil {
				return nil, fmt.Errorf("create schema: %w", err)
			}
		}
		if err := repopg.EnsureSchema(ctx, pool); err != nil {
			return nil, err
		}
	}
	return repopg.NewWithPool(pool), nil
}

// NewPool opens a pgx pool whose sessions use schema as search_path
func NewPool(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("database_url is required")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return pool, nil
}

// buildObjectStore creates the ObjectStore selected by StorageURL
func (c *Config) buildObjectStore(ctx context.Context) (catalog.ObjectStore, error) {
	u, err := url.Parse(c.StorageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid storage url: %w", err)
	}

	switch u.Scheme {
	case "memory":
		return memorystorage.New(), nil

	case "file":
		return fsstorage.New(fsstorage.Config{
			BaseDir:   u.Path,
			URLPrefix: c.FS.URLPrefix,
			SecretKey: c.FS.SecretKey,
		})

	case "s3":
		return s3storage.New(ctx, c.s3Config(u))

	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", u.Scheme)
	}
}

// s3Config merges s3://bucket?region=..&endpoint=..&path_style=true
// parameters over the S3 env settings.
func (c *Config) s3Config(u *url.URL) s3storage.Config {
	q := u.Query()
	cfg := s3storage.Config{
		Region:                 getString(q, "region", c.S3.Region),
		Bucket:                 u.Host,
		AccessKeyID:            c.S3.AccessKeyID,
		SecretAccessKey:        c.S3.SecretAccessKey,
		Endpoint:               getString(q, "endpoint", c.S3.Endpoint),
		UsePathStyle:           getBool(q, "path_style", c.S3.UsePathStyle),
		EnableSSE:              getBool(q, "sse", c.S3.EnableSSE),
		SSEAlgorithm:           getString(q, "sse_algorithm", c.S3.SSEAlgorithm),
		SSEKMSKeyID:            getString(q, "kms_key_id", c.S3.SSEKMSKeyID),
		CreateBucketIfNotExist: getBool(q, "create_bucket", c.S3.CreateBucketIfNotExist),
	}
	if size := getString(q, "part_size", ""); size != "" {
		if n, err := strconv.ParseInt(size, 10, 64); err == nil {
			cfg.PartSize = n
		}
	}
	return cfg
}

func getString(q url.Values, key, defaultValue string) string {
	if q.Has(key) {
		return q.Get(key)
	}
	return defaultValue
}

func getBool(q url.Values, key string, defaultValue bool) bool {
	if q.Has(key) {
		if b, err := strconv.ParseBool(q.Get(key)); err == nil {
			return b
		}
	}
	return defaultValue
}
