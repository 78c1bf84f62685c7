// Package presets wires ready-to-use catalogs for common situations.
package presets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/tendant/product-catalog/pkg/catalog"
	"github.com/tendant/product-catalog/pkg/catalog/config"
)

// NewDevelopment creates a catalog for local development.
//
// Features:
//   - In-memory repository (instant startup, no setup required)
//   - Filesystem object storage under ./catalog-dev-data
//   - Public default visibility, so every product is readable while exploring
//   - Event logging enabled
//
// The returned cleanup function closes the catalog and removes the storage
// directory.
//
// Example:
//
//	cat, cleanup, err := presets.NewDevelopment()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cleanup()
func NewDevelopment(opts ...DevelopmentOption) (*config.Catalog, func(), error) {
	cfg := &devConfig{
		storageDir: "./catalog-dev-data",
		visibility: catalog.VisibilityPublic,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	dir, err := filepath.Abs(cfg.storageDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve storage directory: %w", err)
	}

	c, err := config.Load(
		config.WithDatabase("memory", ""),
		config.WithStorage("file://"+filepath.ToSlash(dir)),
		config.WithDefaultVisibility(cfg.visibility),
	)
	if err != nil {
		return nil, nil, err
	}
	cat, err := c.Build(context.Background())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build development catalog: %w", err)
	}

	cleanup := func() {
		cat.Close()
		os.RemoveAll(dir)
	}
	return cat, cleanup, nil
}

// NewTesting creates a catalog for unit and integration tests.
//
// Features:
//   - In-memory repository and object storage, isolated per call
//   - Restricted default visibility, so access checks are exercised
//   - No event logging (cleaner test output)
//   - Closed automatically via t.Cleanup()
//   - Safe for parallel tests
//
// Example:
//
//	func TestMyFeature(t *testing.T) {
//	    cat := presets.NewTesting(t)
//	    ...
//	}
func NewTesting(t testing.TB, opts ...TestingOption) *config.Catalog {
	t.Helper()
	cfg := &testConfig{
		visibility: catalog.VisibilityRestricted,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	options := []config.Option{
		config.WithDatabase("memory", ""),
		config.WithStorage("memory://"),
		config.WithDefaultVisibility(cfg.visibility),
		func(c *config.Config) error {
			c.EnableEventLogging = false
			return nil
		},
	}
	if cfg.directory != nil {
		options = append(options, config.WithPrincipalDirectory(cfg.directory))
	}

	c, err := config.Load(options...)
	if err != nil {
		t.Fatalf("failed to configure test catalog: %v", err)
	}
	cat, err := c.Build(context.Background())
	if err != nil {
		t.Fatalf("failed to build test catalog: %v", err)
	}
	t.Cleanup(cat.Close)
	return cat
}

// NewProduction creates a catalog from CATALOG_* environment variables and
// refuses settings that lose data on restart.
//
// Required environment:
//   - CATALOG_DATABASE_URL: a postgres:// connection string
//   - CATALOG_STORAGE_URL: "s3://bucket?..." or "file:///path"
//
// Optional environment is documented by `catalog-verify -h`.
func NewProduction(ctx context.Context, opts ...config.Option) (*config.Catalog, error) {
	c, err := config.Load(append([]config.Option{config.WithEnv()}, opts...)...)
	if err != nil {
		return nil, err
	}
	if c.DatabaseURL == "" || c.DatabaseURL == "memory" {
		return nil, fmt.Errorf("production preset requires CATALOG_DATABASE_URL to point at postgres (memory not allowed in production)")
	}
	if c.StorageURL == "memory://" {
		return nil, fmt.Errorf("production preset requires persistent storage (s3 or file, not memory)")
	}
	return c.Build(ctx)
}

type devConfig struct {
	storageDir string
	visibility catalog.Visibility
}

type testConfig struct {
	visibility catalog.Visibility
	directory  catalog.PrincipalDirectory
}

// DevelopmentOption is a functional option for NewDevelopment
type DevelopmentOption func(*devConfig)

// WithDevStorage sets the development storage directory
func WithDevStorage(dir string) DevelopmentOption {
	return func(cfg *devConfig) {
		cfg.storageDir = dir
	}
}

// WithDevVisibility overrides the public default
func WithDevVisibility(v catalog.Visibility) DevelopmentOption {
	return func(cfg *devConfig) {
		cfg.visibility = v
	}
}

// TestingOption is a functional option for NewTesting
type TestingOption func(*testConfig)

// WithTestVisibility sets the default visibility
func WithTestVisibility(v catalog.Visibility) TestingOption {
	return func(cfg *testConfig) {
		cfg.visibility = v
	}
}

// WithTestDirectory resolves principals from a fixed table instead of
// accepting everyone.
func WithTestDirectory(dir catalog.PrincipalDirectory) TestingOption {
	return func(cfg *testConfig) {
		cfg.directory = dir
	}
}
