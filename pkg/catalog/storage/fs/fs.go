package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tendant/product-catalog/pkg/catalog"
)

// Backend is a filesystem implementation of the catalog.ObjectStore interface
type Backend struct {
	baseDir   string
	urlPrefix string
	signer    *Signer
}

var _ catalog.ObjectStore = (*Backend)(nil)

// Config options for the filesystem backend
type Config struct {
	BaseDir string // Base directory for storing files
	// URLPrefix is the public base of a download handler serving BaseDir,
	// e.g. "https://files.example.com". Without it PresignGet returns
	// file:// URLs, which only suit single-host deployments.
	URLPrefix string
	// SecretKey signs download URLs issued under URLPrefix
	SecretKey string
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}
	if config.URLPrefix != "" && config.SecretKey == "" {
		return nil, errors.New("secret key is required when a URL prefix is set")
	}

	baseDir, err := filepath.Abs(config.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	b := &Backend{
		baseDir:   baseDir,
		urlPrefix: strings.TrimRight(config.URLPrefix, "/"),
	}
	if config.SecretKey != "" {
		b.signer = NewSigner(config.SecretKey)
	}
	return b, nil
}

// Signer returns the signer a download handler uses to check URLs, or nil
func (b *Backend) Signer() *Signer {
	return b.signer
}

func (b *Backend) path(key string) (string, error) {
	p := filepath.Join(b.baseDir, filepath.FromSlash(key))
	if !strings.HasPrefix(p, b.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("object key %q escapes the base directory", key)
	}
	return p, nil
}

// Put streams reader into a temporary file next to the target and renames
// it into place, so a failed write never leaves a partial object visible.
func (b *Backend) Put(ctx context.Context, key string, reader io.Reader, sizeHint int64) error {
	filePath, err := b.path(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, contextReader{ctx: ctx, r: reader})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if sizeHint >= 0 && n != sizeHint {
		return fmt.Errorf("short write for %s: expected %d bytes, got %d", key, sizeHint, n)
	}

	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}

// PresignGet returns a signed download URL under the configured prefix, or
// a file:// URL when no prefix is configured.
func (b *Backend) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	filePath, err := b.path(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(filePath); err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", key, err)
	}
	if b.urlPrefix == "" {
		return (&url.URL{Scheme: "file", Path: filepath.ToSlash(filePath)}).String(), nil
	}
	return b.signer.SignURLWithBase(b.urlPrefix, "GET", "/download/"+key, expiry), nil
}

// Delete deletes content from the filesystem. A missing file is not an error.
func (b *Backend) Delete(ctx context.Context, key string) error {
	filePath, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	b.cleanupEmptyDirectories(filepath.Dir(filePath))
	return nil
}

// Exists reports whether key is stored
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	filePath, err := b.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filePath)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	}
	return false, fmt.Errorf("failed to get file info: %w", err)
}

// Open opens the stored file for key
func (b *Backend) Open(key string) (io.ReadCloser, error) {
	filePath, err := b.path(key)
	if err != nil {
		return nil, err
	}
	return os.Open(filePath)
}

// cleanupEmptyDirectories recursively removes empty directories up to baseDir
func (b *Backend) cleanupEmptyDirectories(dir string) {
	if dir == b.baseDir {
		return
	}
	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if os.Remove(dir) == nil {
			b.cleanupEmptyDirectories(filepath.Dir(dir))
		}
	}
}

// contextReader stops a copy once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
