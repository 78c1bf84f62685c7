package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/tendant/product-catalog/pkg/catalog"
)

// ErrObjectNotFound is returned by Open for unknown keys
var ErrObjectNotFound = errors.New("object not found")

// Backend is an in-memory implementation of the catalog.ObjectStore interface
type Backend struct {
	mu      sync.RWMutex
	objects map[string][]byte
	puts    int
	now     func() time.Time
}

var _ catalog.ObjectStore = (*Backend)(nil)

// Option configures a Backend
type Option func(*Backend)

// WithClock sets the time source used for URL expiry
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// New creates a new in-memory storage backend
func New(opts ...Option) *Backend {
	b := &Backend{
		objects: make(map[string][]byte),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Put stores the full contents of reader under key
func (b *Backend) Put(ctx context.Context, key string, reader io.Reader, sizeHint int64) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if sizeHint >= 0 && int64(len(data)) != sizeHint {
		return fmt.Errorf("short write for %s: expected %d bytes, got %d", key, sizeHint, len(data))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.objects[key] = data
	b.puts++
	return nil
}

// PresignGet returns a memory:// URL carrying the key and expiry. It is only
// meaningful to Open.
func (b *Backend) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, ok := b.objects[key]; !ok {
		return "", fmt.Errorf("%s: %w", key, ErrObjectNotFound)
	}
	u := url.URL{
		Scheme:   "memory",
		Path:     "/" + key,
		RawQuery: url.Values{"expires": {fmt.Sprint(b.now().Add(expiry).Unix())}}.Encode(),
	}
	return u.String(), nil
}

// Delete removes key. Deleting a missing key is not an error.
func (b *Backend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.objects, key)
	return nil
}

// Exists reports whether key is stored
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.objects[key]
	return ok, nil
}

// Open returns the bytes stored under key
func (b *Backend) Open(key string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Keys returns the stored keys in lexical order
func (b *Backend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Puts returns how many writes the backend has accepted
func (b *Backend) Puts() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.puts
}
