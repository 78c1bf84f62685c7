// Package registry maps content digests to stored blobs. It keeps at most
// one physical copy per digest however many products reference it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/product-catalog/pkg/catalog"
	"github.com/tendant/product-catalog/pkg/catalog/hash"
	"github.com/tendant/product-catalog/pkg/catalog/objectkey"
	"github.com/tendant/product-catalog/pkg/catalog/retry"
	"golang.org/x/sync/singleflight"
)

// DefaultPresignExpiry is the lifetime of download URLs unless configured.
const DefaultPresignExpiry = 15 * time.Minute

const lockStripes = 64

// SourceStore is the part of catalog.Repository the registry needs.
type SourceStore interface {
	CreateSource(ctx context.Context, source *catalog.Source) error
	GetSourceByDigest(ctx context.Context, digest string) (*catalog.Source, error)
	ClaimSource(ctx context.Context, id, holder uuid.UUID) error
	UnclaimSource(ctx context.Context, id uuid.UUID) error
	DeleteSource(ctx context.Context, id uuid.UUID) error
}

// Registry implements catalog.SourceRegistry.
type Registry struct {
	sources SourceStore
	objects catalog.ObjectStore
	keys    objectkey.Generator
	retry   retry.Config
	expiry  time.Duration
	logger  *slog.Logger
	now     func() time.Time

	group singleflight.Group
	locks [lockStripes]sync.Mutex
}

var _ catalog.SourceRegistry = (*Registry)(nil)

// Option configures a Registry
type Option func(*Registry)

// WithKeyGenerator sets the object key layout
func WithKeyGenerator(g objectkey.Generator) Option {
	return func(r *Registry) {
		r.keys = g
	}
}

// WithRetry sets the backoff policy for object store calls
func WithRetry(cfg retry.Config) Option {
	return func(r *Registry) {
		r.retry = cfg
	}
}

// WithPresignExpiry sets the lifetime of download URLs
func WithPresignExpiry(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.expiry = d
		}
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithClock overrides the time source, for tests
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates a registry over a source record store and an object store.
func New(sources SourceStore, objects catalog.ObjectStore, opts ...Option) *Registry {
	r := &Registry{
		sources: sources,
		objects: objects,
		keys:    objectkey.NewGitLikeGenerator(),
		retry:   retry.DefaultConfig(),
		expiry:  DefaultPresignExpiry,
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterOrReuse returns the source for digest, storing the bytes from open
// only if no source with that digest exists yet. Concurrent calls for one
// digest in this process share a single registration; across processes the
// unique digest constraint decides the winner and the loser reuses it.
func (r *Registry) RegisterOrReuse(ctx context.Context, name string, digest hash.Digest, size int64, open catalog.OpenFunc) (*catalog.Registration, error) {
	if err := digest.Validate(); err != nil {
		return nil, &catalog.ValidationError{Field: "digest", Err: err}
	}
	if size < 0 {
		return nil, &catalog.ValidationError{Field: "size", Reason: "negative size"}
	}

	var led bool
	ch := r.group.DoChan(digest.String(), func() (any, error) {
		led = true
		return r.register(context.WithoutCancel(ctx), name, digest, size, open)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}

	reg := *res.Val.(*catalog.Registration)
	if !led {
		// Another caller did the work; check this caller's size against it.
		if reg.Source.Size != size {
			return nil, sizeMismatch(reg.Source, size)
		}
		reg.Reused = true
	}
	return &reg, nil
}

func (r *Registry) register(ctx context.Context, name string, digest hash.Digest, size int64, open catalog.OpenFunc) (*catalog.Registration, error) {
	mu := r.lock(digest)
	mu.Lock()
	defer mu.Unlock()

	existing, err := r.lookup(ctx, digest)
	switch {
	case err == nil:
		return reuse(existing, size)
	case !errors.Is(err, catalog.ErrSourceNotFound):
		return nil, fmt.Errorf("failed to look up digest %s: %w", digest, err)
	}

	key := r.keys.GenerateKey(digest)
	if err := r.store(ctx, key, size, open); err != nil {
		return nil, &catalog.StorageError{Key: key, Op: "put", Err: err}
	}

	src := &catalog.Source{
		ID:         uuid.New(),
		Name:       name,
		Digest:     digest.String(),
		Size:       size,
		StorageKey: key,
		CreatedAt:  r.now(),
	}
	err = r.sources.CreateSource(ctx, src)
	if errors.Is(err, catalog.ErrSourceExists) {
		existing, err := r.lookup(ctx, digest)
		if err != nil {
			return nil, fmt.Errorf("failed to load winning source for digest %s: %w", digest, err)
		}
		r.logger.InfoContext(ctx, "lost source registration race", "digest", digest, "source_id", existing.ID)
		return reuse(existing, size)
	}
	if err != nil {
		// The blob stays; the next registration of these bytes finds it.
		return nil, fmt.Errorf("failed to record source for digest %s: %w", digest, err)
	}

	r.logger.InfoContext(ctx, "source stored", "digest", digest, "source_id", src.ID, "key", key, "size", size)
	return &catalog.Registration{Source: src}, nil
}

// lookup returns the live source for digest. A source that another process
// has claimed for deletion is waited out until its record is gone.
func (r *Registry) lookup(ctx context.Context, digest hash.Digest) (*catalog.Source, error) {
	return retry.DoWithResult(ctx, r.retry, func() (*catalog.Source, error) {
		src, err := r.sources.GetSourceByDigest(ctx, digest.String())
		if err != nil && !errors.Is(err, catalog.ErrSourceDeleting) {
			return nil, retry.NonRetryable(err)
		}
		return src, err
	}, func(err error, wait time.Duration) {
		r.logger.InfoContext(ctx, "waiting for source deletion", "digest", digest, "wait", wait)
	})
}

// store writes the blob unless it is already present. A failed attempt may
// still have landed, so existence is checked again before every retry.
func (r *Registry) store(ctx context.Context, key string, size int64, open catalog.OpenFunc) error {
	if ok, err := r.objects.Exists(ctx, key); err == nil && ok {
		r.logger.InfoContext(ctx, "blob already present", "key", key)
		return nil
	}

	attempt := 0
	return retry.Do(ctx, r.retry, func() error {
		attempt++
		if attempt > 1 {
			if ok, err := r.objects.Exists(ctx, key); err == nil && ok {
				return nil
			}
		}
		rc, err := open()
		if err != nil {
			return retry.NonRetryable(fmt.Errorf("failed to reopen source: %w", err))
		}
		defer rc.Close()
		return r.objects.Put(ctx, key, rc, size)
	}, func(err error, wait time.Duration) {
		r.logger.WarnContext(ctx, "retrying blob upload", "key", key, "attempt", attempt, "wait", wait, "err", err)
	})
}

// PresignedURL returns a read-only download URL and its expiry time. Stores
// that hand out previously signed URLs report the expiry themselves.
func (r *Registry) PresignedURL(ctx context.Context, source *catalog.Source) (string, time.Time, error) {
	type signed struct {
		url     string
		expires time.Time
	}
	res, err := retry.DoWithResult(ctx, r.retry, func() (signed, error) {
		if p, ok := r.objects.(catalog.ExpiringPresigner); ok {
			url, expires, err := p.PresignGetExpiry(ctx, source.StorageKey, r.expiry)
			return signed{url, expires}, err
		}
		expires := r.now().Add(r.expiry)
		url, err := r.objects.PresignGet(ctx, source.StorageKey, r.expiry)
		return signed{url, expires}, err
	}, nil)
	if err != nil {
		return "", time.Time{}, err
	}
	return res.url, res.expires, nil
}

// Confirm reports whether the source's blob is present in the object store.
func (r *Registry) Confirm(ctx context.Context, source *catalog.Source) (bool, error) {
	return retry.DoWithResult(ctx, r.retry, func() (bool, error) {
		return r.objects.Exists(ctx, source.StorageKey)
	}, nil)
}

// Delete removes a source that no product other than holder references.
// The record is claimed first, which atomically re-checks references and
// stops new products from linking it; only then is the blob deleted. If the
// blob cannot be deleted the claim is cleared, so the worst case is a
// leaked blob rather than a product pointing at missing bytes.
func (r *Registry) Delete(ctx context.Context, source *catalog.Source, holder uuid.UUID) error {
	mu := r.lock(hash.Digest(source.Digest))
	mu.Lock()
	defer mu.Unlock()

	if err := r.sources.ClaimSource(ctx, source.ID, holder); err != nil {
		return fmt.Errorf("failed to claim source %s: %w", source.ID, err)
	}

	err := retry.Do(ctx, r.retry, func() error {
		return r.objects.Delete(ctx, source.StorageKey)
	}, nil)
	if err != nil {
		if uerr := r.sources.UnclaimSource(context.WithoutCancel(ctx), source.ID); uerr != nil {
			r.logger.ErrorContext(ctx, "failed to clear source claim", "source_id", source.ID, "err", uerr)
		}
		return &catalog.StorageError{Key: source.StorageKey, Op: "delete", Err: err}
	}
	if err := r.sources.DeleteSource(ctx, source.ID); err != nil {
		return fmt.Errorf("failed to delete source record %s: %w", source.ID, err)
	}
	r.logger.InfoContext(ctx, "source deleted", "source_id", source.ID, "digest", source.Digest)
	return nil
}

func (r *Registry) lock(digest hash.Digest) *sync.Mutex {
	var idx uint64
	if len(digest) >= 4 {
		idx, _ = strconv.ParseUint(string(digest[:4]), 16, 32)
	}
	return &r.locks[idx%lockStripes]
}

func reuse(existing *catalog.Source, size int64) (*catalog.Registration, error) {
	if existing.Size != size {
		return nil, sizeMismatch(existing, size)
	}
	return &catalog.Registration{Source: existing, Reused: true}, nil
}

func sizeMismatch(existing *catalog.Source, size int64) error {
	return &catalog.IntegrityError{
		Digest:   existing.Digest,
		SourceID: existing.ID,
		Reason:   fmt.Sprintf("stored size %d does not match uploaded size %d", existing.Size, size),
	}
}
