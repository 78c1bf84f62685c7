// Package urlcache caches presigned download URLs in redis so hot products
// do not re-sign every source on every read.
package urlcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/tendant/product-catalog/pkg/catalog"
)

// DefaultPrefix namespaces cache entries
const DefaultPrefix = "catalog:presign:"

// Store wraps a catalog.ObjectStore and caches PresignGet results. An entry
// lives for half the URL's lifetime so a cached URL always has at least that
// much validity left when handed out. Each entry keeps the URL's absolute
// expiry, which PresignGetExpiry reports. Redis failures fall through to the
// wrapped store.
type Store struct {
	catalog.ObjectStore
	rdb    goredis.UniversalClient
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

var (
	_ catalog.ObjectStore       = (*Store)(nil)
	_ catalog.ExpiringPresigner = (*Store)(nil)
)

// Option configures a Store
type Option func(*Store)

// WithPrefix sets the redis key prefix
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock sets the time source used to compute URL expiry
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New wraps next with a redis-backed URL cache
func New(next catalog.ObjectStore, rdb goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		ObjectStore: next,
		rdb:         rdb,
		prefix:      DefaultPrefix,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial connects to the redis server at rawURL (redis://host:port/db) and
// checks it answers.
func Dial(ctx context.Context, rawURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// PresignGet returns a cached URL signed for the same expiry, or signs a new
// one and caches it.
func (s *Store) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	url, _, err := s.PresignGetExpiry(ctx, key, expiry)
	return url, err
}

// PresignGetExpiry is PresignGet that also reports when the returned URL,
// which may have been signed by an earlier call, expires.
func (s *Store) PresignGetExpiry(ctx context.Context, key string, expiry time.Duration) (string, time.Time, error) {
	cacheKey := s.prefix + key
	cached, err := s.rdb.Get(ctx, cacheKey).Result()
	switch {
	case err == nil:
		if url, expires, ok := decode(cached, expiry); ok && expires.After(s.now()) {
			return url, expires, nil
		}
	case !errors.Is(err, goredis.Nil):
		s.logger.WarnContext(ctx, "presign cache read failed", "key", key, "err", err)
	}

	url, expires, err := s.sign(ctx, key, expiry)
	if err != nil {
		return "", time.Time{}, err
	}
	if ttl := expiry / 2; ttl > 0 {
		if err := s.rdb.Set(ctx, cacheKey, encode(url, expiry, expires), ttl).Err(); err != nil {
			s.logger.WarnContext(ctx, "presign cache write failed", "key", key, "err", err)
		}
	}
	return url, expires, nil
}

func (s *Store) sign(ctx context.Context, key string, expiry time.Duration) (string, time.Time, error) {
	if p, ok := s.ObjectStore.(catalog.ExpiringPresigner); ok {
		return p.PresignGetExpiry(ctx, key, expiry)
	}
	// taken before signing so the reported expiry is never later than the URL's
	expires := s.now().Add(expiry)
	url, err := s.ObjectStore.PresignGet(ctx, key, expiry)
	return url, expires, err
}

// Delete removes the object and drops any cached URL for it
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.ObjectStore.Delete(ctx, key); err != nil {
		return err
	}
	if err := s.rdb.Del(ctx, s.prefix+key).Err(); err != nil {
		s.logger.WarnContext(ctx, "presign cache invalidation failed", "key", key, "err", err)
	}
	return nil
}

// entries are "<expiry nanoseconds> <expires at, unix nanoseconds> <url>"
func encode(url string, expiry time.Duration, expires time.Time) string {
	return strconv.FormatInt(int64(expiry), 10) + " " + strconv.FormatInt(expires.UnixNano(), 10) + " " + url
}

func decode(entry string, expiry time.Duration) (string, time.Time, bool) {
	head, rest, ok := strings.Cut(entry, " ")
	if !ok {
		return "", time.Time{}, false
	}
	n, err := strconv.ParseInt(head, 10, 64)
	if err != nil || time.Duration(n) != expiry {
		return "", time.Time{}, false
	}
	at, url, ok := strings.Cut(rest, " ")
	if !ok {
		return "", time.Time{}, false
	}
	nanos, err := strconv.ParseInt(at, 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return url, time.Unix(0, nanos).UTC(), true
}
