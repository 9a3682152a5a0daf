// Package rediscache puts a Redis read-through cache in front of the audit
// store's count query, the expensive half of every listing.
package rediscache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	audit "landrecords/pkg/platform/audit"

	"github.com/redis/go-redis/v9"
)

// Backend is the store being cached.
type Backend interface {
	audit.Store
	audit.Reader
}

// Store caches Count results keyed by a generation number and the filter.
// Every Append bumps the generation, so a new record is never hidden behind a
// stale total; the TTL only bounds how long orphaned keys linger.
type Store struct {
	backend Backend
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	logger  *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func New(backend Backend, client *redis.Client, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		client:  client,
		prefix:  "audit",
		ttl:     30 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) generationKey() string {
	return s.prefix + ":count:gen"
}

func (s *Store) countKey(gen int64, filter audit.Filter) string {
	sum := sha256.Sum256([]byte(filter.Key()))
	return fmt.Sprintf("%s:count:%d:%s", s.prefix, gen, hex.EncodeToString(sum[:]))
}

// Append writes through to the backend and then invalidates cached counts.
func (s *Store) Append(ctx context.Context, row audit.Row) error {
	if err := s.backend.Append(ctx, row); err != nil {
		return err
	}
	if err := s.client.Incr(ctx, s.generationKey()).Err(); err != nil {
		s.logger.WarnContext(ctx, "failed to bump audit count generation", "error", err)
	}
	return nil
}

// Count serves from Redis when possible. Any Redis failure falls back to the
// backend so the cache can never make a listing fail.
func (s *Store) Count(ctx context.Context, filter audit.Filter) (int64, error) {
	gen, err := s.generation(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "audit count cache unavailable", "error", err)
		return s.backend.Count(ctx, filter)
	}
	key := s.countKey(gen, filter)

	cached, err := s.client.Get(ctx, key).Result()
	if err == nil {
		if n, convErr := strconv.ParseInt(cached, 10, 64); convErr == nil {
			return n, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		s.logger.WarnContext(ctx, "audit count cache read failed", "error", err)
	}

	n, err := s.backend.Count(ctx, filter)
	if err != nil {
		return 0, err
	}
	if err := s.client.Set(ctx, key, n, s.ttl).Err(); err != nil {
		s.logger.WarnContext(ctx, "audit count cache write failed", "error", err)
	}
	return n, nil
}

// Find is not cached; pages are cheap with the created_at index.
func (s *Store) Find(ctx context.Context, filter audit.Filter, order audit.Order, limit, offset int) ([]audit.Record, error) {
	return s.backend.Find(ctx, filter, order, limit, offset)
}

func (s *Store) generation(ctx context.Context) (int64, error) {
	v, err := s.client.Get(ctx, s.generationKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}
