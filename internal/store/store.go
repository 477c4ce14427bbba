// Package store provides the key/value abstraction Foursight persists check
// and action results into.
//
// Backends implement Backend and report failures as ordinary Go errors. Store
// wraps exactly one Backend and is the only type the rest of the system talks
// to: it converts every backend error into a "missing" sentinel (false, nil,
// an empty slice or zero) after logging it, so callers never handle transport
// failures directly.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/4dn-dcic/foursight-sub000/internal/metrics"
	"github.com/4dn-dcic/foursight-sub000/pkg/types"
)

// ErrNotFound is returned by backends when a key does not exist.
var ErrNotFound = errors.New("key not found")

// Backend is a single key/value storage implementation.
type Backend interface {
	// Name identifies the backend in logs (e.g. "s3", "redis").
	Name() string

	// Put writes value under key, overwriting any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// PutIfAbsent writes value only when key does not exist yet. It returns
	// false without error when the key was already present.
	PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error)

	// Get returns the value stored under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// ListKeys returns every key starting with prefix. Implementations
	// paginate internally and return the complete set.
	ListKeys(ctx context.Context, prefix string) ([]string, error)

	// Delete removes keys. Deleting an empty set or a missing key succeeds.
	Delete(ctx context.Context, keys []string) error

	// Count returns the number of stored keys.
	Count(ctx context.Context) (int, error)

	// SizeBytes returns the total stored payload size.
	SizeBytes(ctx context.Context) (int64, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// Breaker defaults.
const (
	defaultFailThreshold = 5
	defaultCooldown      = 30 * time.Second
)

// Store is the sentinel-returning adapter in front of a Backend.
type Store struct {
	backend Backend
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for swallowed backend errors.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBreaker overrides the circuit breaker settings.
func WithBreaker(cfg types.BreakerConfig) Option {
	return func(s *Store) { s.breaker = newBreaker(s.backend.Name(), cfg, s.logger) }
}

// New wraps backend in a Store.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.breaker == nil {
		s.breaker = newBreaker(backend.Name(), types.BreakerConfig{}, s.logger)
	}
	return s
}

func newBreaker(name string, cfg types.BreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker {
	threshold := cfg.FailThreshold
	if threshold == 0 {
		threshold = defaultFailThreshold
	}
	cooldown := defaultCooldown
	if cfg.Cooldown != "" {
		if d, err := time.ParseDuration(cfg.Cooldown); err == nil && d > 0 {
			cooldown = d
		}
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "store-" + name,
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("store circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// Backend returns the wrapped backend.
func (s *Store) Backend() Backend { return s.backend }

func (s *Store) call(op, key string, fn func() (interface{}, error)) (interface{}, bool) {
	v, err := s.breaker.Execute(fn)
	if err == nil {
		return v, true
	}
	if !errors.Is(err, ErrNotFound) {
		metrics.StoreErrors.Add(1)
		s.logger.Warn("store operation failed", "backend", s.backend.Name(), "op", op, "key", key, "error", err)
	}
	return nil, false
}

// Put writes value under key. It reports false when the write failed.
func (s *Store) Put(ctx context.Context, key string, value []byte) bool {
	_, ok := s.call("put", key, func() (interface{}, error) {
		return nil, s.backend.Put(ctx, key, value)
	})
	return ok
}

// PutIfAbsent writes value only when key is unused. It reports true only when
// this call created the key; a backend failure reports false.
func (s *Store) PutIfAbsent(ctx context.Context, key string, value []byte) bool {
	v, ok := s.call("put-if-absent", key, func() (interface{}, error) {
		return s.backend.PutIfAbsent(ctx, key, value)
	})
	if !ok {
		return false
	}
	created, _ := v.(bool)
	return created
}

// Get returns the value under key, or nil when the key is absent or the read failed.
func (s *Store) Get(ctx context.Context, key string) []byte {
	v, ok := s.call("get", key, func() (interface{}, error) {
		return s.backend.Get(ctx, key)
	})
	if !ok {
		return nil
	}
	data, _ := v.([]byte)
	return data
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) bool {
	return s.Get(ctx, key) != nil
}

// ListKeys returns every key under prefix, or an empty slice on failure.
func (s *Store) ListKeys(ctx context.Context, prefix string) []string {
	v, ok := s.call("list", prefix, func() (interface{}, error) {
		return s.backend.ListKeys(ctx, prefix)
	})
	if !ok {
		return []string{}
	}
	keys, _ := v.([]string)
	if keys == nil {
		return []string{}
	}
	return keys
}

// Delete removes keys and reports whether the backend accepted the delete.
// An empty key set is a successful no-op.
func (s *Store) Delete(ctx context.Context, keys []string) bool {
	if len(keys) == 0 {
		return true
	}
	_, ok := s.call("delete", fmt.Sprintf("%d keys", len(keys)), func() (interface{}, error) {
		return nil, s.backend.Delete(ctx, keys)
	})
	return ok
}

// Count returns the number of stored keys, or 0 on failure.
func (s *Store) Count(ctx context.Context) int {
	v, ok := s.call("count", "", func() (interface{}, error) {
		return s.backend.Count(ctx)
	})
	if !ok {
		return 0
	}
	n, _ := v.(int)
	return n
}

// SizeBytes returns the total stored size, or 0 on failure.
func (s *Store) SizeBytes(ctx context.Context) int64 {
	v, ok := s.call("size", "", func() (interface{}, error) {
		return s.backend.SizeBytes(ctx)
	})
	if !ok {
		return 0
	}
	n, _ := v.(int64)
	return n
}

// Ping checks backend connectivity. Unlike the data operations it returns the
// error, since it is only used at startup and by health endpoints.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.backend.Ping(ctx); err != nil {
		return fmt.Errorf("%s ping: %w", s.backend.Name(), err)
	}
	return nil
}
