// Package redis implements the result store backend on Redis/Valkey.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/4dn-dcic/foursight-sub000/internal/store"
	"github.com/4dn-dcic/foursight-sub000/pkg/types"
)

// Compile-time interface satisfaction check.
var _ store.Backend = (*Backend)(nil)

const (
	defaultPrefix = "foursight:"
	scanBatchSize = 500
	delBatchSize  = 500
)

// Backend stores each key as a Redis string under a common key prefix.
type Backend struct {
	client *goredis.Client
	prefix string
}

// New creates a Redis backend.
func New(cfg *types.RedisConfig) *Backend {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewFromClient(client, cfg.KeyPrefix)
}

// NewFromClient creates a Backend from an existing client (useful for testing).
func NewFromClient(client *goredis.Client, prefix string) *Backend {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Backend{client: client, prefix: prefix}
}

// Close closes the client connection.
func (b *Backend) Close() error {
	return b.client.Close()
}

func (b *Backend) Name() string { return "redis" }

// Ping checks connectivity to the Redis server.
func (b *Backend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (b *Backend) Put(ctx context.Context, key string, value []byte) error {
	if err := b.client.Set(ctx, b.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

func (b *Backend) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	ok, err := b.client.SetNX(ctx, b.prefix+key, value, 0).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("getting %s: %w", key, err)
	}
	return data, nil
}

func (b *Backend) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := b.scan(ctx, prefix, func(batch []string) error {
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, b.prefix))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (b *Backend) Delete(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += delBatchSize {
		end := start + delBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		full := make([]string, 0, end-start)
		for _, k := range keys[start:end] {
			full = append(full, b.prefix+k)
		}
		if err := b.client.Del(ctx, full...).Err(); err != nil {
			return fmt.Errorf("deleting %d keys: %w", len(full), err)
		}
	}
	return nil
}

// Count counts the keys under this backend's prefix. DBSIZE would include
// keys owned by other applications sharing the database.
func (b *Backend) Count(ctx context.Context) (int, error) {
	n := 0
	err := b.scan(ctx, "", func(batch []string) error {
		n += len(batch)
		return nil
	})
	return n, err
}

func (b *Backend) SizeBytes(ctx context.Context) (int64, error) {
	var total int64
	err := b.scan(ctx, "", func(batch []string) error {
		pipe := b.client.Pipeline()
		cmds := make([]*goredis.IntCmd, len(batch))
		for i, k := range batch {
			cmds[i] = pipe.StrLen(ctx, k)
		}
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
			return fmt.Errorf("strlen: %w", err)
		}
		for _, c := range cmds {
			total += c.Val()
		}
		return nil
	})
	return total, err
}

func (b *Backend) scan(ctx context.Context, prefix string, fn func([]string) error) error {
	var cursor uint64
	pattern := escapeGlob(b.prefix+prefix) + "*"
	for {
		keys, nextCursor, err := b.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("scanning %q: %w", prefix, err)
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		cursor = nextCursor
		if cursor == 0 {
			return nil
		}
	}
}

// escapeGlob quotes the characters SCAN MATCH treats as pattern syntax.
func escapeGlob(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
