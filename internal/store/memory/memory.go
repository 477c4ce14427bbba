// Package memory implements an in-process store backend for tests and local runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/4dn-dcic/foursight-sub000/internal/store"
)

// Compile-time interface satisfaction check.
var _ store.Backend = (*Backend)(nil)

// Backend is a map-backed store.Backend. It is safe for concurrent use.
type Backend struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{objects: make(map[string][]byte)}
}

// SetErr makes every subsequent operation fail with err until cleared with nil.
func (b *Backend) SetErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

func (b *Backend) Name() string { return "memory" }

func (b *Backend) Put(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.objects[key] = append([]byte(nil), value...)
	return nil
}

func (b *Backend) PutIfAbsent(_ context.Context, key string, value []byte) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return false, b.err
	}
	if _, ok := b.objects[key]; ok {
		return false, nil
	}
	b.objects[key] = append([]byte(nil), value...)
	return true, nil
}

func (b *Backend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	v, ok := b.objects[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// ListKeys returns matching keys in lexical order.
func (b *Backend) ListKeys(_ context.Context, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	keys := make([]string, 0)
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *Backend) Delete(_ context.Context, keys []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	for _, k := range keys {
		delete(b.objects, k)
	}
	return nil
}

func (b *Backend) Count(_ context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return 0, b.err
	}
	return len(b.objects), nil
}

func (b *Backend) SizeBytes(_ context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return 0, b.err
	}
	var n int64
	for _, v := range b.objects {
		n += int64(len(v))
	}
	return n, nil
}

func (b *Backend) Ping(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}
