// Package storetest provides shared conformance tests for store.Backend
// implementations. Call RunAll from a test function to verify a backend
// satisfies the full behavioral contract.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4dn-dcic/foursight-sub000/internal/store"
)

// RunAll runs the complete backend conformance suite as subtests.
func RunAll(t *testing.T, b store.Backend) {
	t.Helper()

	t.Run("PutGet", func(t *testing.T) { TestPutGet(t, b) })
	t.Run("GetNotFound", func(t *testing.T) { TestGetNotFound(t, b) })
	t.Run("Overwrite", func(t *testing.T) { TestOverwrite(t, b) })
	t.Run("PutIfAbsent", func(t *testing.T) { TestPutIfAbsent(t, b) })
	t.Run("PutIfAbsentRace", func(t *testing.T) { TestPutIfAbsentRace(t, b) })
	t.Run("ListKeysPrefix", func(t *testing.T) { TestListKeysPrefix(t, b) })
	t.Run("ListKeysLarge", func(t *testing.T) { TestListKeysLarge(t, b) })
	t.Run("Delete", func(t *testing.T) { TestDelete(t, b) })
	t.Run("CountAndSize", func(t *testing.T) { TestCountAndSize(t, b) })
}

// TestPutGet verifies a value round-trips unchanged.
func TestPutGet(t *testing.T, b store.Backend) {
	ctx := context.Background()
	value := []byte(`{"name":"ct_check","status":"PASS"}`)

	require.NoError(t, b.Put(ctx, "ct_putget/latest.json", value))

	got, err := b.Get(ctx, "ct_putget/latest.json")
	require.NoError(t, err)
	assert.JSONEq(t, string(value), string(got))
}

// TestGetNotFound verifies misses surface as store.ErrNotFound.
func TestGetNotFound(t *testing.T, b store.Backend) {
	_, err := b.Get(context.Background(), "ct_missing/nothing-here.json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)
}

// TestOverwrite verifies Put replaces the previous value.
func TestOverwrite(t *testing.T, b store.Backend) {
	ctx := context.Background()
	key := "ct_overwrite/latest.json"

	require.NoError(t, b.Put(ctx, key, []byte(`{"v":1}`)))
	require.NoError(t, b.Put(ctx, key, []byte(`{"v":2}`)))

	got, err := b.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(got))
}

// TestPutIfAbsent verifies only the first conditional write wins.
func TestPutIfAbsent(t *testing.T, b store.Backend) {
	ctx := context.Background()
	key := "ct_cond/action_records/2024-01-01T00:00:00.000000"

	created, err := b.PutIfAbsent(ctx, key, []byte(`{"uuid":"first"}`))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = b.PutIfAbsent(ctx, key, []byte(`{"uuid":"second"}`))
	require.NoError(t, err)
	assert.False(t, created)

	got, err := b.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"uuid":"first"}`, string(got))
}

// TestPutIfAbsentRace verifies exactly one of many concurrent claims succeeds.
func TestPutIfAbsentRace(t *testing.T, b store.Backend) {
	ctx := context.Background()
	key := "ct_race/action_records/2024-01-01T00:00:00.000000"

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			created, err := b.PutIfAbsent(ctx, key, []byte(fmt.Sprintf(`{"n":%d}`, i)))
			if err == nil && created {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

// TestListKeysPrefix verifies prefix listing does not leak sibling names.
func TestListKeysPrefix(t *testing.T, b store.Backend) {
	ctx := context.Background()
	for _, k := range []string{
		"ct_list/2024-01-01T00:00:00.000000.json",
		"ct_list/2024-01-02T00:00:00.000000.json",
		"ct_list/latest.json",
		"ct_list_other/latest.json",
	} {
		require.NoError(t, b.Put(ctx, k, []byte(`{}`)))
	}

	keys, err := b.ListKeys(ctx, "ct_list/")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{
		"ct_list/2024-01-01T00:00:00.000000.json",
		"ct_list/2024-01-02T00:00:00.000000.json",
		"ct_list/latest.json",
	}, keys)
}

// TestListKeysLarge verifies listing returns more than one backend page.
func TestListKeysLarge(t *testing.T, b store.Backend) {
	ctx := context.Background()
	const n = 1050
	for i := 0; i < n; i++ {
		require.NoError(t, b.Put(ctx, fmt.Sprintf("ct_large/%06d.json", i), []byte(`{}`)))
	}

	keys, err := b.ListKeys(ctx, "ct_large/")
	require.NoError(t, err)
	assert.Len(t, keys, n)
}

// TestDelete verifies bulk delete, including the empty no-op.
func TestDelete(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Delete(ctx, nil))

	keys := []string{"ct_delete/a.json", "ct_delete/b.json", "ct_delete/c.json"}
	for _, k := range keys {
		require.NoError(t, b.Put(ctx, k, []byte(`{}`)))
	}

	require.NoError(t, b.Delete(ctx, keys[:2]))

	remaining, err := b.ListKeys(ctx, "ct_delete/")
	require.NoError(t, err)
	assert.Equal(t, []string{"ct_delete/c.json"}, remaining)

	// Deleting already-missing keys is not an error.
	require.NoError(t, b.Delete(ctx, keys[:2]))
}

// TestCountAndSize verifies the operational counters move with writes.
func TestCountAndSize(t *testing.T, b store.Backend) {
	ctx := context.Background()

	before, err := b.Count(ctx)
	require.NoError(t, err)
	sizeBefore, err := b.SizeBytes(ctx)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Put(ctx, fmt.Sprintf("ct_count/%d.json", i), []byte(`{"payload":"0123456789"}`)))
	}

	after, err := b.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+3, after)

	sizeAfter, err := b.SizeBytes(ctx)
	require.NoError(t, err)
	assert.Greater(t, sizeAfter, sizeBefore)
}
