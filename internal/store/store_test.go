package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4dn-dcic/foursight-sub000/internal/store"
	"github.com/4dn-dcic/foursight-sub000/internal/store/memory"
	"github.com/4dn-dcic/foursight-sub000/pkg/types"
)

func TestStore_HappyPath(t *testing.T) {
	ctx := context.Background()
	s := store.New(memory.New())

	assert.True(t, s.Put(ctx, "chk/latest.json", []byte(`{"a":1}`)))
	assert.Equal(t, []byte(`{"a":1}`), s.Get(ctx, "chk/latest.json"))
	assert.True(t, s.Exists(ctx, "chk/latest.json"))
	assert.Equal(t, []string{"chk/latest.json"}, s.ListKeys(ctx, "chk/"))
	assert.Equal(t, 1, s.Count(ctx))
	assert.Equal(t, int64(7), s.SizeBytes(ctx))

	assert.True(t, s.Delete(ctx, []string{"chk/latest.json"}))
	assert.Nil(t, s.Get(ctx, "chk/latest.json"))
}

func TestStore_MissingKeyIsNil(t *testing.T) {
	s := store.New(memory.New())
	assert.Nil(t, s.Get(context.Background(), "nope/latest.json"))
	assert.False(t, s.Exists(context.Background(), "nope/latest.json"))
}

func TestStore_EmptyDeleteIsNoop(t *testing.T) {
	b := memory.New()
	b.SetErr(errors.New("backend down"))
	s := store.New(b)

	// Never reaches the backend.
	assert.True(t, s.Delete(context.Background(), nil))
}

func TestStore_BackendErrorsBecomeSentinels(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	s := store.New(b)
	require.True(t, s.Put(ctx, "chk/latest.json", []byte(`{}`)))

	b.SetErr(errors.New("connection reset"))

	assert.False(t, s.Put(ctx, "chk/latest.json", []byte(`{}`)))
	assert.False(t, s.PutIfAbsent(ctx, "chk/action_records/x", []byte(`{}`)))
	assert.Nil(t, s.Get(ctx, "chk/latest.json"))
	assert.Equal(t, []string{}, s.ListKeys(ctx, "chk/"))
	assert.False(t, s.Delete(ctx, []string{"chk/latest.json"}))
	assert.Equal(t, 0, s.Count(ctx))
	assert.Equal(t, int64(0), s.SizeBytes(ctx))
	assert.Error(t, s.Ping(ctx))
}

func TestStore_BreakerOpensAndRecovers(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	s := store.New(b, store.WithBreaker(types.BreakerConfig{FailThreshold: 2, Cooldown: "1h"}))
	require.True(t, s.Put(ctx, "chk/latest.json", []byte(`{}`)))

	b.SetErr(errors.New("timeout"))
	assert.Nil(t, s.Get(ctx, "chk/latest.json"))
	assert.Nil(t, s.Get(ctx, "chk/latest.json"))

	// Backend is healthy again but the breaker stays open for the cooldown.
	b.SetErr(nil)
	assert.Nil(t, s.Get(ctx, "chk/latest.json"))
}

func TestStore_NotFoundDoesNotTripBreaker(t *testing.T) {
	ctx := context.Background()
	s := store.New(memory.New(), store.WithBreaker(types.BreakerConfig{FailThreshold: 1, Cooldown: "1h"}))

	for i := 0; i < 5; i++ {
		assert.Nil(t, s.Get(ctx, "chk/missing.json"))
	}
	assert.True(t, s.Put(ctx, "chk/latest.json", []byte(`{}`)))
	assert.NotNil(t, s.Get(ctx, "chk/latest.json"))
}

func TestStore_PutIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := store.New(memory.New())

	assert.True(t, s.PutIfAbsent(ctx, "chk/action_records/u1", []byte(`{}`)))
	assert.False(t, s.PutIfAbsent(ctx, "chk/action_records/u1", []byte(`{}`)))
}
