package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-labs/cerberus/core"
)

func TestMemoryStoreSetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Set(ctx, "k", "v", 20*time.Millisecond))
	_, err := s.Get(ctx, "k")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMemoryStoreCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	swapped, err := s.CompareAndSwap(ctx, "k", "a", "b")
	require.NoError(t, err)
	assert.False(t, swapped, "missing key must not swap")

	require.NoError(t, s.Set(ctx, "k", "a", 0))

	swapped, err = s.CompareAndSwap(ctx, "k", "wrong", "b")
	require.NoError(t, err)
	assert.False(t, swapped)

	swapped, err = s.CompareAndSwap(ctx, "k", "a", "b")
	require.NoError(t, err)
	assert.True(t, swapped)

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "b", v)

	// The old value no longer swaps.
	swapped, err = s.CompareAndSwap(ctx, "k", "a", "c")
	require.NoError(t, err)
	assert.False(t, swapped)
}

func TestMemoryStoreCompareAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Set(ctx, "k", "a", 0))

	deleted, err := s.CompareAndDelete(ctx, "k", "wrong")
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = s.CompareAndDelete(ctx, "k", "a")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMemoryStoreIncrWindow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for want := int64(1); want <= 3; want++ {
		got, err := s.Incr(ctx, "c", 30*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	time.Sleep(40 * time.Millisecond)
	got, err := s.Incr(ctx, "c", 30*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got, "count resets once the window elapses")
}

func TestMemoryStoreAllow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < 3; i++ {
		allowed, _, err := s.Allow(ctx, "a", 3, 40*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, retryAfter, err := s.Allow(ctx, "a", 3, 40*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Greater(t, retryAfter, time.Duration(0))

	time.Sleep(50 * time.Millisecond)
	allowed, _, err = s.Allow(ctx, "a", 3, 40*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, allowed, "window elapsed, requests allowed again")
}

func TestMemoryStoreScan(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Set(ctx, "nonce:0xaa", "1", 0))
	require.NoError(t, s.Set(ctx, "nonce:0xbb", "2", 0))
	require.NoError(t, s.Set(ctx, "other:key", "3", 0))

	keys, err := s.Scan(ctx, "nonce:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"nonce:0xaa", "nonce:0xbb"}, keys)
}
