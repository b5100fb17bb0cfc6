// Package cachetest provides a shared conformance suite that every
// cache.Backend implementation's test file runs against.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/mokuro-online/internal/cache"
)

// RunBackendConformance exercises the invariants a Backend must satisfy
// regardless of storage engine (key canonicalization is the Cache
// layer's job, not the Backend's, so this suite talks to Backend
// directly with already-lowercase keys). Every Backend implementation's
// own test file calls this with a fresh instance per subtest.
func RunBackendConformance(t *testing.T, newBackend func(t *testing.T) cache.Backend) {
	t.Helper()
	ctx := context.Background()

	t.Run("set then get round-trips", func(t *testing.T) {
		b := newBackend(t)
		defer b.Close()
		key := "0123456789abcdef0123456789abcdef"
		require.NoError(t, b.Set(ctx, key, []byte("hello"), time.Time{}))
		val, ok, err := b.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []byte("hello"), val)
	})

	t.Run("get on unset key is a miss", func(t *testing.T) {
		b := newBackend(t)
		defer b.Close()
		_, ok, err := b.Get(ctx, "ffffffffffffffffffffffffffffffff")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("set then delete then get is a miss", func(t *testing.T) {
		b := newBackend(t)
		defer b.Close()
		key := "1111111111111111111111111111111a"
		require.NoError(t, b.Set(ctx, key, []byte("v"), time.Time{}))
		removed, err := b.Delete(ctx, key)
		require.NoError(t, err)
		require.True(t, removed)
		_, ok, err := b.Get(ctx, key)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("add fails on existing key", func(t *testing.T) {
		b := newBackend(t)
		defer b.Close()
		key := "2222222222222222222222222222222a"
		ok, err := b.Add(ctx, key, []byte("first"), time.Time{})
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = b.Add(ctx, key, []byte("second"), time.Time{})
		require.NoError(t, err)
		require.False(t, ok)
		val, _, err := b.Get(ctx, key)
		require.NoError(t, err)
		require.Equal(t, []byte("first"), val)
	})

	t.Run("expired entries are absent", func(t *testing.T) {
		b := newBackend(t)
		defer b.Close()
		key := "3333333333333333333333333333333a"
		require.NoError(t, b.Set(ctx, key, []byte("v"), time.Now().Add(-time.Second)))
		_, ok, err := b.Get(ctx, key)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("delete expired removes stale rows only", func(t *testing.T) {
		b := newBackend(t)
		defer b.Close()
		require.NoError(t, b.Set(ctx, "4444444444444444444444444444444a", []byte("stale"), time.Now().Add(-time.Second)))
		require.NoError(t, b.Set(ctx, "5555555555555555555555555555555a", []byte("fresh"), time.Time{}))
		n, err := b.DeleteExpired(ctx, time.Now())
		require.NoError(t, err)
		require.EqualValues(t, 1, n)
		count, err := b.Count(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 1, count)
	})

	t.Run("delete oldest removes smallest updated first", func(t *testing.T) {
		b := newBackend(t)
		defer b.Close()
		keys := []string{
			"60000000000000000000000000000001",
			"60000000000000000000000000000002",
			"60000000000000000000000000000003",
		}
		for _, k := range keys {
			require.NoError(t, b.Set(ctx, k, []byte("xxxx"), time.Time{}))
			time.Sleep(2 * time.Millisecond)
		}
		removed, freed, err := b.DeleteOldest(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, []string{keys[0]}, removed)
		require.EqualValues(t, 4, freed)
		count, err := b.Count(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 2, count)
	})

	t.Run("clear truncates the store", func(t *testing.T) {
		b := newBackend(t)
		defer b.Close()
		require.NoError(t, b.Set(ctx, "7777777777777777777777777777777a", []byte("v"), time.Time{}))
		require.NoError(t, b.Clear(ctx))
		count, err := b.Count(ctx)
		require.NoError(t, err)
		require.Zero(t, count)
	})

	t.Run("total bytes reflects stored values", func(t *testing.T) {
		b := newBackend(t)
		defer b.Close()
		require.NoError(t, b.Set(ctx, "8888888888888888888888888888888a", []byte("12345"), time.Time{}))
		require.NoError(t, b.Set(ctx, "9999999999999999999999999999999a", []byte("123"), time.Time{}))
		total, err := b.TotalBytes(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 8, total)
	})
}
