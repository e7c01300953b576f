package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newMiniredisClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

// A fresh ByteStore has an empty local tier, so a Get here only succeeds by
// falling through to the shared Redis tier a different instance wrote to.
func TestByteStore_FallsThroughToRedisAcrossInstances(t *testing.T) {
	rdb := newMiniredisClient(t)
	ctx := context.Background()

	writer := NewByteStore(rdb)
	require.NoError(t, writer.Set(ctx, "dna:zome:fn:abc:commons", []byte("payload"), 300))

	reader := NewByteStore(rdb)
	got, ok, err := reader.Get(ctx, "dna:zome:fn:abc:commons")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "payload", string(got))
}

func TestByteStore_InvalidateRemovesFromRedis(t *testing.T) {
	rdb := newMiniredisClient(t)
	ctx := context.Background()

	s := NewByteStore(rdb)
	require.NoError(t, s.Set(ctx, "dna:zome:fn:abc:commons", []byte("payload"), 300))
	require.NoError(t, s.Invalidate(ctx, "dna:zome:fn:abc:commons"))

	fresh := NewByteStore(rdb)
	_, ok, err := fresh.Get(ctx, "dna:zome:fn:abc:commons")
	require.NoError(t, err)
	require.False(t, ok)
}
