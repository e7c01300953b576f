package blob

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// A fresh Cache has an empty local tier, so Get here only succeeds by
// falling through to the shared Redis tier a different instance Put into.
func TestCache_FallsThroughToRedisAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	writer := NewCache(rdb)
	writer.Put(ctx, "sha256-aaa", []byte("bytes"), "image/png", nil)

	reader := NewCache(rdb)
	entry, ok := reader.Get(ctx, "sha256-aaa")
	require.True(t, ok)
	require.Equal(t, []byte("bytes"), entry.Bytes)
	require.Equal(t, "image/png", entry.ContentType)
}
