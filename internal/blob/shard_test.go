package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/ethosengine/doorway/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	data map[string][]byte
	fail map[string]bool
}

func (f *fakeFetcher) FetchShard(ctx context.Context, endpointURL string) ([]byte, error) {
	if f.fail[endpointURL] {
		return nil, assert.AnError
	}
	return f.data[endpointURL], nil
}

func buildManifest(parts [][]byte) (string, *models.ShardManifest) {
	full := append([]byte{}, parts[0]...)
	for _, p := range parts[1:] {
		full = append(full, p...)
	}
	sum := sha256.Sum256(full)
	hash := "sha256-" + hex.EncodeToString(sum[:])

	shards := make([]models.Shard, len(parts))
	for i, p := range parts {
		shards[i] = models.Shard{Index: i, Size: int64(len(p)), Location: models.ShardLocation{EndpointURL: "https://peer/shard" + string(rune('0'+i))}}
	}
	return hash, &models.ShardManifest{BlobHash: hash, Size: int64(len(full)), ShardCount: len(parts), Shards: shards}
}

func TestResolver_ReassemblesAndVerifiesIntegrity(t *testing.T) {
	parts := [][]byte{[]byte("hello "), []byte("world")}
	hash, manifest := buildManifest(parts)

	fetcher := &fakeFetcher{data: map[string][]byte{
		"https://peer/shard0": parts[0],
		"https://peer/shard1": parts[1],
	}}

	cache := NewCache(nil)
	lookup := func(ctx context.Context, h string) (*models.ShardManifest, bool) {
		if h == hash {
			return manifest, true
		}
		return nil, false
	}

	resolver := NewResolver(cache, lookup, fetcher)
	entry, err := resolver.Resolve(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), entry.Bytes)

	cached, ok := cache.Get(context.Background(), hash)
	require.True(t, ok)
	assert.Equal(t, entry.Bytes, cached.Bytes)
}

func TestResolver_PermanentlyUnreachableShardReturnsNotFound(t *testing.T) {
	parts := [][]byte{[]byte("hello "), []byte("world")}
	hash, manifest := buildManifest(parts)

	fetcher := &fakeFetcher{
		data: map[string][]byte{"https://peer/shard0": parts[0]},
		fail: map[string]bool{"https://peer/shard1": true},
	}

	cache := NewCache(nil)
	lookup := func(ctx context.Context, h string) (*models.ShardManifest, bool) { return manifest, true }

	resolver := NewResolver(cache, lookup, fetcher)
	_, err := resolver.Resolve(context.Background(), hash)
	assert.Error(t, err)
}

func TestResolver_NoManifestReturnsNotFound(t *testing.T) {
	cache := NewCache(nil)
	lookup := func(ctx context.Context, h string) (*models.ShardManifest, bool) { return nil, false }
	resolver := NewResolver(cache, lookup, &fakeFetcher{})

	_, err := resolver.Resolve(context.Background(), "sha256-missing")
	assert.Error(t, err)
}
