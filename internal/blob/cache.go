package blob

import (
	"context"
	"sync"
	"time"

	"github.com/ethosengine/doorway/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Cache is the BlobCache named in spec.md §4.7-4.8: a size-first, local
// lookup backed optionally by a distributed Redis tier so multiple Doorway
// instances share warmed blobs. Grounded on redis/go-redis/v9, the same
// backend used by the REST byte cache.
type Cache struct {
	mu    sync.RWMutex
	local map[string]*models.BlobEntry // hash -> entry

	redis *redis.Client
}

// NewCache builds a Cache. rdb may be nil, in which case the cache is
// local-only (fine for a single-instance deployment or tests).
func NewCache(rdb *redis.Client) *Cache {
	return &Cache{
		local: make(map[string]*models.BlobEntry),
		redis: rdb,
	}
}

// ETag is a stable function of hash (spec.md §3 BlobEntry invariant).
func ETag(hash string) string {
	return `"` + hash + `"`
}

// Put stores bytes under hash, computing its ETag. Puts are idempotent:
// storing the same hash twice with the same bytes is a no-op identity.
func (c *Cache) Put(ctx context.Context, hash string, data []byte, contentType string, ttl *time.Duration) *models.BlobEntry {
	entry := &models.BlobEntry{
		Hash:        hash,
		Bytes:       data,
		ContentType: contentType,
		ETag:        ETag(hash),
		Size:        int64(len(data)),
		TTL:         ttl,
	}

	c.mu.Lock()
	c.local[hash] = entry
	c.mu.Unlock()

	if c.redis != nil {
		key := redisBlobKey(hash)
		pipe := c.redis.Pipeline()
		pipe.HSet(ctx, key, map[string]interface{}{
			"bytes":        data,
			"content_type": contentType,
		})
		if ttl != nil {
			pipe.Expire(ctx, key, *ttl)
		}
		_, _ = pipe.Exec(ctx) // best-effort: local tier already has it
	}

	return entry
}

// Get performs the size-first lookup: check local, then (if configured)
// fall through to Redis and rehydrate the local tier on hit.
func (c *Cache) Get(ctx context.Context, hash string) (*models.BlobEntry, bool) {
	c.mu.RLock()
	entry, ok := c.local[hash]
	c.mu.RUnlock()
	if ok {
		return entry, true
	}

	if c.redis == nil {
		return nil, false
	}

	res, err := c.redis.HGetAll(ctx, redisBlobKey(hash)).Result()
	if err != nil || len(res) == 0 {
		return nil, false
	}

	entry = &models.BlobEntry{
		Hash:        hash,
		Bytes:       []byte(res["bytes"]),
		ContentType: res["content_type"],
		ETag:        ETag(hash),
		Size:        int64(len(res["bytes"])),
	}

	c.mu.Lock()
	c.local[hash] = entry
	c.mu.Unlock()

	return entry, true
}

func redisBlobKey(hash string) string {
	return "doorway:blob:" + hash
}

// NotModified reports whether ifNoneMatch matches entry's ETag exactly
// (spec.md §4.7's 304 rule; no weak-comparison support is needed here).
func NotModified(entry *models.BlobEntry, ifNoneMatch string) bool {
	return ifNoneMatch != "" && ifNoneMatch == entry.ETag
}
