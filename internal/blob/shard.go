package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ethosengine/doorway/internal/apperr"
	"github.com/ethosengine/doorway/pkg/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ManifestLookup resolves a ShardManifest for a blob hash, kept fresh by
// the projection endpoint index (spec.md §4.5/§4.8). pkg/server implements
// it against the ProjectionEngine.
type ManifestLookup func(ctx context.Context, hash string) (*models.ShardManifest, bool)

// Fetcher retrieves one shard's bytes; pkg/server wires this to the HTTP
// client from NewHTTPFetcher (same method set as pkg/contracts.ShardFetcher).
type Fetcher interface {
	FetchShard(ctx context.Context, endpointURL string) ([]byte, error)
}

// Resolver implements the ShardResolver fallback: on a BlobCache miss,
// fetch every shard concurrently, verify integrity, store, and serve
// (spec.md §4.8). golang.org/x/sync's errgroup fans the fetch out;
// singleflight collapses concurrent resolutions of the same hash into one.
type Resolver struct {
	cache    *Cache
	manifest ManifestLookup
	fetcher  Fetcher
	group    singleflight.Group
}

// NewResolver builds a Resolver over cache, using manifest to locate shard
// endpoints and fetcher to retrieve shard bytes.
func NewResolver(cache *Cache, manifest ManifestLookup, fetcher Fetcher) *Resolver {
	return &Resolver{cache: cache, manifest: manifest, fetcher: fetcher}
}

// Resolve fetches, verifies, and caches every shard of hash, returning the
// reassembled blob. A permanently unreachable shard surfaces as NOT_FOUND
// (the HTTP layer renders this as 404, spec.md §4.8).
func (r *Resolver) Resolve(ctx context.Context, hash string) (*models.BlobEntry, error) {
	v, err, _ := r.group.Do(hash, func() (interface{}, error) {
		return r.resolveOnce(ctx, hash)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.BlobEntry), nil
}

func (r *Resolver) resolveOnce(ctx context.Context, hash string) (*models.BlobEntry, error) {
	if entry, ok := r.cache.Get(ctx, hash); ok {
		return entry, nil
	}

	manifest, ok := r.manifest(ctx, hash)
	if !ok {
		return nil, apperr.New(apperr.NotFound, "no shard manifest for blob")
	}

	shardBytes := make([][]byte, manifest.ShardCount)
	g, gctx := errgroup.WithContext(ctx)
	for _, shard := range manifest.Shards {
		shard := shard
		g.Go(func() error {
			data, err := r.fetcher.FetchShard(gctx, shard.Location.EndpointURL)
			if err != nil {
				return fmt.Errorf("fetch shard %d: %w", shard.Index, err)
			}
			shardBytes[shard.Index] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperr.New(apperr.NotFound, "shard permanently unreachable: "+err.Error())
	}

	full := make([]byte, 0, manifest.Size)
	for _, sb := range shardBytes {
		full = append(full, sb...)
	}

	if !verifyHash(hash, full) {
		return nil, apperr.New(apperr.Backend, "reassembled blob failed integrity check")
	}

	entry := r.cache.Put(ctx, hash, full, "application/octet-stream", oneDayTTL())
	return entry, nil
}

func verifyHash(expectedHash string, data []byte) bool {
	sum := sha256.Sum256(data)
	return "sha256-"+hex.EncodeToString(sum[:]) == expectedHash
}

func oneDayTTL() *time.Duration {
	d := 24 * time.Hour
	return &d
}
