package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/redis/go-redis/v9"
)

// ByteStore implements contracts.ByteCache: the legacy REST response cache
// named in spec.md §4.6 step 4, keyed by (dna, zome, fn, stable-hash(args)).
// Mirrors internal/blob.Cache's local-map-plus-optional-Redis shape.
type ByteStore struct {
	mu    sync.RWMutex
	local map[string]byteEntry
	redis *redis.Client
}

type byteEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewByteStore builds a ByteStore. rdb may be nil, in which case the store
// runs purely in-memory (single-process deployments, spec.md §9 "no Redis
// configured").
func NewByteStore(rdb *redis.Client) *ByteStore {
	return &ByteStore{local: make(map[string]byteEntry), redis: rdb}
}

// Get returns the cached bytes for key, or ok=false on miss or expiry.
func (s *ByteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	e, ok := s.local[key]
	s.mu.RUnlock()
	if ok {
		if time.Now().After(e.expiresAt) {
			return nil, false, nil
		}
		return e.value, true, nil
	}

	if s.redis == nil {
		return nil, false, nil
	}
	data, err := s.redis.Get(ctx, redisByteKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, nil
	}
	return data, true, nil
}

// Set stores value under key with the given TTL in seconds, in both tiers.
func (s *ByteStore) Set(ctx context.Context, key string, value []byte, ttlSecs int) error {
	ttl := time.Duration(ttlSecs) * time.Second
	s.mu.Lock()
	s.local[key] = byteEntry{value: value, expiresAt: time.Now().Add(ttl)}
	s.mu.Unlock()

	if s.redis != nil {
		_ = s.redis.Set(ctx, redisByteKey(key), value, ttl).Err()
	}
	return nil
}

// Invalidate removes every key matching a single-`*`-wildcard pattern, the
// same invalidate-pattern contract the durable stores implement.
func (s *ByteStore) Invalidate(ctx context.Context, pattern string) error {
	s.mu.Lock()
	for k := range s.local {
		if byteCacheMatch(pattern, k) {
			delete(s.local, k)
		}
	}
	s.mu.Unlock()

	if s.redis != nil {
		if strings.IndexByte(pattern, '*') < 0 {
			_ = s.redis.Del(ctx, redisByteKey(pattern)).Err()
		} else {
			iter := s.redis.Scan(ctx, 0, redisByteKey(pattern), 0).Iterator()
			for iter.Next(ctx) {
				_ = s.redis.Del(ctx, iter.Val()).Err()
			}
		}
	}
	return nil
}

func redisByteKey(key string) string {
	return "doorway:bytecache:" + key
}

// StableHashArgs produces a deterministic hash of a query string regardless
// of parameter order, used to build the cache key named in spec.md §4.6
// step 3. Args are marshaled to JSON and run through jcs.Transform (RFC 8785
// canonical JSON) before hashing, so the key is stable across both key order
// and Go's own map-encoding behavior.
func StableHashArgs(args url.Values) string {
	normalized := make(map[string][]string, len(args))
	for k, v := range args {
		values := append([]string{}, v...)
		sort.Strings(values)
		normalized[k] = values
	}

	raw, err := json.Marshal(normalized)
	if err != nil {
		raw = []byte("{}")
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		canonical = raw
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

func byteCacheMatch(pattern, s string) bool {
	star := strings.IndexByte(pattern, '*')
	if star < 0 {
		return pattern == s
	}
	prefix, suffix := pattern[:star], pattern[star+1:]
	return strings.HasPrefix(s, prefix) && strings.HasSuffix(s, suffix) && len(s) >= len(prefix)+len(suffix)
}
