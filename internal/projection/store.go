// Package projection implements ProjectionStore and ProjectionEngine
// (spec.md §4.5). Tier 1 is an in-memory concurrent map, grounded on the
// teacher's internal/store.MemoryStore mutex-guarded map idiom. Tier 2 is a
// pluggable pkg/contracts.DurableStore, with a Postgres/pgx implementation
// in pgxstore.go.
package projection

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethosengine/doorway/internal/apperr"
	"github.com/ethosengine/doorway/pkg/models"
)

// MemoryStore is tier 1: a concurrent map keyed by storage key, safe for
// reads with no lock contention on the fast path beyond RLock (spec.md §4.5).
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*models.ProjectedDocument // "<doc_type>:<id>" -> doc
}

// NewMemoryStore builds an empty tier-1 store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*models.ProjectedDocument)}
}

// Upsert inserts or overwrites a document keyed by (doc_type,id).
func (m *MemoryStore) Upsert(_ context.Context, doc *models.ProjectedDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.StorageKey()] = doc
	return nil
}

// Get fetches a document by type and id.
func (m *MemoryStore) Get(_ context.Context, docType, id string) (*models.ProjectedDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[models.DocStorageKey(docType, id)]
	if !ok || doc.SoftDeleted {
		return nil, apperr.New(apperr.NotFound, "document not found")
	}
	return doc, nil
}

// Delete soft-deletes a document by invalidating its key (spec.md §4.5).
func (m *MemoryStore) Delete(_ context.Context, docType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := models.DocStorageKey(docType, id)
	doc, ok := m.docs[key]
	if !ok {
		return apperr.New(apperr.NotFound, "document not found")
	}
	doc.SoftDeleted = true
	return nil
}

// QueryByType returns up to limit non-deleted documents of docType. Filters
// over data fields, where needed, are applied client-side by the caller
// (spec.md §4.5) — this method only narrows by type and limit.
func (m *MemoryStore) QueryByType(_ context.Context, docType string, limit int) ([]*models.ProjectedDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := docType + ":"
	out := make([]*models.ProjectedDocument, 0, limit)
	for key, doc := range m.docs {
		if !strings.HasPrefix(key, prefix) || doc.SoftDeleted {
			continue
		}
		out = append(out, doc)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// FindByBlobHash returns the first non-deleted document carrying the given
// BlobHash, used by the blob shard resolver to locate storage endpoints for
// a blob that missed the cache (spec.md §4.8).
func (m *MemoryStore) FindByBlobHash(_ context.Context, blobHash string) (*models.ProjectedDocument, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, doc := range m.docs {
		if doc.BlobHash == blobHash && !doc.SoftDeleted {
			return doc, true
		}
	}
	return nil, false
}

// UpdateBlobEndpoints updates blob_endpoints on every document whose
// BlobHash equals blobHash, returning the count updated (spec.md §4.5
// "update_endpoints").
func (m *MemoryStore) UpdateBlobEndpoints(_ context.Context, blobHash string, endpoints []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, doc := range m.docs {
		if doc.BlobHash == blobHash {
			doc.BlobEndpoints = endpoints
			count++
		}
	}
	return count, nil
}

// Invalidate removes from the map every document whose storage key matches
// pattern; nothing is kept as a soft-deleted row. A single '*' wildcard
// is supported, matching the cache invalidation pattern shape used
// elsewhere in the spec.
func (m *MemoryStore) Invalidate(_ context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.docs {
		if matchPattern(pattern, key) {
			delete(m.docs, key)
		}
	}
	return nil
}

// Close is a no-op for the in-memory tier.
func (m *MemoryStore) Close() error { return nil }

// matchPattern supports a single '*' wildcard, matching any substring
// (including empty) at that position.
func matchPattern(pattern, s string) bool {
	if pattern == s {
		return true
	}
	idx := strings.Index(pattern, "*")
	if idx == -1 {
		return false
	}
	prefix, suffix := pattern[:idx], pattern[idx+1:]
	return strings.HasPrefix(s, prefix) && strings.HasSuffix(s, suffix) && len(s) >= len(prefix)+len(suffix)
}

// expireSweeper periodically removes documents past TTLExpiresAt. Started
// by ProjectionEngine alongside the signal dispatch loop.
func (m *MemoryStore) expireSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.mu.Lock()
			for key, doc := range m.docs {
				if doc.TTLExpiresAt != nil && now.After(*doc.TTLExpiresAt) {
					delete(m.docs, key)
				}
			}
			m.mu.Unlock()
		}
	}
}
