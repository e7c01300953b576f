package projection

import (
	"context"
	"testing"

	"github.com/ethosengine/doorway/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_UpsertThenGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	doc := &models.ProjectedDocument{DocType: "note", ID: "1", Data: "hello"}
	require.NoError(t, s.Upsert(ctx, doc))

	got, err := s.Get(ctx, "note", "1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Data)
}

func TestMemoryStore_DeleteThenGetReturnsNotFound(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &models.ProjectedDocument{DocType: "note", ID: "1"}))
	require.NoError(t, s.Delete(ctx, "note", "1"))

	_, err := s.Get(ctx, "note", "1")
	assert.Error(t, err)
}

func TestMemoryStore_UpdateBlobEndpoints_UpdatesAllMatchingDocs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &models.ProjectedDocument{DocType: "photo", ID: "1", BlobHash: "sha256-aaa"}))
	require.NoError(t, s.Upsert(ctx, &models.ProjectedDocument{DocType: "photo", ID: "2", BlobHash: "sha256-aaa"}))
	require.NoError(t, s.Upsert(ctx, &models.ProjectedDocument{DocType: "photo", ID: "3", BlobHash: "sha256-bbb"}))

	count, err := s.UpdateBlobEndpoints(ctx, "sha256-aaa", []string{"https://peer1/blob"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	doc1, _ := s.Get(ctx, "photo", "1")
	assert.Equal(t, []string{"https://peer1/blob"}, doc1.BlobEndpoints)
	doc3, _ := s.Get(ctx, "photo", "3")
	assert.Empty(t, doc3.BlobEndpoints)
}

func TestMemoryStore_FindByBlobHashSkipsSoftDeleted(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &models.ProjectedDocument{DocType: "photo", ID: "1", BlobHash: "sha256-aaa"}))
	doc, ok := s.FindByBlobHash(ctx, "sha256-aaa")
	require.True(t, ok)
	assert.Equal(t, "1", doc.ID)

	require.NoError(t, s.Delete(ctx, "photo", "1"))
	_, ok = s.FindByBlobHash(ctx, "sha256-aaa")
	assert.False(t, ok)

	_, ok = s.FindByBlobHash(ctx, "sha256-missing")
	assert.False(t, ok)
}

func TestMemoryStore_QueryByTypeRespectsLimitAndExcludesDeleted(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Upsert(ctx, &models.ProjectedDocument{DocType: "note", ID: string(rune('a' + i))}))
	}
	require.NoError(t, s.Delete(ctx, "note", "a"))

	out, err := s.QueryByType(ctx, "note", 3)
	require.NoError(t, err)
	assert.Len(t, out, 3)
	for _, doc := range out {
		assert.NotEqual(t, "a", doc.ID)
	}
}

func TestMemoryStore_InvalidateWildcard(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &models.ProjectedDocument{DocType: "note", ID: "1"}))
	require.NoError(t, s.Upsert(ctx, &models.ProjectedDocument{DocType: "photo", ID: "1"}))

	require.NoError(t, s.Invalidate(ctx, "note:*"))

	_, err := s.Get(ctx, "note", "1")
	assert.Error(t, err)
	_, err = s.Get(ctx, "photo", "1")
	assert.NoError(t, err)
}

func TestMatchPattern(t *testing.T) {
	assert.True(t, matchPattern("dna1:zome1:get_thing:*:local", "dna1:zome1:get_thing:*:local"))
	assert.True(t, matchPattern("note:*", "note:1"))
	assert.False(t, matchPattern("note:*", "photo:1"))
	assert.True(t, matchPattern("exact", "exact"))
	assert.False(t, matchPattern("exact", "not-exact"))
}
