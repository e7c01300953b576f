package cache

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteStore_SetGetRoundTrip(t *testing.T) {
	s := NewByteStore(nil)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "dna:zome:fn:abc:commons", []byte("payload"), 300))
	got, ok, err := s.Get(ctx, "dna:zome:fn:abc:commons")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "payload", string(got))
}

func TestByteStore_GetMissReturnsFalse(t *testing.T) {
	s := NewByteStore(nil)
	_, ok, err := s.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestByteStore_InvalidateWildcardRemovesMatches(t *testing.T) {
	s := NewByteStore(nil)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "dna:zome:get_post:abc:commons", []byte("a"), 300))
	require.NoError(t, s.Set(ctx, "dna:zome:get_post:def:commons", []byte("b"), 300))
	require.NoError(t, s.Set(ctx, "dna:zome:list_posts:xyz:commons", []byte("c"), 300))

	require.NoError(t, s.Invalidate(ctx, "dna:zome:get_post:*:commons"))

	_, ok, _ := s.Get(ctx, "dna:zome:get_post:abc:commons")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "dna:zome:get_post:def:commons")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "dna:zome:list_posts:xyz:commons")
	assert.True(t, ok)
}

func TestStableHashArgs_OrderIndependent(t *testing.T) {
	a := url.Values{"b": {"2"}, "a": {"1"}}
	b := url.Values{"a": {"1"}, "b": {"2"}}
	assert.Equal(t, StableHashArgs(a), StableHashArgs(b))
}

func TestStableHashArgs_DiffersOnValueChange(t *testing.T) {
	a := url.Values{"a": {"1"}}
	b := url.Values{"a": {"2"}}
	assert.NotEqual(t, StableHashArgs(a), StableHashArgs(b))
}
