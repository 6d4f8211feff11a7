package embedcache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/article-rag/internal/testutil"
)

type count struct{ n int }

func (c *count) Inc() { c.n++ }

func TestEmbedCachesByText(t *testing.T) {
	inner := &testutil.WordEmbedder{}
	hits, misses := &count{}, &count{}
	cache, err := New(inner, 2, WithCounters(hits, misses))
	require.NoError(t, err)
	ctx := context.Background()

	first, err := cache.Embed(ctx, "capital of France")
	require.NoError(t, err)
	first[0] = 42

	second, err := cache.Embed(ctx, "capital of France")
	require.NoError(t, err)

	assert.Equal(t, 1, inner.Calls)
	assert.NotEqual(t, float32(42), second[0])
	assert.Equal(t, 1, hits.n)
	assert.Equal(t, 1, misses.n)
}

func TestEmbedEvictsLeastRecentlyUsed(t *testing.T) {
	inner := &testutil.WordEmbedder{}
	cache, err := New(inner, 2)
	require.NoError(t, err)
	ctx := context.Background()

	for _, q := range []string{"a", "b", "c", "a"} {
		_, err := cache.Embed(ctx, q)
		require.NoError(t, err)
	}

	assert.Equal(t, 4, inner.Calls)
	assert.Equal(t, 2, cache.Len())
}

func TestEmbedDoesNotCacheErrors(t *testing.T) {
	inner := &testutil.WordEmbedder{Err: errors.New("offline")}
	cache, err := New(inner, 0)
	require.NoError(t, err)

	_, err = cache.Embed(context.Background(), "q")
	assert.Error(t, err)
	assert.Equal(t, 0, cache.Len())
}
