package badgerindex

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/article-rag/internal/core/apperr"
	"github.com/jinford/article-rag/internal/core/index"
)

func mustIndex(t *testing.T, vectors [][]float32, texts []string) *index.Index {
	t.Helper()
	idx, err := index.New(vectors, texts)
	require.NoError(t, err)
	return idx
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := New(filepath.Join(t.TempDir(), "vector_db"))

	// 10 件以上でキー順と位置ID順が一致することも確認する
	var vectors [][]float32
	var texts []string
	for i := range 12 {
		vectors = append(vectors, []float32{float32(i), 1, -0.5})
		texts = append(texts, string(rune('a'+i)))
	}
	require.NoError(t, store.Save(ctx, mustIndex(t, vectors, texts)))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, 12, loaded.Len())
	assert.Equal(t, 3, loaded.Dimension())
	assert.Equal(t, vectors, loaded.ReconstructAll())
	assert.Equal(t, texts, loaded.Texts())
}

func TestSaveOverwritesPreviousIndex(t *testing.T) {
	ctx := context.Background()
	store := New(filepath.Join(t.TempDir(), "vector_db"))

	require.NoError(t, store.Save(ctx, mustIndex(t, [][]float32{{1, 0}, {0, 1}, {1, 1}}, []string{"a", "b", "c"})))
	require.NoError(t, store.Save(ctx, mustIndex(t, [][]float32{{0.5, 0.5}}, []string{"z"})))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"z"}, loaded.Texts())
}

func TestLoadMissingDirectory(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "absent")).Load(context.Background())

	assert.ErrorIs(t, err, apperr.ErrIndexLoad)
}

func TestLoadDirectoryWithoutIndex(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	_, err := New(dir).Load(context.Background())

	assert.ErrorIs(t, err, apperr.ErrIndexLoad)
}

func TestLoadCorruptDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "corrupt")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "MANIFEST"), []byte("garbage"), 0o644))

	_, err := New(dir).Load(context.Background())

	assert.ErrorIs(t, err, apperr.ErrIndexLoad)
}
