package ingestion

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/article-rag/internal/core/apperr"
	"github.com/jinford/article-rag/internal/testutil"
)

type mapFetcher struct {
	pages map[string]string
	calls int
}

func (f *mapFetcher) Fetch(ctx context.Context, url string) mo.Option[string] {
	f.calls++
	if text, ok := f.pages[url]; ok {
		return mo.Some(text)
	}
	return mo.None[string]()
}

type memoryChunks struct {
	chunks   []string
	replaces int
}

func (m *memoryChunks) Replace(ctx context.Context, chunks []string) error {
	m.chunks = append([]string(nil), chunks...)
	m.replaces++
	return nil
}

type fixture struct {
	svc      *Service
	fetcher  *mapFetcher
	chunks   *memoryChunks
	store    *testutil.MemoryIndexStore
	embedder *testutil.WordEmbedder
	content  string
}

func newFixture(t *testing.T, urls []string, pages map[string]string) *fixture {
	t.Helper()
	f := &fixture{
		fetcher:  &mapFetcher{pages: pages},
		chunks:   &memoryChunks{},
		store:    &testutil.MemoryIndexStore{},
		embedder: &testutil.WordEmbedder{},
		content:  filepath.Join(t.TempDir(), "raw", "content_data.txt"),
	}
	svc, err := NewService(
		Config{URLs: urls, ContentPath: f.content, ChunkSize: 10, Overlap: 2},
		f.fetcher, f.chunks, f.embedder, f.store,
		WithIngestionLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func TestRunFetchesChunksAndSavesIndex(t *testing.T) {
	f := newFixture(t,
		[]string{"https://a", "https://broken", "https://b"},
		map[string]string{"https://a": "Paris is in France.", "https://b": "Berlin"},
	)

	stats, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	content, err := os.ReadFile(f.content)
	require.NoError(t, err)
	assert.Equal(t, "Paris is in France.\nBerlin\n", string(content))

	assert.Equal(t, 3, stats.URLs)
	assert.Equal(t, 2, stats.Fetched)
	assert.False(t, stats.Skipped)
	assert.Equal(t, []string{"Paris is i", " in France", "ce.\nBerlin", "in\n"}, f.chunks.chunks)
	assert.Equal(t, 4, stats.Chunks)

	idx, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, idx.Len())
	assert.Equal(t, "ce. Berlin", idx.Texts()[2])
	assert.Equal(t, idx.Dimension(), stats.Dimension)
}

func TestDownloadContentSkipsExistingFile(t *testing.T) {
	f := newFixture(t, []string{"https://a"}, map[string]string{"https://a": "new"})
	require.NoError(t, os.MkdirAll(filepath.Dir(f.content), 0o755))
	require.NoError(t, os.WriteFile(f.content, []byte("old content\n"), 0o644))

	stats, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, stats.Skipped)
	assert.Equal(t, 0, f.fetcher.calls)
	assert.Equal(t, []string{"old conten", "ent\n"}, f.chunks.chunks)
}

func TestDownloadContentAllURLsFail(t *testing.T) {
	f := newFixture(t, []string{"https://x", "https://y"}, nil)

	_, _, err := f.svc.DownloadContent(context.Background())

	assert.ErrorIs(t, err, apperr.ErrIO)
	assert.NoFileExists(t, f.content)
}

func TestDownloadContentRequiresURLs(t *testing.T) {
	f := newFixture(t, nil, nil)

	_, _, err := f.svc.DownloadContent(context.Background())

	assert.ErrorIs(t, err, apperr.ErrConfig)
}

func TestProcessMissingContent(t *testing.T) {
	f := newFixture(t, nil, nil)

	_, _, err := f.svc.Process(context.Background())

	assert.ErrorIs(t, err, apperr.ErrIO)
	assert.Equal(t, 0, f.store.Saves)
}

func TestProcessEmbeddingFailure(t *testing.T) {
	f := newFixture(t, []string{"https://a"}, map[string]string{"https://a": "text"})
	f.embedder.Err = assert.AnError

	_, err := f.svc.Run(context.Background())

	assert.ErrorIs(t, err, apperr.ErrRetrieval)
	assert.Equal(t, 0, f.store.Saves)
}

func TestNewServiceRejectsInvalidChunking(t *testing.T) {
	_, err := NewService(Config{ContentPath: "x", ChunkSize: 5, Overlap: 5}, &mapFetcher{}, &memoryChunks{}, &testutil.WordEmbedder{}, &testutil.MemoryIndexStore{})

	assert.ErrorIs(t, err, apperr.ErrConfig)
}
