package retrieval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/article-rag/internal/core/apperr"
	"github.com/jinford/article-rag/internal/core/index"
	"github.com/jinford/article-rag/internal/core/run"
	"github.com/jinford/article-rag/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRankTopKBreaksTiesTowardsLargerID(t *testing.T) {
	ids := RankTopK([]float64{0.9, 0.5, 0.9}, 2)

	assert.Equal(t, []int{2, 0}, ids)
}

func TestRankTopKIsDescendingAndClamped(t *testing.T) {
	scores := []float64{0.1, 0.7, 0.3, 0.7, 0.2}

	assert.Equal(t, []int{3, 1, 2, 4, 0}, RankTopK(scores, 10))
	assert.Equal(t, []int{3}, RankTopK(scores, 1))
	assert.Empty(t, RankTopK(scores, 0))
	assert.Empty(t, RankTopK(scores, -3))
	assert.Empty(t, RankTopK(nil, 3))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 1}, []float32{-1, -1}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 0}))
}

func newIndexedService(t *testing.T, chunks []string, topK int) (*Service, *testutil.MemoryLog, *testutil.WordEmbedder) {
	t.Helper()
	embedder := &testutil.WordEmbedder{}
	idx, err := index.Build(context.Background(), chunks, embedder)
	require.NoError(t, err)

	store := &testutil.MemoryIndexStore{}
	require.NoError(t, store.Save(context.Background(), idx))

	log := &testutil.MemoryLog{}
	svc := NewService(store, embedder, log, WithTopK(topK), WithRetrievalLogger(discardLogger()))
	return svc, log, embedder
}

func TestRetrieveReturnsBestChunkAndAppendsLog(t *testing.T) {
	chunks := []string{"Paris is the capital of France.", "Berlin is the capital of Germany."}
	svc, log, _ := newIndexedService(t, chunks, 1)

	r := run.New("capital of France")
	results, err := svc.Retrieve(context.Background(), r)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, 0, results[0].ID)
	assert.Equal(t, "Paris is the capital of France.", results[0].Text)

	require.Len(t, log.Retrievals, 1)
	assert.Equal(t, r.ID, log.Retrievals[0].RunID)
	assert.Equal(t, "capital of France", log.Retrievals[0].Query)
	assert.Equal(t, results[0].Score, log.Retrievals[0].Score)
	assert.Equal(t, results[0].Text, log.Retrievals[0].Document)
}

func TestRetrieveIsStableAcrossRuns(t *testing.T) {
	chunks := []string{"go channels and goroutines", "python asyncio event loop", "go select statement on channels", "rust ownership"}
	svc, log, _ := newIndexedService(t, chunks, 3)

	first, err := svc.Retrieve(context.Background(), run.New("go channels"))
	require.NoError(t, err)
	second, err := svc.Retrieve(context.Background(), run.New("go channels"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	for i := 1; i < len(first); i++ {
		assert.GreaterOrEqual(t, first[i-1].Score, first[i].Score)
	}
	assert.Len(t, log.Retrievals, 6)
}

func TestRetrieveClampsTopK(t *testing.T) {
	svc, _, _ := newIndexedService(t, []string{"alpha", "beta"}, 10)

	results, err := svc.Retrieve(context.Background(), run.New("alpha"))
	require.NoError(t, err)

	assert.Len(t, results, 2)
	assert.Equal(t, "alpha", results[0].Text)
}

func TestRetrieveLoadsIndexOnce(t *testing.T) {
	embedder := &testutil.WordEmbedder{}
	idx, err := index.Build(context.Background(), []string{"alpha"}, embedder)
	require.NoError(t, err)
	store := &testutil.MemoryIndexStore{}
	require.NoError(t, store.Save(context.Background(), idx))
	svc := NewService(store, embedder, &testutil.MemoryLog{}, WithRetrievalLogger(discardLogger()))

	for range 3 {
		_, err := svc.Retrieve(context.Background(), run.New("alpha"))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, store.Loads)
}

func TestRetrieveMissingIndex(t *testing.T) {
	svc := NewService(&testutil.MemoryIndexStore{}, &testutil.WordEmbedder{}, &testutil.MemoryLog{}, WithRetrievalLogger(discardLogger()))

	_, err := svc.Retrieve(context.Background(), run.New("anything"))

	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrRetrieval)
	assert.ErrorIs(t, err, apperr.ErrIndexLoad)
}

func TestRetrieveEmbeddingFailure(t *testing.T) {
	svc, log, embedder := newIndexedService(t, []string{"alpha"}, 1)
	embedder.Err = errors.New("model offline")

	_, err := svc.Retrieve(context.Background(), run.New("alpha"))

	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrRetrieval)
	assert.Empty(t, log.Retrievals)
}

func TestRetrieveRequiresQuery(t *testing.T) {
	svc, _, _ := newIndexedService(t, []string{"alpha"}, 1)

	_, err := svc.Retrieve(context.Background(), run.New(""))

	assert.ErrorIs(t, err, apperr.ErrRetrieval)
}

func TestRetrieveLogFailureIsReturned(t *testing.T) {
	svc, log, _ := newIndexedService(t, []string{"alpha"}, 1)
	log.AppendErr = apperr.IO("append", errors.New("disk full"))

	_, err := svc.Retrieve(context.Background(), run.New("alpha"))

	assert.ErrorIs(t, err, apperr.ErrIO)
}

func TestTexts(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Texts([]Result{{Text: "a"}, {Text: "b"}}))
}
