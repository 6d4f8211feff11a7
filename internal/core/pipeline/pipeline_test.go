package pipeline

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/article-rag/internal/core/apperr"
	"github.com/jinford/article-rag/internal/core/evaluation"
	"github.com/jinford/article-rag/internal/core/generation"
	"github.com/jinford/article-rag/internal/core/index"
	"github.com/jinford/article-rag/internal/core/retrieval"
	"github.com/jinford/article-rag/internal/testutil"
)

// echoLLM はプロンプト中のコンテキストをそのまま回答として返す
type echoLLM struct{}

func (echoLLM) GenerateCompletion(ctx context.Context, req generation.CompletionRequest) (generation.CompletionResponse, error) {
	const marker = "Relevant information: "
	ctxText := req.Prompt[strings.Index(req.Prompt, marker)+len(marker):]
	ctxText = ctxText[:strings.Index(ctxText, " Provide answer")]
	return generation.CompletionResponse{Content: ctxText + "<|end|> trailing"}, nil
}

type passthroughTokenizer struct{}

func (passthroughTokenizer) Truncate(text string, maxTokens int) (string, int, error) {
	return text, len(strings.Fields(text)), nil
}

type recordingObserver struct {
	stages []string
	errs   int
	scores int
}

func (o *recordingObserver) ObserveStage(stage string, d time.Duration, err error) {
	o.stages = append(o.stages, stage)
	if err != nil {
		o.errs++
	}
}

func (o *recordingObserver) ObserveScores(recall, precision float64) { o.scores++ }

func newPipeline(t *testing.T, store index.Store, observer Observer) (*Pipeline, *testutil.MemoryLog) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	embedder := &testutil.WordEmbedder{}
	log := &testutil.MemoryLog{}

	retriever := retrieval.NewService(store, embedder, log, retrieval.WithTopK(1), retrieval.WithRetrievalLogger(logger))
	generator := generation.NewService(echoLLM{}, passthroughTokenizer{}, log, generation.WithGenerationLogger(logger))
	evaluator := evaluation.NewService(log, log, evaluation.WithEvaluationLogger(logger))
	return New(retriever, generator, evaluator, WithPipelineLogger(logger), WithObserver(observer)), log
}

func indexedStore(t *testing.T, chunks []string) *testutil.MemoryIndexStore {
	t.Helper()
	idx, err := index.Build(context.Background(), chunks, &testutil.WordEmbedder{})
	require.NoError(t, err)
	store := &testutil.MemoryIndexStore{}
	require.NoError(t, store.Save(context.Background(), idx))
	return store
}

func TestRunRetrievesGeneratesAndEvaluates(t *testing.T) {
	store := indexedStore(t, []string{"Paris is the capital of France.", "Berlin is the capital of Germany."})
	observer := &recordingObserver{}
	p, log := newPipeline(t, store, observer)

	outcome, err := p.Run(context.Background(), "capital of France")
	require.NoError(t, err)

	assert.Equal(t, "Paris is the capital of France.", outcome.Answer())
	require.Len(t, outcome.Retrieved, 1)
	require.NoError(t, outcome.EvaluationErr)
	require.NotNil(t, outcome.Scores)
	assert.Equal(t, outcome.Run.ID, outcome.Scores.Run.ID)
	assert.InDelta(t, 1.0, outcome.Scores.Recall, 1e-9)
	assert.InDelta(t, 1.0, outcome.Scores.Precision, 1e-9)

	assert.Equal(t, []string{StageRetrieve, StageGenerate, StageEvaluate}, observer.stages)
	assert.Equal(t, 1, observer.scores)
	assert.Len(t, log.Retrievals, 1)
	assert.Len(t, log.Generations, 1)
}

func TestRunsAreIsolatedByRunID(t *testing.T) {
	store := indexedStore(t, []string{"Paris is the capital of France.", "Berlin is the capital of Germany."})
	p, _ := newPipeline(t, store, nil)

	first, err := p.Run(context.Background(), "capital of France")
	require.NoError(t, err)
	second, err := p.Run(context.Background(), "capital of France")
	require.NoError(t, err)

	assert.NotEqual(t, first.Run.ID, second.Run.ID)
	assert.Len(t, second.Scores.Sample.Reference, 1)
	assert.Len(t, second.Scores.Sample.Retrieved, 1)
}

func TestAskReturnsCleanAnswer(t *testing.T) {
	store := indexedStore(t, []string{"Paris is the capital of France."})
	p, log := newPipeline(t, store, nil)

	answer, err := p.Ask(context.Background(), "France")
	require.NoError(t, err)

	assert.Equal(t, "Paris is the capital of France.", answer)
	assert.NotContains(t, answer, "<|end|>")
	assert.Len(t, log.Generations, 1)
}

func TestRunFailsWhenIndexMissing(t *testing.T) {
	observer := &recordingObserver{}
	p, log := newPipeline(t, &testutil.MemoryIndexStore{}, observer)

	_, err := p.Run(context.Background(), "anything")

	assert.ErrorIs(t, err, apperr.ErrRetrieval)
	assert.Equal(t, []string{StageRetrieve}, observer.stages)
	assert.Equal(t, 1, observer.errs)
	assert.Empty(t, log.Generations)
}

func TestOutcomeAnswerNil(t *testing.T) {
	var o *Outcome
	assert.Empty(t, o.Answer())
}
