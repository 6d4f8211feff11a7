package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/article-rag/internal/core/apperr"
	"github.com/jinford/article-rag/internal/core/generation"
	"github.com/jinford/article-rag/internal/platform/config"
	"github.com/jinford/article-rag/internal/platform/container"
	"github.com/jinford/article-rag/internal/testutil"
)

type staticFetcher map[string]string

func (f staticFetcher) Fetch(ctx context.Context, url string) mo.Option[string] {
	if text, ok := f[url]; ok {
		return mo.Some(text)
	}
	return mo.None[string]()
}

type cannedLLM struct{}

func (cannedLLM) GenerateCompletion(ctx context.Context, req generation.CompletionRequest) (generation.CompletionResponse, error) {
	return generation.CompletionResponse{Content: "Paris is the capital of France. |end| leftover"}, nil
}

type wordTokenizer struct{}

func (wordTokenizer) Truncate(text string, maxTokens int) (string, int, error) {
	return text, len(strings.Fields(text)), nil
}

func newTestAppContext(t *testing.T) *AppContext {
	t.Helper()
	settings := config.DefaultSettings()
	settings.Artifacts.Root = t.TempDir()
	settings.DataIngestion.URLs = []string{"https://example.com/wiki/Paris", "https://example.com/missing"}
	settings.DataProcessing.ChunkSize = 32
	settings.DataProcessing.OverlapChunkSize = 4
	settings.DataRetriever.TopK = 2

	c, err := container.NewContainer(context.Background(), &config.Config{Settings: settings},
		container.WithContainerLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		container.WithContainerEmbedder(&testutil.WordEmbedder{}),
		container.WithContainerLLMClient(cannedLLM{}),
		container.WithContainerTokenizer(wordTokenizer{}),
		container.WithContainerFetcher(staticFetcher{
			"https://example.com/wiki/Paris": "Paris is the capital of France. Berlin is the capital of Germany. Rome is in Italy.",
		}),
	)
	require.NoError(t, err)

	appCtx := &AppContext{Container: c}
	t.Cleanup(appCtx.Close)
	return appCtx
}

func TestReadQuestion(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		input   string
		want    string
		wantErr bool
	}{
		{name: "引数から", args: []string{"capital", "of", "France"}, want: "capital of France"},
		{name: "標準入力から", input: "  capital of France \n", want: "capital of France"},
		{name: "改行なしの入力", input: "capital", want: "capital"},
		{name: "空の入力", input: "\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := readQuestion(tt.args, strings.NewReader(tt.input), &out)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunStageAlwaysLogsFinished(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	_, err := runStage(logger, "retrieval", func() (int, error) {
		return 0, errors.New("boom")
	})

	assert.EqualError(t, err, "boom")
	logs := buf.String()
	assert.Contains(t, logs, `msg="retrieval failed"`)
	assert.Contains(t, logs, `msg="retrieval finished"`)
	assert.NotContains(t, logs, "kind=")
}

func TestRunStageLogsErrorKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "検索エラー", err: apperr.Retrieval("retrieve", errors.New("boom")), want: `kind="retrieval error"`},
		{name: "ラップされた入出力エラー", err: fmt.Errorf("stage: %w", apperr.IO("read", errors.New("boom"))), want: `kind="io error"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			_, err := runStage(logger, "evaluate", func() (int, error) {
				return 0, tt.err
			})

			assert.ErrorIs(t, err, tt.err)
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}

func TestPipelineCommandsEndToEnd(t *testing.T) {
	ctx := context.Background()
	appCtx := newTestAppContext(t)

	var out bytes.Buffer
	stats, err := executeIngest(ctx, appCtx, &out)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Fetched)
	assert.Contains(t, out.String(), "indexed")

	out.Reset()
	results, err := executeRetrieve(ctx, appCtx, "capital of France", &out)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Contains(t, out.String(), "[1] score=")

	out.Reset()
	outcome, err := executeGenerate(ctx, appCtx, "capital of France", &out)
	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital of France.", outcome.Answer())
	assert.Contains(t, out.String(), "Answer: Paris is the capital of France.\n")
	assert.Contains(t, out.String(), "context_recall: ")

	out.Reset()
	scores, err := executeEvaluate(ctx, appCtx, mo.Some(outcome.Run.ID), &out)
	require.NoError(t, err)
	assert.Equal(t, outcome.Run.ID, scores.Run.ID)
	assert.Contains(t, out.String(), "Question: capital of France")

	_, err = executeEvaluate(ctx, appCtx, mo.None[uuid.UUID](), &out)
	assert.NoError(t, err)

	_, err = executeEvaluate(ctx, appCtx, mo.Some(uuid.New()), &out)
	assert.ErrorIs(t, err, apperr.ErrRetrieval)
}

func TestGenerateWithoutIndexFails(t *testing.T) {
	appCtx := newTestAppContext(t)

	_, err := executeGenerate(context.Background(), appCtx, "capital of France", io.Discard)

	assert.ErrorIs(t, err, apperr.ErrIndexLoad)
}

func TestFormatScore(t *testing.T) {
	assert.Equal(t, "0.5000", formatScore(0.5))
	assert.Equal(t, "n/a", formatScore(math.NaN()))
}
