package container

import (
	"context"
	"sync"

	"github.com/jinford/article-rag/internal/core/generation"
	"github.com/jinford/article-rag/internal/core/index"
)

// lazy は初回の get で値を生成する。生成に失敗した場合は次の get で再試行する
type lazy[T any] struct {
	mu    sync.Mutex
	build func() (T, error)
	value T
	done  bool
}

func newLazy[T any](build func() (T, error)) *lazy[T] {
	return &lazy[T]{build: build}
}

func (l *lazy[T]) get() (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return l.value, nil
	}
	v, err := l.build()
	if err != nil {
		var zero T
		return zero, err
	}
	l.value, l.done = v, true
	return v, nil
}

// lazyEmbedder は最初の埋め込み要求で Embedder を生成する
type lazyEmbedder struct {
	inner *lazy[index.Embedder]
}

func (e lazyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	inner, err := e.inner.get()
	if err != nil {
		return nil, err
	}
	return inner.Embed(ctx, text)
}

func (e lazyEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	inner, err := e.inner.get()
	if err != nil {
		return nil, err
	}
	if be, ok := inner.(index.BatchEmbedder); ok {
		return be.BatchEmbed(ctx, texts)
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := inner.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

// MaxBatchSize は生成できない場合 0 を返す（index 側の既定値が使われ、BatchEmbed がエラーを返す）
func (e lazyEmbedder) MaxBatchSize() int {
	inner, err := e.inner.get()
	if err != nil {
		return 0
	}
	if be, ok := inner.(index.BatchEmbedder); ok {
		return be.MaxBatchSize()
	}
	return 1
}

// lazyLLM は最初の生成要求で LLMClient を生成する
type lazyLLM struct {
	inner *lazy[generation.LLMClient]
}

func (c lazyLLM) GenerateCompletion(ctx context.Context, req generation.CompletionRequest) (generation.CompletionResponse, error) {
	inner, err := c.inner.get()
	if err != nil {
		return generation.CompletionResponse{}, err
	}
	return inner.GenerateCompletion(ctx, req)
}

// lazyTokenizer は最初の切り詰めで Tokenizer を生成する（tiktoken は初回に BPE ファイルを取得する）
type lazyTokenizer struct {
	inner *lazy[generation.Tokenizer]
}

func (t lazyTokenizer) Truncate(text string, maxTokens int) (string, int, error) {
	inner, err := t.inner.get()
	if err != nil {
		return "", 0, err
	}
	return inner.Truncate(text, maxTokens)
}

var (
	_ index.BatchEmbedder  = lazyEmbedder{}
	_ generation.LLMClient = lazyLLM{}
	_ generation.Tokenizer = lazyTokenizer{}
)
