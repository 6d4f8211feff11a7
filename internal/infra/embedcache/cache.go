// Package embedcache はクエリ埋め込みを LRU でキャッシュする Embedder を提供します
package embedcache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jinford/article-rag/internal/core/index"
)

// DefaultSize はキャッシュするクエリ数の既定値
const DefaultSize = 1024

// Counter はヒット・ミスを数えるカウンタ（prometheus.Counter が満たす）
type Counter interface {
	Inc()
}

type noopCounter struct{}

func (noopCounter) Inc() {}

// Embedder は内側の Embedder の結果をテキスト単位でキャッシュする
type Embedder struct {
	inner  index.Embedder
	cache  *lru.Cache[string, []float32]
	hits   Counter
	misses Counter
}

type Option func(*Embedder)

// WithCounters はヒット・ミスのカウンタを設定する
func WithCounters(hits, misses Counter) Option {
	return func(e *Embedder) {
		if hits != nil {
			e.hits = hits
		}
		if misses != nil {
			e.misses = misses
		}
	}
}

// New は size 件まで保持する Embedder を作成する
func New(inner index.Embedder, size int, opts ...Option) (*Embedder, error) {
	if size <= 0 {
		size = DefaultSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	e := &Embedder{
		inner:  inner,
		cache:  cache,
		hits:   noopCounter{},
		misses: noopCounter{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Embed はキャッシュにあればそれを返し、無ければ内側の Embedder を呼ぶ。
// 呼び出し側がベクトルを書き換えてもキャッシュは影響を受けない。
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := e.cache.Get(text); ok {
		e.hits.Inc()
		return append([]float32(nil), vec...), nil
	}
	e.misses.Inc()

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Add(text, append([]float32(nil), vec...))
	return vec, nil
}

// Len はキャッシュ件数を返す
func (e *Embedder) Len() int { return e.cache.Len() }

var _ index.Embedder = (*Embedder)(nil)
