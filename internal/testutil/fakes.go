// Package testutil はテスト用の決定的なスタブ実装を提供します
package testutil

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/jinford/article-rag/internal/core/apperr"
	"github.com/jinford/article-rag/internal/core/index"
	"github.com/jinford/article-rag/internal/core/record"
)

// WordEmbedderDimension は WordEmbedder が返すベクトルの次元数
const WordEmbedderDimension = 512

// WordEmbedder は単語ごとのハッシュで bag-of-words ベクトルを作る決定的な Embedder です
type WordEmbedder struct {
	mu    sync.Mutex
	Calls int
	Err   error
}

// Embed はテキストを小文字の単語に分割し、ハッシュ位置の出現回数を数えます
func (e *WordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.Calls++
	e.mu.Unlock()

	if e.Err != nil {
		return nil, e.Err
	}

	vec := make([]float32, WordEmbedderDimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%WordEmbedderDimension]++
	}
	return vec, nil
}

// MemoryIndexStore はメモリ上に保持する index.Store です
type MemoryIndexStore struct {
	mu    sync.Mutex
	idx   *index.Index
	Saves int
	Loads int
}

// Save はインデックスを置き換えます
func (s *MemoryIndexStore) Save(ctx context.Context, idx *index.Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idx = idx
	s.Saves++
	return nil
}

// Load は保存済みインデックスを返します。未保存なら ErrIndexLoad です
func (s *MemoryIndexStore) Load(ctx context.Context) (*index.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Loads++
	if s.idx == nil {
		return nil, apperr.IndexLoad("load index", errors.New("index not found"))
	}
	return s.idx, nil
}

// MemoryLog はメモリ上の検索ログ・生成ログです
type MemoryLog struct {
	mu          sync.Mutex
	Retrievals  []record.Retrieval
	Generations []record.Generation
	AppendErr   error
}

var (
	_ record.RetrievalLog  = (*MemoryLog)(nil)
	_ record.GenerationLog = (*MemoryLog)(nil)
)

func (l *MemoryLog) AppendRetrievals(ctx context.Context, rows []record.Retrieval) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.AppendErr != nil {
		return l.AppendErr
	}
	l.Retrievals = append(l.Retrievals, rows...)
	return nil
}

func (l *MemoryLog) ListRetrievals(ctx context.Context) ([]record.Retrieval, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]record.Retrieval(nil), l.Retrievals...), nil
}

func (l *MemoryLog) AppendGenerations(ctx context.Context, rows []record.Generation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.AppendErr != nil {
		return l.AppendErr
	}
	l.Generations = append(l.Generations, rows...)
	return nil
}

func (l *MemoryLog) ListGenerations(ctx context.Context) ([]record.Generation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]record.Generation(nil), l.Generations...), nil
}
