package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jinford/article-rag/internal/core/apperr"
	"github.com/jinford/article-rag/internal/core/index"
	"github.com/jinford/article-rag/internal/core/record"
	"github.com/jinford/article-rag/internal/core/run"
)

// DefaultTopK は top_k 未指定時の取得件数
const DefaultTopK = 5

// Result は検索で選ばれた 1 チャンクを表す
type Result struct {
	ID    int     // インデックス内の位置ID
	Score float64 // コサイン類似度
	Text  string
}

// Service はクエリに類似するチャンクを全件スキャンで取得する
type Service struct {
	store    index.Store
	embedder index.Embedder
	log      record.RetrievalLog
	topK     int
	logger   *slog.Logger

	mu  sync.Mutex
	idx *index.Index
}

type ServiceOption func(*Service)

// WithRetrievalLogger は Service にロガーを設定する
func WithRetrievalLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithTopK は取得件数を設定する
func WithTopK(k int) ServiceOption {
	return func(s *Service) {
		s.topK = k
	}
}

// NewService は新しい Service を作成する
func NewService(store index.Store, embedder index.Embedder, log record.RetrievalLog, opts ...ServiceOption) *Service {
	svc := &Service{
		store:    store,
		embedder: embedder,
		log:      log,
		topK:     DefaultTopK,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	return svc
}

// TopK は設定されている取得件数を返す
func (s *Service) TopK() int { return s.topK }

// Retrieve は r.Query に最も類似する上位 top_k チャンクをスコア降順で返し、検索ログに追記する
func (s *Service) Retrieve(ctx context.Context, r run.Run) ([]Result, error) {
	const op = "retrieve"

	if r.Query == "" {
		return nil, apperr.Retrieval(op, fmt.Errorf("query is required"))
	}

	idx, err := s.loadIndex(ctx)
	if err != nil {
		s.logger.Error("failed to load vector index", "error", err)
		return nil, apperr.Retrieval(op, err)
	}
	if idx.Len() == 0 {
		return nil, apperr.Retrieval(op, fmt.Errorf("vector index is empty"))
	}

	s.logger.Info("computing embedding for query", "runID", r.ID, "query", r.Query)
	queryVector, err := s.embedder.Embed(ctx, r.Query)
	if err != nil {
		s.logger.Error("failed to embed query", "error", err)
		return nil, apperr.Retrieval(op, fmt.Errorf("failed to embed query: %w", err))
	}
	if len(queryVector) != idx.Dimension() {
		return nil, apperr.Retrieval(op, fmt.Errorf("query dimension %d does not match index dimension %d", len(queryVector), idx.Dimension()))
	}

	scores := Similarities(queryVector, idx.ReconstructAll())

	k := s.topK
	if k > idx.Len() {
		s.logger.Warn("top_k exceeds index size, clamping", "topK", k, "indexSize", idx.Len())
	}
	ids := RankTopK(scores, k)

	results := make([]Result, 0, len(ids))
	rows := make([]record.Retrieval, 0, len(ids))
	for _, id := range ids {
		text, _ := idx.Text(id)
		results = append(results, Result{ID: id, Score: scores[id], Text: text})
		rows = append(rows, record.Retrieval{
			RunID:    r.ID,
			Query:    r.Query,
			Score:    scores[id],
			Document: text,
		})
	}

	if err := s.log.AppendRetrievals(ctx, rows); err != nil {
		s.logger.Error("failed to append retrieval log", "error", err)
		return nil, err
	}

	s.logger.Info("retrieval completed", "runID", r.ID, "results", len(results))
	return results, nil
}

// loadIndex は初回呼び出し時にインデックスを読み込み、以降は同じものを返す
func (s *Service) loadIndex(ctx context.Context) (*index.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idx != nil {
		return s.idx, nil
	}
	idx, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("vector index loaded", "vectors", idx.Len(), "dimension", idx.Dimension())
	s.idx = idx
	return idx, nil
}

// Texts は検索結果のチャンクテキストを順番通りに返す
func Texts(results []Result) []string {
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Text
	}
	return texts
}
