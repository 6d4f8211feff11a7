package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jinford/article-rag/internal/core/apperr"
	"github.com/jinford/article-rag/internal/core/index"
	"github.com/jinford/article-rag/internal/core/ingestion/chunk"
)

// Config はインジェスションの設定
type Config struct {
	URLs        []string
	ContentPath string // 取得した本文を書き出すファイル
	ChunkSize   int
	Overlap     int
}

// Stats はインジェスション結果の統計
type Stats struct {
	URLs      int
	Fetched   int
	Skipped   bool // 本文ファイルが既に存在したため取得を省略した
	Chunks    int
	Dimension int
	Duration  time.Duration
}

// Service は記事の取得からインデックス保存までを行う
type Service struct {
	fetcher     ArticleFetcher
	chunker     *chunk.Chunker
	chunks      ChunkStore
	embedder    index.Embedder
	store       index.Store
	urls        []string
	contentPath string
	logger      *slog.Logger
}

type ServiceOption func(*Service)

// WithIngestionLogger は Service にロガーを設定する
func WithIngestionLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService は新しい Service を作成する。チャンク設定が不正な場合は ErrConfig を返す
func NewService(
	cfg Config,
	fetcher ArticleFetcher,
	chunks ChunkStore,
	embedder index.Embedder,
	store index.Store,
	opts ...ServiceOption,
) (*Service, error) {
	chunker, err := chunk.New(cfg.ChunkSize, cfg.Overlap)
	if err != nil {
		return nil, err
	}
	if cfg.ContentPath == "" {
		return nil, apperr.Config("new ingestion service", "content path is required")
	}

	svc := &Service{
		fetcher:     fetcher,
		chunker:     chunker,
		chunks:      chunks,
		embedder:    embedder,
		store:       store,
		urls:        cfg.URLs,
		contentPath: cfg.ContentPath,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	return svc, nil
}

// DownloadContent は各 URL の本文を取得して 1 行ずつ本文ファイルに書き出す。
// 本文ファイルが既に存在する場合は何もしない。
func (s *Service) DownloadContent(ctx context.Context) (fetched int, skipped bool, err error) {
	const op = "download content"

	if _, err := os.Stat(s.contentPath); err == nil {
		s.logger.Info("content file already exists", "path", s.contentPath)
		return 0, true, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return 0, false, apperr.IO(op, err)
	}

	if len(s.urls) == 0 {
		return 0, false, apperr.Config(op, "no source URLs configured")
	}

	var b strings.Builder
	for _, url := range s.urls {
		if err := ctx.Err(); err != nil {
			return 0, false, err
		}
		text, ok := s.fetcher.Fetch(ctx, url).Get()
		if !ok {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
		fetched++
	}

	if fetched == 0 {
		return 0, false, apperr.IO(op, fmt.Errorf("none of %d URLs could be fetched", len(s.urls)))
	}

	if err := writeFileAtomic(s.contentPath, []byte(b.String())); err != nil {
		return 0, false, apperr.IO(op, err)
	}
	s.logger.Info("content written", "path", s.contentPath, "fetched", fetched, "urls", len(s.urls))
	return fetched, false, nil
}

// Process は本文ファイルをチャンク化してチャンクテーブルを置き換え、インデックスを構築・保存する
func (s *Service) Process(ctx context.Context) (chunks int, dimension int, err error) {
	const op = "process content"

	content, err := os.ReadFile(s.contentPath)
	if err != nil {
		return 0, 0, apperr.IO(op, fmt.Errorf("failed to read content: %w", err))
	}

	raw := s.chunker.Split(string(content))
	if len(raw) == 0 {
		return 0, 0, apperr.IO(op, fmt.Errorf("content file %s is empty", s.contentPath))
	}
	s.logger.Info("content chunked", "chunks", len(raw), "chunkSize", s.chunker.Size(), "overlap", s.chunker.Overlap())

	if err := s.chunks.Replace(ctx, raw); err != nil {
		return 0, 0, err
	}

	idx, err := index.Build(ctx, chunk.Normalize(raw), s.embedder)
	if err != nil {
		return 0, 0, apperr.Retrieval("build index", err)
	}
	if err := s.store.Save(ctx, idx); err != nil {
		return 0, 0, err
	}

	s.logger.Info("index saved", "vectors", idx.Len(), "dimension", idx.Dimension())
	return idx.Len(), idx.Dimension(), nil
}

// Run は本文の取得とインデックス構築を続けて行う
func (s *Service) Run(ctx context.Context) (*Stats, error) {
	start := time.Now()
	s.logger.Info("starting ingestion", "urls", len(s.urls))

	fetched, skipped, err := s.DownloadContent(ctx)
	if err != nil {
		return nil, err
	}
	chunks, dim, err := s.Process(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		URLs:      len(s.urls),
		Fetched:   fetched,
		Skipped:   skipped,
		Chunks:    chunks,
		Dimension: dim,
		Duration:  time.Since(start),
	}
	s.logger.Info("ingestion completed", "chunks", stats.Chunks, "duration", stats.Duration)
	return stats, nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename %s: %w", tmp, err)
	}
	return nil
}
