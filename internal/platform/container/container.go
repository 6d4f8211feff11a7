package container

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jinford/article-rag/internal/core/evaluation"
	"github.com/jinford/article-rag/internal/core/generation"
	"github.com/jinford/article-rag/internal/core/index"
	"github.com/jinford/article-rag/internal/core/ingestion"
	"github.com/jinford/article-rag/internal/core/pipeline"
	"github.com/jinford/article-rag/internal/core/retrieval"
	"github.com/jinford/article-rag/internal/infra/badgerindex"
	"github.com/jinford/article-rag/internal/infra/embedcache"
	"github.com/jinford/article-rag/internal/infra/openai"
	"github.com/jinford/article-rag/internal/infra/postgres"
	"github.com/jinford/article-rag/internal/infra/scraper"
	"github.com/jinford/article-rag/internal/infra/table"
	"github.com/jinford/article-rag/internal/infra/tokenizer"
	"github.com/jinford/article-rag/internal/platform/config"
	"github.com/jinford/article-rag/internal/platform/database"
	"github.com/jinford/article-rag/internal/platform/metrics"
)

// ServiceContainer はアプリケーションの依存関係を保持する。
type ServiceContainer struct {
	Config *config.Config

	IngestionService  *ingestion.Service
	RetrievalService  *retrieval.Service
	GenerationService *generation.Service
	EvaluationService *evaluation.Service

	// Pipeline は検索・生成・評価を行うバッチ用パイプライン
	Pipeline *pipeline.Pipeline
	// AskPipeline はクエリ埋め込みをキャッシュする対話・Web 用パイプライン（評価なし）
	AskPipeline *pipeline.Pipeline

	Chunks      *table.ChunkTable
	Retrievals  *table.RetrievalLog
	Generations *table.GenerationLog
	IndexStore  index.Store
	Metrics     *metrics.Metrics

	logger   *slog.Logger
	database *database.Database
}

type containerOptions struct {
	logger     *slog.Logger
	embedder   index.Embedder
	llmClient  generation.LLMClient
	tokenizer  generation.Tokenizer
	fetcher    ingestion.ArticleFetcher
	indexStore index.Store
	metrics    *metrics.Metrics
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerEmbedder はカスタム Embedder を注入する
func WithContainerEmbedder(embedder index.Embedder) ContainerOption {
	return func(opts *containerOptions) {
		opts.embedder = embedder
	}
}

// WithContainerLLMClient は LLM クライアントを差し替える
func WithContainerLLMClient(client generation.LLMClient) ContainerOption {
	return func(opts *containerOptions) {
		opts.llmClient = client
	}
}

// WithContainerTokenizer はトークナイザを差し替える
func WithContainerTokenizer(t generation.Tokenizer) ContainerOption {
	return func(opts *containerOptions) {
		opts.tokenizer = t
	}
}

// WithContainerFetcher は記事の取得処理を差し替える
func WithContainerFetcher(f ingestion.ArticleFetcher) ContainerOption {
	return func(opts *containerOptions) {
		opts.fetcher = f
	}
}

// WithContainerIndexStore はインデックスの保存先を差し替える（vector_store.backend より優先）
func WithContainerIndexStore(store index.Store) ContainerOption {
	return func(opts *containerOptions) {
		opts.indexStore = store
	}
}

// WithContainerMetrics はメトリクスを差し替える
func WithContainerMetrics(m *metrics.Metrics) ContainerOption {
	return func(opts *containerOptions) {
		opts.metrics = m
	}
}

// NewContainer は設定からコンテナを生成する。
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	logger := options.logger

	settings := cfg.Settings
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	paths := settings.Paths()
	apiCfg := openai.Config{APIKey: cfg.OpenAI.APIKey, BaseURL: cfg.OpenAI.BaseURL}

	c := &ServiceContainer{Config: cfg, logger: logger}

	// Metrics
	c.Metrics = options.metrics
	if c.Metrics == nil {
		c.Metrics = metrics.New()
	}

	// モデルのクライアントは初回の利用時に生成する
	embedder := options.embedder
	if embedder == nil {
		embedder = lazyEmbedder{inner: newLazy(func() (index.Embedder, error) {
			e, err := openai.NewEmbedder(apiCfg,
				openai.WithEmbeddingModel(settings.EmbeddingModel),
				openai.WithEmbeddingDimension(settings.EmbeddingDimension),
			)
			if err != nil {
				return nil, fmt.Errorf("Embedder 初期化に失敗しました: %w", err)
			}
			logger.Info("Embedder を初期化しました", "model", e.ModelName(), "dimension", e.Dimension())
			return e, nil
		})}
	}

	llmClient := options.llmClient
	if llmClient == nil {
		llmClient = lazyLLM{inner: newLazy(func() (generation.LLMClient, error) {
			client, err := openai.NewClient(apiCfg, settings.GeneratorModel())
			if err != nil {
				return nil, fmt.Errorf("OpenAI LLMクライアント初期化に失敗しました: %w", err)
			}
			if timeout := settings.DataGenerator.RequestTimeout; timeout > 0 {
				client.SetTimeout(timeout)
			}
			logger.Info("LLMクライアントを初期化しました", "model", client.ModelName())
			return client, nil
		})}
	}

	tok := options.tokenizer
	if tok == nil {
		tok = lazyTokenizer{inner: newLazy(func() (generation.Tokenizer, error) {
			t, err := tokenizer.New(tokenizer.DefaultEncoding)
			if err != nil {
				return nil, fmt.Errorf("Tokenizer 初期化に失敗しました: %w", err)
			}
			return t, nil
		})}
	}

	// IndexStore (badger / PostgreSQL)
	c.IndexStore = options.indexStore
	if c.IndexStore == nil {
		store, err := c.newIndexStore(ctx, cfg, paths)
		if err != nil {
			return nil, err
		}
		c.IndexStore = store
	}

	// Tables
	c.Chunks = table.NewChunkTable(paths.Chunks, logger)
	c.Retrievals = table.NewRetrievalLog(paths.Retrievals, logger)
	c.Generations = table.NewGenerationLog(paths.Generations, logger)

	// IngestionService
	fetcher := options.fetcher
	if fetcher == nil {
		fetcher = scraper.NewFetcher(
			scraper.WithTimeout(settings.DataIngestion.FetchTimeout),
			scraper.WithFetcherLogger(logger),
		)
	}
	ingestionService, err := ingestion.NewService(
		ingestion.Config{
			URLs:        settings.DataIngestion.URLs,
			ContentPath: paths.Content,
			ChunkSize:   settings.DataProcessing.ChunkSize,
			Overlap:     settings.DataProcessing.OverlapChunkSize,
		},
		fetcher,
		c.Chunks,
		embedder,
		c.IndexStore,
		ingestion.WithIngestionLogger(logger),
	)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.IngestionService = ingestionService

	// RetrievalService / GenerationService / EvaluationService
	c.RetrievalService = retrieval.NewService(c.IndexStore, embedder, c.Retrievals,
		retrieval.WithTopK(settings.DataRetriever.TopK),
		retrieval.WithRetrievalLogger(logger),
	)
	c.GenerationService = generation.NewService(llmClient, tok, c.Generations,
		generation.WithParams(generationParams(settings.DataGenerator)),
		generation.WithGenerationLogger(logger),
	)
	c.EvaluationService = evaluation.NewService(c.Retrievals, c.Generations,
		evaluation.WithEvaluationLogger(logger),
	)

	c.Pipeline = pipeline.New(c.RetrievalService, c.GenerationService, c.EvaluationService,
		pipeline.WithPipelineLogger(logger),
		pipeline.WithObserver(c.Metrics),
	)

	// 対話・Web 用: クエリ埋め込みをキャッシュし、data_generator.top_k で取得する
	cached, err := embedcache.New(embedder, settings.DataGenerator.CacheSize,
		embedcache.WithCounters(c.Metrics.EmbeddingCacheHits, c.Metrics.EmbeddingCacheMisses),
	)
	if err != nil {
		c.Close()
		return nil, err
	}
	askRetriever := retrieval.NewService(c.IndexStore, cached, c.Retrievals,
		retrieval.WithTopK(settings.ServerTopK()),
		retrieval.WithRetrievalLogger(logger),
	)
	c.AskPipeline = pipeline.New(askRetriever, c.GenerationService, nil,
		pipeline.WithPipelineLogger(logger),
		pipeline.WithObserver(c.Metrics),
	)

	return c, nil
}

func (c *ServiceContainer) newIndexStore(ctx context.Context, cfg *config.Config, paths config.Paths) (index.Store, error) {
	switch cfg.Settings.VectorStore.Backend {
	case config.BackendPostgres:
		db, err := database.New(ctx, database.ConnectionParams{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
		}
		c.database = db
		return postgres.NewIndexStore(db), nil
	default:
		return badgerindex.New(paths.VectorDB), nil
	}
}

func generationParams(s config.GeneratorSettings) generation.Params {
	params := generation.Params{
		Temperature:     s.Temperature,
		TopP:            s.TopP,
		MaxNewTokens:    s.MaxNewTokens,
		MaxPromptTokens: s.MaxPromptTokens,
		EndMarkers:      s.EndOfTurnMarkers,
	}
	if len(params.EndMarkers) == 0 {
		params.EndMarkers = generation.DefaultEndMarkers
	}
	return params
}

// Close は内部リソースを解放する。
func (c *ServiceContainer) Close() {
	if c != nil && c.database != nil {
		c.database.Close()
	}
}

// Logger はロガーを返す。
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}
