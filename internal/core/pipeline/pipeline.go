// Package pipeline は検索・生成・評価を 1 回の実行としてつなぎます
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/jinford/article-rag/internal/core/evaluation"
	"github.com/jinford/article-rag/internal/core/generation"
	"github.com/jinford/article-rag/internal/core/retrieval"
	"github.com/jinford/article-rag/internal/core/run"
)

// ステージ名
const (
	StageRetrieve = "retrieve"
	StageGenerate = "generate"
	StageEvaluate = "evaluate"
)

// Observer はステージの所要時間と評価結果を受け取る（metrics.Metrics が満たす）
type Observer interface {
	ObserveStage(stage string, d time.Duration, err error)
	ObserveScores(recall, precision float64)
}

type noopObserver struct{}

func (noopObserver) ObserveStage(string, time.Duration, error) {}
func (noopObserver) ObserveScores(float64, float64)            {}

// Outcome は 1 回の実行結果
type Outcome struct {
	Run        run.Run
	Retrieved  []retrieval.Result
	Generation *generation.Result
	Scores     *evaluation.Scores
	// EvaluationErr は評価に失敗した場合のエラー。評価の失敗は実行全体を失敗させない
	EvaluationErr error
}

// Answer は終端マーカーを除いた回答を返す
func (o *Outcome) Answer() string {
	if o == nil || o.Generation == nil {
		return ""
	}
	return o.Generation.Answer
}

// Pipeline は検索 → 生成 → 評価を行う
type Pipeline struct {
	retriever *retrieval.Service
	generator *generation.Service
	evaluator *evaluation.Service
	observer  Observer
	logger    *slog.Logger
}

type Option func(*Pipeline)

// WithPipelineLogger はロガーを設定する
func WithPipelineLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithObserver はメトリクスの記録先を設定する
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observer = o
		}
	}
}

// New は新しい Pipeline を作成する。evaluator が nil の場合は評価を行わない
func New(retriever *retrieval.Service, generator *generation.Service, evaluator *evaluation.Service, opts ...Option) *Pipeline {
	p := &Pipeline{
		retriever: retriever,
		generator: generator,
		evaluator: evaluator,
		observer:  noopObserver{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Run は query に対して検索・生成・評価を行う
func (p *Pipeline) Run(ctx context.Context, query string) (*Outcome, error) {
	outcome, err := p.answer(ctx, run.New(query))
	if err != nil {
		return nil, err
	}
	if p.evaluator == nil {
		return outcome, nil
	}

	start := time.Now()
	scores, err := p.evaluator.EvaluateRun(ctx, outcome.Run)
	p.observer.ObserveStage(StageEvaluate, time.Since(start), err)
	if err != nil {
		p.logger.Error("evaluation failed", "runID", outcome.Run.ID, "error", err)
		outcome.EvaluationErr = err
		return outcome, nil
	}
	p.observer.ObserveScores(scores.Recall, scores.Precision)
	outcome.Scores = scores
	return outcome, nil
}

// Ask は query に対して検索と生成だけを行い、回答を返す
func (p *Pipeline) Ask(ctx context.Context, query string) (string, error) {
	outcome, err := p.answer(ctx, run.New(query))
	if err != nil {
		return "", err
	}
	return outcome.Answer(), nil
}

func (p *Pipeline) answer(ctx context.Context, r run.Run) (*Outcome, error) {
	p.logger.Info("starting run", "runID", r.ID, "query", r.Query)

	start := time.Now()
	retrieved, err := p.retriever.Retrieve(ctx, r)
	p.observer.ObserveStage(StageRetrieve, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	generated, err := p.generator.Generate(ctx, r, retrieval.Texts(retrieved))
	p.observer.ObserveStage(StageGenerate, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	return &Outcome{Run: r, Retrieved: retrieved, Generation: generated}, nil
}
