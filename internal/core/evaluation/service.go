package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"golang.org/x/sync/errgroup"

	"github.com/jinford/article-rag/internal/core/apperr"
	"github.com/jinford/article-rag/internal/core/record"
	"github.com/jinford/article-rag/internal/core/run"
)

// Scores は評価結果
type Scores struct {
	Run       run.Run
	Recall    float64
	Precision float64
	Sample    Sample
}

// BuildSample は r に属する検索ログ・生成ログから評価サンプルを組み立てる。
// 参照は検索されたチャンク、評価対象は生成された回答（いずれもテーブル順）。
func BuildSample(retrievals []record.Retrieval, generations []record.Generation, r run.Run) Sample {
	sample := Sample{Query: r.Query}
	for _, row := range record.RetrievalsForRun(retrievals, r) {
		sample.Reference = append(sample.Reference, row.Document)
	}
	for _, row := range record.GenerationsForRun(generations, r) {
		sample.Retrieved = append(sample.Retrieved, row.Answer)
	}
	return sample
}

// Service は検索ログと生成ログを突き合わせて評価する
type Service struct {
	retrievals  record.RetrievalLog
	generations record.GenerationLog
	threshold   float64
	logger      *slog.Logger
}

type ServiceOption func(*Service)

// WithEvaluationLogger は Service にロガーを設定する
func WithEvaluationLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithThreshold は類似度の閾値を上書きする
func WithThreshold(threshold float64) ServiceOption {
	return func(s *Service) {
		s.threshold = threshold
	}
}

// NewService は新しい Service を作成する
func NewService(retrievals record.RetrievalLog, generations record.GenerationLog, opts ...ServiceOption) *Service {
	svc := &Service{
		retrievals:  retrievals,
		generations: generations,
		threshold:   DefaultThreshold,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	return svc
}

// Evaluate は runID の実行を評価する。runID が無い場合は検索ログ最終行の実行を対象にする。
func (s *Service) Evaluate(ctx context.Context, runID mo.Option[uuid.UUID]) (*Scores, error) {
	const op = "evaluate"

	retrievals, err := s.retrievals.ListRetrievals(ctx)
	if err != nil {
		return nil, err
	}
	generations, err := s.generations.ListGenerations(ctx)
	if err != nil {
		return nil, err
	}

	var target run.Run
	var found bool
	if id, ok := runID.Get(); ok {
		target, found = record.FindRun(retrievals, id)
		if !found {
			return nil, apperr.Retrieval(op, fmt.Errorf("run %s not found in retrieval log", id))
		}
	} else {
		target, found = record.LatestRun(retrievals)
		if !found {
			return nil, apperr.Retrieval(op, errors.New("retrieval log is empty"))
		}
	}

	sample := BuildSample(retrievals, generations, target)
	s.logger.Info("evaluating run",
		"runID", target.ID,
		"query", target.Query,
		"references", len(sample.Reference),
		"candidates", len(sample.Retrieved),
	)

	scores := &Scores{Run: target, Sample: sample}

	// 2 つの指標は互いに独立しているため並行に計算する
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := egCtx.Err(); err != nil {
			return err
		}
		scores.Recall = ContextRecall(sample.Retrieved, sample.Reference, s.threshold)
		return nil
	})
	eg.Go(func() error {
		if err := egCtx.Err(); err != nil {
			return err
		}
		scores.Precision = ContextPrecision(sample.Retrieved, sample.Reference, s.threshold)
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("failed to compute metrics: %w", err)
	}

	s.logger.Info("evaluation completed", "runID", target.ID, "recall", scores.Recall, "precision", scores.Precision)
	return scores, nil
}

// EvaluateRun は既知の実行を評価する
func (s *Service) EvaluateRun(ctx context.Context, r run.Run) (*Scores, error) {
	return s.Evaluate(ctx, mo.Some(r.ID))
}
