package cli

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/urfave/cli/v3"

	"github.com/jinford/article-rag/internal/core/evaluation"
	"github.com/jinford/article-rag/internal/core/ingestion"
	"github.com/jinford/article-rag/internal/core/pipeline"
	"github.com/jinford/article-rag/internal/core/retrieval"
	"github.com/jinford/article-rag/internal/core/run"
)

// IngestAction は記事の取得からインデックス保存までを行うコマンドのアクション
func IngestAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := newAppContextFromCommand(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Container.Config.Settings.ValidateIngestion(); err != nil {
		return err
	}

	_, err = executeIngest(ctx, appCtx, stdout(cmd))
	return err
}

func executeIngest(ctx context.Context, appCtx *AppContext, out io.Writer) (*ingestion.Stats, error) {
	stats, err := runStage(appCtx.Logger(), "ingestion pipeline", func() (*ingestion.Stats, error) {
		return appCtx.Container.IngestionService.Run(ctx)
	})
	if err != nil {
		return nil, err
	}

	if stats.Skipped {
		fmt.Fprintln(out, "content file already exists; download skipped")
	}
	fmt.Fprintf(out, "indexed %d chunks (dimension %d)\n", stats.Chunks, stats.Dimension)
	return stats, nil
}

// GenerateAction は検索・生成・評価を行うコマンドのアクション
func GenerateAction(ctx context.Context, cmd *cli.Command) error {
	out := stdout(cmd)
	question, err := readQuestion(cmd.Args().Slice(), stdin(cmd), out)
	if err != nil {
		return err
	}

	appCtx, err := newAppContextFromCommand(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	_, err = executeGenerate(ctx, appCtx, question, out)
	return err
}

func executeGenerate(ctx context.Context, appCtx *AppContext, question string, out io.Writer) (*pipeline.Outcome, error) {
	outcome, err := runStage(appCtx.Logger(), "generation pipeline", func() (*pipeline.Outcome, error) {
		return appCtx.Container.Pipeline.Run(ctx, question)
	})
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(out, "Question: %s\n\n", question)
	fmt.Fprintf(out, "Answer: %s\n", outcome.Answer())
	fmt.Fprintf(out, "Run: %s\n", outcome.Run.ID)
	if outcome.Scores != nil {
		printScores(out, outcome.Scores)
	}
	return outcome, nil
}

// AskAction は質問に対する回答だけを表示するコマンドのアクション
func AskAction(ctx context.Context, cmd *cli.Command) error {
	out := stdout(cmd)
	question, err := readQuestion(cmd.Args().Slice(), stdin(cmd), out)
	if err != nil {
		return err
	}

	appCtx, err := newAppContextFromCommand(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	answer, err := runStage(appCtx.Logger(), "ask", func() (string, error) {
		return appCtx.Container.AskPipeline.Ask(ctx, question)
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(out, answer)
	return nil
}

// RetrieveAction は検索段階だけを実行するコマンドのアクション
func RetrieveAction(ctx context.Context, cmd *cli.Command) error {
	out := stdout(cmd)
	question, err := readQuestion(cmd.Args().Slice(), stdin(cmd), out)
	if err != nil {
		return err
	}

	appCtx, err := newAppContextFromCommand(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	_, err = executeRetrieve(ctx, appCtx, question, out)
	return err
}

func executeRetrieve(ctx context.Context, appCtx *AppContext, question string, out io.Writer) ([]retrieval.Result, error) {
	r := run.New(question)
	results, err := runStage(appCtx.Logger(), "retrieval", func() ([]retrieval.Result, error) {
		return appCtx.Container.RetrievalService.Retrieve(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(out, "Run: %s\n", r.ID)
	for i, res := range results {
		fmt.Fprintf(out, "[%d] score=%.4f %s\n", i+1, res.Score, res.Text)
	}
	return results, nil
}

// EvaluateAction は記録済みの実行を評価するコマンドのアクション
func EvaluateAction(ctx context.Context, cmd *cli.Command) error {
	runID := mo.None[uuid.UUID]()
	if s := cmd.String("run-id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return fmt.Errorf("--run-id が不正です: %w", err)
		}
		runID = mo.Some(id)
	}

	appCtx, err := newAppContextFromCommand(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	_, err = executeEvaluate(ctx, appCtx, runID, stdout(cmd))
	return err
}

func executeEvaluate(ctx context.Context, appCtx *AppContext, runID mo.Option[uuid.UUID], out io.Writer) (*evaluation.Scores, error) {
	scores, err := runStage(appCtx.Logger(), "evaluation", func() (*evaluation.Scores, error) {
		return appCtx.Container.EvaluationService.Evaluate(ctx, runID)
	})
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(out, "Question: %s\n", scores.Run.Query)
	printScores(out, scores)
	return scores, nil
}

func printScores(out io.Writer, s *evaluation.Scores) {
	fmt.Fprintf(out, "context_recall: %s\n", formatScore(s.Recall))
	fmt.Fprintf(out, "context_precision: %s\n", formatScore(s.Precision))
}

func formatScore(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", v)
}
