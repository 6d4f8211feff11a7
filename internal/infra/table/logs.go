package table

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/google/uuid"

	"github.com/jinford/article-rag/internal/core/apperr"
	"github.com/jinford/article-rag/internal/core/record"
)

var (
	// ChunkColumns はチャンクテーブルの列
	ChunkColumns = []string{"chunks_text"}
	// RetrievalColumns は検索ログの列
	RetrievalColumns = []string{"run_id", "query", "score", "document"}
	// GenerationColumns は生成ログの列
	GenerationColumns = []string{"run_id", "query", "context", "answer"}
)

// ChunkTable はチャンクを 1 列の表として保存する。書き込みは常に全置換
type ChunkTable struct {
	table *Table
}

// NewChunkTable は path の ChunkTable を作成する
func NewChunkTable(path string, logger *slog.Logger) *ChunkTable {
	return &ChunkTable{table: New(path, logger)}
}

// Replace はチャンクテーブル全体を置き換える
func (c *ChunkTable) Replace(ctx context.Context, chunks []string) error {
	rows := make([][]string, len(chunks))
	for i, ch := range chunks {
		rows[i] = []string{ch}
	}
	if err := c.table.Replace(ChunkColumns, rows); err != nil {
		return apperr.IO("replace chunk table", err)
	}
	return nil
}

// RetrievalLog は検索ログの CSV 実装
type RetrievalLog struct {
	table *Table
}

// NewRetrievalLog は path の RetrievalLog を作成する
func NewRetrievalLog(path string, logger *slog.Logger) *RetrievalLog {
	return &RetrievalLog{table: New(path, logger, WithMergePolicy(Migrate))}
}

func (l *RetrievalLog) AppendRetrievals(ctx context.Context, rows []record.Retrieval) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = []string{formatRunID(r.RunID), r.Query, strconv.FormatFloat(r.Score, 'g', -1, 64), r.Document}
	}
	if _, err := l.table.Append(RetrievalColumns, out); err != nil {
		return apperr.IO("append retrieval log", err)
	}
	return nil
}

// ListRetrievals はテーブル順に全行を返す。ファイルが無い場合は空を返す
func (l *RetrievalLog) ListRetrievals(ctx context.Context) ([]record.Retrieval, error) {
	const op = "read retrieval log"

	header, rows, err := l.table.ReadAll()
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.IO(op, err)
	}
	cols, err := columnIndex(header, "query", "score", "document")
	if err != nil {
		return nil, apperr.IO(op, err)
	}
	runCol := slices.Index(header, "run_id")

	out := make([]record.Retrieval, 0, len(rows))
	for i, row := range rows {
		score, err := strconv.ParseFloat(row[cols["score"]], 64)
		if err != nil {
			return nil, apperr.IO(op, fmt.Errorf("row %d: invalid score: %w", i, err))
		}
		runID, err := parseRunID(row, runCol)
		if err != nil {
			return nil, apperr.IO(op, fmt.Errorf("row %d: %w", i, err))
		}
		out = append(out, record.Retrieval{
			RunID:    runID,
			Query:    row[cols["query"]],
			Score:    score,
			Document: row[cols["document"]],
		})
	}
	return out, nil
}

// GenerationLog は生成ログの CSV 実装
type GenerationLog struct {
	table *Table
}

// NewGenerationLog は path の GenerationLog を作成する
func NewGenerationLog(path string, logger *slog.Logger) *GenerationLog {
	return &GenerationLog{table: New(path, logger, WithMergePolicy(Migrate))}
}

func (l *GenerationLog) AppendGenerations(ctx context.Context, rows []record.Generation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out := make([][]string, len(rows))
	for i, g := range rows {
		out[i] = []string{formatRunID(g.RunID), g.Query, g.Context, g.Answer}
	}
	if _, err := l.table.Append(GenerationColumns, out); err != nil {
		return apperr.IO("append generation log", err)
	}
	return nil
}

// ListGenerations はテーブル順に全行を返す。ファイルが無い場合は空を返す
func (l *GenerationLog) ListGenerations(ctx context.Context) ([]record.Generation, error) {
	const op = "read generation log"

	header, rows, err := l.table.ReadAll()
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.IO(op, err)
	}
	cols, err := columnIndex(header, "query", "context", "answer")
	if err != nil {
		return nil, apperr.IO(op, err)
	}
	runCol := slices.Index(header, "run_id")

	out := make([]record.Generation, 0, len(rows))
	for i, row := range rows {
		runID, err := parseRunID(row, runCol)
		if err != nil {
			return nil, apperr.IO(op, fmt.Errorf("row %d: %w", i, err))
		}
		out = append(out, record.Generation{
			RunID:   runID,
			Query:   row[cols["query"]],
			Context: row[cols["context"]],
			Answer:  row[cols["answer"]],
		})
	}
	return out, nil
}

var (
	_ record.RetrievalLog  = (*RetrievalLog)(nil)
	_ record.GenerationLog = (*GenerationLog)(nil)
)

func columnIndex(header []string, names ...string) (map[string]int, error) {
	cols := make(map[string]int, len(names))
	for _, name := range names {
		i := slices.Index(header, name)
		if i < 0 {
			return nil, fmt.Errorf("column %q not found", name)
		}
		cols[name] = i
	}
	return cols, nil
}

func formatRunID(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

// parseRunID は run_id 列が無い、または空の行を uuid.Nil として扱う
func parseRunID(row []string, col int) (uuid.UUID, error) {
	if col < 0 || row[col] == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(row[col])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid run_id: %w", err)
	}
	return id, nil
}
