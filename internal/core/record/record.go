package record

import (
	"context"

	"github.com/google/uuid"

	"github.com/jinford/article-rag/internal/core/run"
)

// Retrieval は検索ログの 1 行（クエリと選択されたチャンクの組）を表す
type Retrieval struct {
	RunID    uuid.UUID
	Query    string
	Score    float64
	Document string
}

// Generation は生成ログの 1 行を表す
type Generation struct {
	RunID   uuid.UUID
	Query   string
	Context string // 結合済みのコンテキスト
	Answer  string
}

// RetrievalLog は検索ログの永続化インターフェース（追記専用）
type RetrievalLog interface {
	AppendRetrievals(ctx context.Context, rows []Retrieval) error
	ListRetrievals(ctx context.Context) ([]Retrieval, error)
}

// GenerationLog は生成ログの永続化インターフェース（追記専用）
type GenerationLog interface {
	AppendGenerations(ctx context.Context, rows []Generation) error
	ListGenerations(ctx context.Context) ([]Generation, error)
}

// LatestRun は検索ログの最終行が属する実行を返す。
// 行の位置で判定するため、単一の書き込み元を前提とする。
func LatestRun(rows []Retrieval) (run.Run, bool) {
	if len(rows) == 0 {
		return run.Run{}, false
	}
	last := rows[len(rows)-1]
	return run.Run{ID: last.RunID, Query: last.Query}, true
}

// matches は行が r に属するかを判定する。
// run_id を持たない行（旧形式）はクエリ文字列の完全一致で判定する。
func matches(rowID uuid.UUID, rowQuery string, r run.Run) bool {
	if rowID == uuid.Nil || r.ID == uuid.Nil {
		return rowQuery == r.Query
	}
	return rowID == r.ID
}

// RetrievalsForRun は r に属する検索ログ行をテーブル順で返す
func RetrievalsForRun(rows []Retrieval, r run.Run) []Retrieval {
	var out []Retrieval
	for _, row := range rows {
		if matches(row.RunID, row.Query, r) {
			out = append(out, row)
		}
	}
	return out
}

// GenerationsForRun は r に属する生成ログ行をテーブル順で返す
func GenerationsForRun(rows []Generation, r run.Run) []Generation {
	var out []Generation
	for _, row := range rows {
		if matches(row.RunID, row.Query, r) {
			out = append(out, row)
		}
	}
	return out
}

// FindRun は runID を持つ最初の検索ログ行から実行を復元する
func FindRun(rows []Retrieval, runID uuid.UUID) (run.Run, bool) {
	for _, row := range rows {
		if row.RunID == runID {
			return run.Run{ID: row.RunID, Query: row.Query}, true
		}
	}
	return run.Run{}, false
}
