package ingestion

import (
	"context"

	"github.com/samber/mo"
)

// ArticleFetcher は URL から記事本文を取得する。
// 取得できなかった場合はエラーではなく None を返す（URL 単位で処理を続行するため）
type ArticleFetcher interface {
	Fetch(ctx context.Context, url string) mo.Option[string]
}

// ChunkStore はチャンクテーブルの永続化先
type ChunkStore interface {
	// Replace はチャンクテーブル全体を置き換える
	Replace(ctx context.Context, chunks []string) error
}
