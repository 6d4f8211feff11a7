package run

import (
	"time"

	"github.com/google/uuid"
)

// Run は生成パイプライン 1 回分の実行を表す。
// 検索結果・生成結果の各行は Run.ID で紐付けられる。
type Run struct {
	ID        uuid.UUID
	Query     string
	StartedAt time.Time
}

// New は新しい Run を発行する
func New(query string) Run {
	return Run{
		ID:        uuid.New(),
		Query:     query,
		StartedAt: time.Now(),
	}
}
