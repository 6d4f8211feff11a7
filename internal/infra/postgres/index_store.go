package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/article-rag/internal/core/apperr"
	"github.com/jinford/article-rag/internal/core/index"
	"github.com/jinford/article-rag/internal/platform/database"
)

// DefaultTable はチャンクと埋め込みを保存するテーブル名
const DefaultTable = "chunk_embeddings"

// undefinedTable は PostgreSQL の undefined_table エラーコード
const undefinedTable = "42P01"

// IndexStore は index.Store を実装する pgvector テーブル。
// 位置IDを主キーにして、保存のたびにテーブル全体を置き換える。
type IndexStore struct {
	db    *database.Database
	table string
}

// NewIndexStore は新しい IndexStore を返す。
func NewIndexStore(db *database.Database) *IndexStore {
	return &IndexStore{db: db, table: DefaultTable}
}

var _ index.Store = (*IndexStore)(nil)

func (s *IndexStore) schemaSQL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id        integer PRIMARY KEY,
	text      text NOT NULL,
	embedding vector NOT NULL
)`, pgx.Identifier{s.table}.Sanitize())
}

// EnsureSchema はテーブルが無ければ作成する。
func (s *IndexStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Pool.Exec(ctx, s.schemaSQL()); err != nil {
		return fmt.Errorf("failed to create %s: %w", s.table, err)
	}
	return nil
}

func (s *IndexStore) Save(ctx context.Context, idx *index.Index) error {
	const op = "save index"

	vectors := idx.ReconstructAll()
	texts := idx.Texts()
	rows := make([][]any, len(vectors))
	for id, v := range vectors {
		rows[id] = []any{int32(id), texts[id], pgvector.NewVector(v)}
	}

	// CREATE TABLE IF NOT EXISTS は同時に実行すると一意制約違反で失敗することがあるので、
	// スキーマ作成と行の置き換えはアドバイザリロックを取ってから行う。
	// 排他されるのはこの Save だけで、インジェスション全体ではない
	_, err := database.Transact(ctx, s.db, func(tx pgx.Tx) (int64, error) {
		if err := database.LockTx(ctx, tx, s.table); err != nil {
			return 0, err
		}
		if _, err := tx.Exec(ctx, s.schemaSQL()); err != nil {
			return 0, fmt.Errorf("failed to create %s: %w", s.table, err)
		}
		if _, err := tx.Exec(ctx, "TRUNCATE "+pgx.Identifier{s.table}.Sanitize()); err != nil {
			return 0, fmt.Errorf("failed to truncate %s: %w", s.table, err)
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{s.table}, []string{"id", "text", "embedding"}, pgx.CopyFromRows(rows))
		if err != nil {
			return 0, fmt.Errorf("failed to copy embeddings: %w", err)
		}
		return n, nil
	})
	if err != nil {
		return apperr.IO(op, err)
	}
	return nil
}

func (s *IndexStore) Load(ctx context.Context) (*index.Index, error) {
	const op = "load index"

	rows, err := s.db.Pool.Query(ctx, fmt.Sprintf("SELECT id, text, embedding FROM %s ORDER BY id", pgx.Identifier{s.table}.Sanitize()))
	if err != nil {
		return nil, apperr.IndexLoad(op, describeLoadError(err))
	}
	defer rows.Close()

	var (
		vectors [][]float32
		texts   []string
	)
	for rows.Next() {
		var (
			id   int32
			text string
			vec  pgvector.Vector
		)
		if err := rows.Scan(&id, &text, &vec); err != nil {
			return nil, apperr.IndexLoad(op, fmt.Errorf("failed to scan row: %w", err))
		}
		if int(id) != len(vectors) {
			return nil, apperr.IndexLoad(op, fmt.Errorf("id %d out of sequence, expected %d", id, len(vectors)))
		}
		vectors = append(vectors, vec.Slice())
		texts = append(texts, text)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.IndexLoad(op, describeLoadError(err))
	}
	if len(vectors) == 0 {
		return nil, apperr.IndexLoad(op, fmt.Errorf("table %s is empty", s.table))
	}

	idx, err := index.New(vectors, texts)
	if err != nil {
		return nil, apperr.IndexLoad(op, err)
	}
	return idx, nil
}

func describeLoadError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
		return fmt.Errorf("index table does not exist: %w", err)
	}
	return err
}
