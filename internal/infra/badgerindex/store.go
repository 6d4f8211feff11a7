// Package badgerindex はベクトルインデックスを BadgerDB のディレクトリに保存します
package badgerindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/jinford/article-rag/internal/core/apperr"
	"github.com/jinford/article-rag/internal/core/index"
)

var (
	metaKey     = []byte("index:meta")
	entryPrefix = []byte("index:entry:")
)

// meta はインデックス全体の情報
type meta struct {
	Count     int `json:"count"`
	Dimension int `json:"dimension"`
}

// entry は位置ID 1 件分のデータ
type entry struct {
	ID     int       `json:"id"`
	Text   string    `json:"text"`
	Vector []float32 `json:"vector"`
}

// Store は index.Store の BadgerDB 実装。操作ごとに DB を開閉する
type Store struct {
	dir string
}

// New は dir に保存する Store を作成する
func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) open() (*badger.DB, error) {
	return badger.Open(badger.DefaultOptions(s.dir).WithLogger(nil))
}

func entryKey(id int) []byte {
	// ゼロ埋めでキー順と位置ID順を一致させる
	return fmt.Appendf(nil, "%s%010d", entryPrefix, id)
}

// Save は既存データを全て削除してからインデックスを書き込む
func (s *Store) Save(ctx context.Context, idx *index.Index) error {
	const op = "save index"

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return apperr.IO(op, fmt.Errorf("failed to create %s: %w", s.dir, err))
	}
	db, err := s.open()
	if err != nil {
		return apperr.IO(op, fmt.Errorf("failed to open badger: %w", err))
	}
	defer db.Close()

	if err := db.DropAll(); err != nil {
		return apperr.IO(op, fmt.Errorf("failed to clear index: %w", err))
	}

	wb := db.NewWriteBatch()
	defer wb.Cancel()

	vectors := idx.ReconstructAll()
	texts := idx.Texts()
	for id := range vectors {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(entry{ID: id, Text: texts[id], Vector: vectors[id]})
		if err != nil {
			return apperr.IO(op, fmt.Errorf("failed to marshal entry %d: %w", id, err))
		}
		if err := wb.Set(entryKey(id), data); err != nil {
			return apperr.IO(op, fmt.Errorf("failed to write entry %d: %w", id, err))
		}
	}

	// meta は最後に書くため、途中で失敗したインデックスは Load で破損として扱われる
	data, err := json.Marshal(meta{Count: idx.Len(), Dimension: idx.Dimension()})
	if err != nil {
		return apperr.IO(op, fmt.Errorf("failed to marshal meta: %w", err))
	}
	if err := wb.Set(metaKey, data); err != nil {
		return apperr.IO(op, fmt.Errorf("failed to write meta: %w", err))
	}
	if err := wb.Flush(); err != nil {
		return apperr.IO(op, fmt.Errorf("failed to flush index: %w", err))
	}
	return nil
}

// Load は保存済みインデックスを読み込む。存在しない・破損している場合は ErrIndexLoad を返す
func (s *Store) Load(ctx context.Context) (*index.Index, error) {
	const op = "load index"

	if _, err := os.Stat(s.dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.IndexLoad(op, fmt.Errorf("index directory %s does not exist", s.dir))
		}
		return nil, apperr.IndexLoad(op, err)
	}

	db, err := s.open()
	if err != nil {
		return nil, apperr.IndexLoad(op, fmt.Errorf("failed to open badger: %w", err))
	}
	defer db.Close()

	var (
		m       meta
		vectors [][]float32
		texts   []string
	)
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return errors.New("index metadata not found")
			}
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		}); err != nil {
			return fmt.Errorf("invalid metadata: %w", err)
		}

		vectors = make([][]float32, 0, m.Count)
		texts = make([]string, 0, m.Count)

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(entryPrefix); it.ValidForPrefix(entryPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("invalid entry: %w", err)
			}
			if e.ID != len(vectors) {
				return fmt.Errorf("entry id %d out of sequence, expected %d", e.ID, len(vectors))
			}
			vectors = append(vectors, e.Vector)
			texts = append(texts, e.Text)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.IndexLoad(op, err)
	}

	if len(vectors) != m.Count {
		return nil, apperr.IndexLoad(op, fmt.Errorf("index has %d entries, metadata says %d", len(vectors), m.Count))
	}
	idx, err := index.New(vectors, texts)
	if err != nil {
		return nil, apperr.IndexLoad(op, err)
	}
	if idx.Dimension() != m.Dimension {
		return nil, apperr.IndexLoad(op, fmt.Errorf("index dimension %d, metadata says %d", idx.Dimension(), m.Dimension))
	}
	return idx, nil
}

var _ index.Store = (*Store)(nil)
