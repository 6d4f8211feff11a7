package index

import (
	"context"
	"fmt"
)

// DefaultEmbeddingBatchSize は BatchEmbedder に一度に渡すテキスト数の上限
const DefaultEmbeddingBatchSize = 100

// Embedder はテキストのEmbedding生成インターフェース
type Embedder interface {
	// Embed は単一テキストのEmbeddingを生成する
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder は複数テキストをまとめて埋め込める Embedder
type BatchEmbedder interface {
	Embedder
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)
	MaxBatchSize() int
}

// Store はインデックスの永続化先を表す
type Store interface {
	// Save はインデックス全体を書き込む。既存データは完全に置き換える
	Save(ctx context.Context, idx *Index) error
	// Load は保存済みのインデックスを読み込む。存在しない・破損している場合は ErrIndexLoad を返す
	Load(ctx context.Context) (*Index, error)
}

// Index は位置ID 0..n-1 で管理される埋め込みベクトルとチャンクテキストの組
type Index struct {
	vectors [][]float32
	texts   []string
}

// New はベクトルとテキストから Index を作成する。
// 件数と次元数が揃っていない場合はエラーを返す。
func New(vectors [][]float32, texts []string) (*Index, error) {
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("vector count %d does not match text count %d", len(vectors), len(texts))
	}
	if len(vectors) > 0 {
		dim := len(vectors[0])
		if dim == 0 {
			return nil, fmt.Errorf("vector 0 is empty")
		}
		for i, v := range vectors {
			if len(v) != dim {
				return nil, fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), dim)
			}
		}
	}
	return &Index{vectors: vectors, texts: texts}, nil
}

// Build は texts を順番通りに埋め込み、位置IDを振った Index を作成する
func Build(ctx context.Context, texts []string, embedder Embedder) (*Index, error) {
	var (
		vectors [][]float32
		err     error
	)
	if be, ok := embedder.(BatchEmbedder); ok {
		vectors, err = embedBatches(ctx, texts, be)
	} else {
		vectors, err = embedEach(ctx, texts, embedder)
	}
	if err != nil {
		return nil, err
	}

	copied := make([]string, len(texts))
	copy(copied, texts)
	return New(vectors, copied)
}

func embedEach(ctx context.Context, texts []string, embedder Embedder) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for i, text := range texts {
		vec, err := embedder.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunk %d: %w", i, err)
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

func embedBatches(ctx context.Context, texts []string, embedder BatchEmbedder) ([][]float32, error) {
	batchSize := embedder.MaxBatchSize()
	if batchSize <= 0 || batchSize > DefaultEmbeddingBatchSize {
		batchSize = DefaultEmbeddingBatchSize
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		batch, err := embedder.BatchEmbed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunks %d-%d: %w", start, end-1, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embedding count mismatch for chunks %d-%d: got %d", start, end-1, len(batch))
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// Len は格納されているベクトル数を返す
func (i *Index) Len() int { return len(i.vectors) }

// Dimension はベクトル次元数を返す。空の場合は 0
func (i *Index) Dimension() int {
	if len(i.vectors) == 0 {
		return 0
	}
	return len(i.vectors[0])
}

// Text は位置ID id のチャンクテキストを返す
func (i *Index) Text(id int) (string, bool) {
	if id < 0 || id >= len(i.texts) {
		return "", false
	}
	return i.texts[id], true
}

// Texts は全チャンクテキストをID順で返す
func (i *Index) Texts() []string {
	out := make([]string, len(i.texts))
	copy(out, i.texts)
	return out
}

// ReconstructAll は全ベクトルをID順で復元して返す（呼び出し側が変更しても Index は影響を受けない）
func (i *Index) ReconstructAll() [][]float32 {
	out := make([][]float32, len(i.vectors))
	for id, v := range i.vectors {
		out[id] = append([]float32(nil), v...)
	}
	return out
}
