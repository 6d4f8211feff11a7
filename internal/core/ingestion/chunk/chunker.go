package chunk

import (
	"strings"

	"github.com/jinford/article-rag/internal/core/apperr"
)

// Chunker はテキストを固定幅のウィンドウで重なりを持たせて分割します。
// 文や単語の境界は考慮しないため、単語の途中で分割されることがあります。
type Chunker struct {
	size    int // ウィンドウ幅（文字数）
	overlap int // 隣接ウィンドウの重なり（文字数）
}

// New は新しい Chunker を作成します。0 <= overlap < size でなければ ErrConfig を返します
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, apperr.Config("new chunker", "chunk_size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, apperr.Config("new chunker", "overlap_chunk_size must satisfy 0 <= overlap < chunk_size, got overlap=%d chunk_size=%d", overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size はウィンドウ幅を返します
func (c *Chunker) Size() int { return c.size }

// Overlap は重なり幅を返します
func (c *Chunker) Overlap() int { return c.overlap }

// Stride は隣接ウィンドウの開始位置の差を返します
func (c *Chunker) Stride() int { return c.size - c.overlap }

// Split は text を左から順にウィンドウ分割します。
// ウィンドウは 0, stride, 2*stride, ... から始まり [start, start+size) をテキスト末尾で切り詰めます。
// 位置はバイトではなく rune 単位で数えます。
func (c *Chunker) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return []string{}
	}

	stride := c.Stride()
	chunks := make([]string, 0, (len(runes)+stride-1)/stride)
	for start := 0; start < len(runes); start += stride {
		end := min(start+c.size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// Normalize は埋め込み前に改行を空白へ置き換えます（チャンクテーブルには元のテキストを保存する）
func Normalize(chunks []string) []string {
	normalized := make([]string, len(chunks))
	for i, c := range chunks {
		normalized[i] = strings.ReplaceAll(c, "\n", " ")
	}
	return normalized
}
