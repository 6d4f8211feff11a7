// Package tokenizer は tiktoken によるプロンプトのトークン数制御を提供します
package tokenizer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jinford/article-rag/internal/core/generation"
)

// DefaultEncoding は OpenAI のチャットモデルが使うエンコーディング
const DefaultEncoding = "cl100k_base"

// Tiktoken は tiktoken を利用した generation.Tokenizer 実装
type Tiktoken struct {
	encoding *tiktoken.Tiktoken
}

// New は指定したエンコーディングの Tiktoken を作成する
func New(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding: %w", err)
	}
	return &Tiktoken{encoding: enc}, nil
}

// Count はトークン数を返す
func (t *Tiktoken) Count(text string) int {
	return len(t.encoding.Encode(text, nil, nil))
}

// Truncate は text を先頭から maxTokens トークンまでに切り詰める。maxTokens <= 0 は無制限
func (t *Tiktoken) Truncate(text string, maxTokens int) (string, int, error) {
	tokens := t.encoding.Encode(text, nil, nil)
	if maxTokens <= 0 || len(tokens) <= maxTokens {
		return text, len(tokens), nil
	}

	// 途中で切れたマルチバイト文字のバイト列を落とす
	truncated := strings.ToValidUTF8(t.encoding.Decode(tokens[:maxTokens]), "")
	n := t.Count(truncated)
	for n > maxTokens && truncated != "" {
		_, size := utf8.DecodeLastRuneInString(truncated)
		truncated = truncated[:len(truncated)-size]
		n = t.Count(truncated)
	}
	return truncated, n, nil
}

var _ generation.Tokenizer = (*Tiktoken)(nil)
