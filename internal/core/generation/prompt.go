package generation

import (
	"strings"
)

// ContextSeparator はチャンク同士を結合する区切り
const ContextSeparator = "\n\n"

// PromptTemplate は役割マーカー付きの固定テンプレート
const PromptTemplate = "<|user|> Relevant information: {context} Provide answer to question with relevant information provided above: {question}<|end|> <|assistant|>"

// DefaultEndMarkers は回答の終端として扱うマーカー。先に出現したものの位置で切り詰める
var DefaultEndMarkers = []string{"<|end|>", "|end|"}

// BuildContext はチャンクを検索順（スコア降順）のまま結合する
func BuildContext(chunks []string) string {
	return strings.Join(chunks, ContextSeparator)
}

// BuildPrompt はコンテキストと質問をテンプレートに埋め込む
func BuildPrompt(context, question string) string {
	r := strings.NewReplacer("{context}", context, "{question}", question)
	return r.Replace(PromptTemplate)
}

// StripAtEndMarker は最初に現れた終端マーカー以降を捨て、前後の空白を除去する。
// マーカーが無い場合は出力をそのまま返す。
func StripAtEndMarker(output string, markers []string) string {
	cut := -1
	for _, m := range markers {
		if m == "" {
			continue
		}
		if i := strings.Index(output, m); i >= 0 && (cut < 0 || i < cut) {
			cut = i
		}
	}
	if cut < 0 {
		return output
	}
	return strings.TrimSpace(output[:cut])
}
