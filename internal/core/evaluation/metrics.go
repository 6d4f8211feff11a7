package evaluation

import (
	"math"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// DefaultThreshold は文字列類似度を「一致」とみなす閾値
const DefaultThreshold = 0.5

// precisionEpsilon は関連コンテキストが 0 件のときのゼロ除算を避ける
const precisionEpsilon = 1e-10

// Sample は評価対象の 1 組
type Sample struct {
	Query     string
	Retrieved []string // 評価対象のコンテキスト（生成された回答）
	Reference []string // 参照コンテキスト（検索されたチャンク）
}

// StringSimilarity はレーベンシュタイン距離を最大長で正規化した類似度 (0..1) を返す
func StringSimilarity(a, b string) float64 {
	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}

func bestSimilarity(s string, candidates []string) float64 {
	best := 0.0
	for _, c := range candidates {
		best = max(best, StringSimilarity(s, c))
	}
	return best
}

// ContextRecall は参照コンテキストのうち、いずれかの評価対象コンテキストと
// threshold を超えて類似するものの割合を返す。参照が無い場合は NaN。
func ContextRecall(retrieved, reference []string, threshold float64) float64 {
	if len(reference) == 0 {
		return math.NaN()
	}
	hits := 0
	for _, ref := range reference {
		if bestSimilarity(ref, retrieved) > threshold {
			hits++
		}
	}
	return float64(hits) / float64(len(reference))
}

// ContextPrecision は評価対象コンテキストの関連判定を順位で重み付けした平均適合率を返す。
// 評価対象が無い場合は NaN。
func ContextPrecision(retrieved, reference []string, threshold float64) float64 {
	if len(retrieved) == 0 {
		return math.NaN()
	}

	var numerator, relevant float64
	for i, ctx := range retrieved {
		if bestSimilarity(ctx, reference) < threshold {
			continue
		}
		relevant++
		numerator += relevant / float64(i+1)
	}
	return numerator / (relevant + precisionEpsilon)
}
