package retrieval

import (
	"math"
	"slices"
)

// CosineSimilarity は 2 つのベクトルのコサイン類似度を返す。
// 次元が異なる場合やどちらかのノルムが 0 の場合は 0 を返す。
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Similarities は query と各ベクトルのコサイン類似度を ID 順に返す
func Similarities(query []float32, vectors [][]float32) []float64 {
	scores := make([]float64, len(vectors))
	for i, v := range vectors {
		scores[i] = CosineSimilarity(query, v)
	}
	return scores
}

// RankTopK はスコアの高い上位 k 件の ID を降順で返す。
//
// 昇順に安定ソートして末尾 k 件を取り、逆順にする。そのため同点の場合は ID の大きい方が先に来る。
// 下流の評価は行順に依存し得るので、この並びは変更しないこと。
// k は [0, len(scores)] に丸める。
func RankTopK(scores []float64, k int) []int {
	k = max(0, min(k, len(scores)))

	ids := make([]int, len(scores))
	for i := range ids {
		ids[i] = i
	}
	slices.SortStableFunc(ids, func(a, b int) int {
		switch {
		case scores[a] < scores[b]:
			return -1
		case scores[a] > scores[b]:
			return 1
		default:
			return 0
		}
	})

	top := slices.Clone(ids[len(ids)-k:])
	slices.Reverse(top)
	return top
}
