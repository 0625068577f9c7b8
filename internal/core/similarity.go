package core

import (
	"math"
	"sort"
)

// CosineSimilarity returns dot(a,b)/(|a||b|). Empty or mismatched-length
// inputs return 0 rather than an error; a zero vector also scores 0.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// BestMatch scans candidates linearly and returns the index of the single
// highest-similarity candidate at or above minSimilarity, or -1 if none
// qualifies. The linear scan is deliberate: the candidate set is bounded by
// the per-device pattern count, so an approximate index would buy nothing.
func BestMatch(query Vector, candidates []Vector, minSimilarity float64) (int, float64) {
	best := -1
	bestSim := 0.0
	for i, c := range candidates {
		sim := CosineSimilarity(query, c)
		if sim < minSimilarity {
			continue
		}
		if best == -1 || sim > bestSim {
			best = i
			bestSim = sim
		}
	}
	return best, bestSim
}

// TopK returns up to k candidate indexes ordered by descending similarity.
func TopK(query Vector, candidates []Vector, k int) []int {
	type scored struct {
		idx int
		sim float64
	}
	all := make([]scored, 0, len(candidates))
	for i, c := range candidates {
		all = append(all, scored{idx: i, sim: CosineSimilarity(query, c)})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].sim > all[j].sim })
	if k > len(all) {
		k = len(all)
	}
	out := make([]int, 0, k)
	for _, s := range all[:k] {
		out = append(out, s.idx)
	}
	return out
}

// AllAbove returns every candidate index with similarity at or above
// minSimilarity, in input order.
func AllAbove(query Vector, candidates []Vector, minSimilarity float64) []int {
	var out []int
	for i, c := range candidates {
		if CosineSimilarity(query, c) >= minSimilarity {
			out = append(out, i)
		}
	}
	return out
}
