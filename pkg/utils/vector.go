// Package utils provides the float32 vector math shared by the embedding
// model: similarity scoring and top-k selection over score slices.
package utils

import (
	"container/heap"
	"math"
	"sort"
)

// DotProduct returns the inner product of a and b, accumulated in float64.
// Mismatched lengths yield 0.
func DotProduct(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// Magnitude returns the L2 norm of v.
func Magnitude(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

// CosineSimilarity scores a against b in [-1, 1], accumulating in float64.
// Mismatched lengths, empty input, and zero vectors all score 0 rather than
// erroring; ranking code treats those as "no signal".
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na, nb := Magnitude(a), Magnitude(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return DotProduct(a, b) / (na * nb)
}

// CosineSimilarity32 is CosineSimilarity computed entirely in float32 for
// the training hot path, with the same zero-value conventions.
func CosineSimilarity32(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dp, na, nb float32
	for i := range a {
		dp += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dp / (float32(math.Sqrt(float64(na))) * float32(math.Sqrt(float64(nb))))
}

// ScoredItem pairs a value with its score for top-k selection.
type ScoredItem[T any] struct {
	Item  T
	Score float64
}

// TopKByScore returns the k highest-scoring items in descending score
// order. Selection runs in O(n log k) over a bounded min-heap, so large
// candidate lists stay cheap for small k.
func TopKByScore[T any](items []ScoredItem[T], k int) []ScoredItem[T] {
	if k <= 0 || len(items) == 0 {
		return nil
	}

	if k >= len(items) {
		out := make([]ScoredItem[T], len(items))
		copy(out, items)
		sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
		return out
	}

	// The heap keeps the k best seen so far with the worst of them on top,
	// so each new item needs one comparison to know if it belongs.
	h := make(scoreHeap[T], 0, k)
	for _, it := range items {
		switch {
		case h.Len() < k:
			heap.Push(&h, it)
		case it.Score > h[0].Score:
			h[0] = it
			heap.Fix(&h, 0)
		}
	}

	out := make([]ScoredItem[T], h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h).(ScoredItem[T])
	}
	return out
}

// TopKIndicesByScore returns the indices of the k highest scores in
// descending score order, for callers that index back into a parallel
// slice.
func TopKIndicesByScore(scores []float64, k int) []int {
	if k <= 0 || len(scores) == 0 {
		return nil
	}
	items := make([]ScoredItem[int], len(scores))
	for i, s := range scores {
		items[i] = ScoredItem[int]{Item: i, Score: s}
	}
	top := TopKByScore(items, k)
	inds := make([]int, len(top))
	for i, it := range top {
		inds[i] = it.Item
	}
	return inds
}

// scoreHeap is a min-heap by score; the root is the weakest of the kept
// items.
type scoreHeap[T any] []ScoredItem[T]

func (h scoreHeap[T]) Len() int           { return len(h) }
func (h scoreHeap[T]) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h scoreHeap[T]) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *scoreHeap[T]) Push(x any) { *h = append(*h, x.(ScoredItem[T])) }

func (h *scoreHeap[T]) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
