package starspace

import (
	"math"
	"math/rand"
)

// sameEpsilon bounds the summed absolute elementwise difference under which
// two target sequences count as the same response.
const sameEpsilon = 1e-5

// negCache is a bounded reservoir of previously seen target sequences that
// training steps draw negative examples from. It fills in arrival order and,
// once full, overwrites a uniformly random slot per add, which keeps some
// long-run diversity without unbounded memory. Not safe for concurrent use;
// every agent instance owns its own cache.
type negCache struct {
	entries  [][]int
	capacity int
	rng      *rand.Rand
}

func newNegCache(capacity int, rng *rand.Rand) *negCache {
	return &negCache{capacity: capacity, rng: rng}
}

func (c *negCache) size() int {
	return len(c.entries)
}

// add stores a copy of target. Empty targets are ignored. Below capacity the
// cache appends; at capacity it overwrites a random slot.
func (c *negCache) add(target []int) {
	if len(target) == 0 {
		return
	}
	cp := append([]int(nil), target...)
	if len(c.entries) < c.capacity {
		c.entries = append(c.entries, cp)
		return
	}
	c.entries[c.rng.Intn(c.capacity)] = cp
}

// sample draws up to k entries that are not numerically identical to truth,
// giving up after 3k random picks. Callers must tolerate fewer than k
// results; with at most one entry there is nothing to contrast against and
// no negatives are returned.
func (c *negCache) sample(truth []int, k int) [][]int {
	if len(c.entries) <= 1 || k <= 0 {
		return nil
	}
	var negs [][]int
	for attempt := 0; attempt < 3*k; attempt++ {
		neg := c.entries[c.rng.Intn(len(c.entries))]
		if !sameSequence(truth, neg) {
			negs = append(negs, neg)
			if len(negs) >= k {
				break
			}
		}
	}
	return negs
}

// sameSequence reports whether two token sequences are numerically
// identical: equal length and summed absolute difference within epsilon.
func sameSequence(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	var diff float64
	for i := range a {
		diff += math.Abs(float64(a[i]) - float64(b[i]))
	}
	return diff <= sameEpsilon
}
