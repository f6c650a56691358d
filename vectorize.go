package starspace

import (
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// batch is the vectorized form of one BatchAct call: padded context rows
// sorted by descending length, padded targets when the batch carries labels,
// and per-observation candidate sets otherwise.
type batch struct {
	// xs holds the padded context rows, longest first.
	xs [][]int

	// validInds maps each xs row back to its original batch position.
	validInds []int

	// ys holds the padded target rows, parallel to xs. nil when no
	// observation in the batch carries training labels.
	ys [][]int

	// ysRaw holds the unpadded chosen targets, parallel to xs. These feed
	// the negative cache, where padding would distort sampling.
	ysRaw [][]int

	// cands and candsTxt are indexed by original batch position; entries
	// are nil for observations without candidates.
	cands    [][][]int
	candsTxt [][]string
}

// vectorize converts a batch of observations into padded tensors. It returns
// nil when no observation has a usable context, which callers treat as
// "nothing to process", not as an error.
func (a *Agent) vectorize(observations []Observation) *batch {
	var validInds []int
	var exs []Observation
	for i, obs := range observations {
		if len(obs.TextVec) > 0 {
			validInds = append(validInds, i)
			exs = append(exs, obs)
		}
	}
	if len(exs) == 0 {
		return nil
	}

	// Sort by descending context length. The sort is stable so equal-length
	// examples keep their arrival order.
	order := make([]int, len(exs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(p, q int) bool {
		return len(exs[order[p]].TextVec) > len(exs[order[q]].TextVec)
	})
	sorted := make([]Observation, len(exs))
	sortedInds := make([]int, len(exs))
	for i, k := range order {
		sorted[i] = exs[k]
		sortedInds[i] = validInds[k]
	}
	exs, validInds = sorted, sortedInds

	maxX := len(exs[0].TextVec)
	xs := make([][]int, len(exs))
	for i, ex := range exs {
		xs[i] = padTo(ex.TextVec, maxX)
	}

	b := &batch{xs: xs, validInds: validInds}

	labelsAvail := false
	for _, ex := range exs {
		if len(ex.Labels) > 0 {
			labelsAvail = true
			break
		}
	}

	if labelsAvail {
		b.ysRaw = make([][]int, len(exs))
		maxY := 0
		for i, ex := range exs {
			// When several labels are acceptable, train against one chosen
			// uniformly at random.
			label := ""
			if n := len(ex.Labels); n > 0 {
				label = ex.Labels[a.rng.Intn(n)]
			}
			vec := a.dict.TxtToVec(label)
			if a.truncate > 0 && len(vec) > a.truncate {
				// Keep the trailing tokens under a length cap.
				vec = vec[len(vec)-a.truncate:]
			}
			b.ysRaw[i] = vec
			if len(vec) > maxY {
				maxY = len(vec)
			}
		}
		b.ys = make([][]int, len(exs))
		for i, vec := range b.ysRaw {
			b.ys[i] = padTo(vec, maxY)
		}
		return b
	}

	b.cands, b.candsTxt = a.buildCandidates(observations)
	return b
}

// buildCandidates tokenizes every observation's candidate list, fanning the
// per-observation work out across CPUs. Dictionary lookups are read-only
// here so concurrent vectorization is safe.
func (a *Agent) buildCandidates(observations []Observation) ([][][]int, [][]string) {
	cands := make([][][]int, len(observations))
	candsTxt := make([][]string, len(observations))

	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, obs := range observations {
		if len(obs.LabelCandidates) == 0 {
			continue
		}
		i := i
		texts := obs.LabelCandidates
		candsTxt[i] = texts
		g.Go(func() error {
			vecs := make([][]int, len(texts))
			for j, c := range texts {
				vecs[j] = a.dict.TxtToVec(c)
			}
			cands[i] = vecs
			return nil
		})
	}
	// Tokenization cannot fail; the group only bounds concurrency.
	_ = g.Wait()
	return cands, candsTxt
}

// padTo right-pads seq to length n. The null index is zero, so fresh slots
// already hold padding.
func padTo(seq []int, n int) []int {
	if len(seq) >= n {
		return append([]int(nil), seq...)
	}
	out := make([]int, n)
	copy(out, seq)
	return out
}
