// Package model implements the joint embedding model for dialogue contexts
// and candidate responses.
//
// Contexts are encoded through a left embedding table and responses through a
// right table (optionally the same table), averaged into fixed-size vectors
// and compared by cosine similarity. Training uses a margin ranking loss over
// one positive and a set of sampled negatives, with sparse per-row gradients
// so only the token rows touched by a step are updated.
package model

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/soundprediction/starspace/pkg/dict"
	"github.com/soundprediction/starspace/pkg/utils"
)

// Options configures the embedding model.
type Options struct {
	// EmbeddingSize is the dimensionality of the shared vector space.
	EmbeddingSize int

	// MaxNorm caps the L2 norm of any embedding row; rows are rescaled in
	// place during lookup when they exceed it. Zero disables the cap.
	MaxNorm float64

	// ShareEmbeddings uses one table for both contexts and responses.
	ShareEmbeddings bool

	// TFIDF weights each token by inverse log frequency instead of a plain
	// average when encoding.
	TFIDF bool

	// Margin is the ranking-loss margin for negative pairs.
	Margin float64
}

// RowGrads holds sparse gradients for one embedding table, keyed by row.
type RowGrads map[int][]float32

// Grads carries one training step's gradients, aligned with Params().
type Grads struct {
	ByParam []RowGrads
}

// Merge folds other's row gradients into g. Both must come from the same
// model so their parameter layouts line up.
func (g *Grads) Merge(other *Grads) {
	for p, rows := range other.ByParam {
		dst := g.ByParam[p]
		for tok, grad := range rows {
			row, ok := dst[tok]
			if !ok {
				row = make([]float32, len(grad))
				dst[tok] = row
			}
			for j := range row {
				row[j] += grad[j]
			}
		}
	}
}

// Stepper consumes one step's gradients and updates the parameter tables it
// was built over. Implementations live in the optim package.
type Stepper interface {
	Step(grads []RowGrads)
}

// Model holds the embedding tables. A single Model is shared by every agent
// instance; forward passes read the tables without locking, and ApplyStep is
// the only synchronization point for updates.
type Model struct {
	opts  Options
	vocab int

	lhs *Tensor
	rhs *Tensor // == lhs when embeddings are shared

	tfidf []float32

	stepMu sync.Mutex
}

// New builds a model over the dictionary's vocabulary, initializing tables
// from rng. The dictionary must be finalized first; the vocabulary size is
// fixed for the model's lifetime.
func New(opts Options, d *dict.Dictionary, rng *rand.Rand) (*Model, error) {
	if opts.EmbeddingSize <= 0 {
		return nil, fmt.Errorf("embedding size must be positive, got %d", opts.EmbeddingSize)
	}
	if d.Len() < 2 {
		return nil, fmt.Errorf("vocabulary too small: %d tokens", d.Len())
	}
	m := &Model{opts: opts, vocab: d.Len()}
	m.lhs = NewTensor(m.vocab, opts.EmbeddingSize)
	m.lhs.FillNormal(rng)
	if opts.ShareEmbeddings {
		m.rhs = m.lhs
	} else {
		m.rhs = NewTensor(m.vocab, opts.EmbeddingSize)
		m.rhs.FillNormal(rng)
	}
	if opts.TFIDF {
		m.tfidf = make([]float32, m.vocab)
		for i := 0; i < m.vocab; i++ {
			m.tfidf[i] = float32(1.0 / (1.0 + math.Log(1.0+float64(d.FreqByIndex(i)))))
		}
	}
	return m, nil
}

// Opts returns the options the model was built with.
func (m *Model) Opts() Options { return m.opts }

// VocabSize returns the number of embedding rows per table.
func (m *Model) VocabSize() int { return m.vocab }

// Params returns the parameter tables in a fixed order for optimizers.
func (m *Model) Params() []*Tensor {
	if m.opts.ShareEmbeddings {
		return []*Tensor{m.lhs}
	}
	return []*Tensor{m.lhs, m.rhs}
}

// EmbedContext encodes a context token sequence with the left table.
func (m *Model) EmbedContext(seq []int) []float32 {
	vec, _ := m.encode(seq, m.lhs)
	return vec
}

// EmbedTarget encodes a response token sequence with the right table.
func (m *Model) EmbedTarget(seq []int) []float32 {
	vec, _ := m.encode(seq, m.rhs)
	return vec
}

// encode averages the table rows of seq into one vector, returning the
// per-position coefficients used so backward can reuse them. Padding rows
// are zero so padded positions contribute nothing to the sum, though they
// still count toward the averaging denominator.
func (m *Model) encode(seq []int, tb *Tensor) ([]float32, []float32) {
	vec := make([]float32, m.opts.EmbeddingSize)
	if len(seq) == 0 {
		return vec, nil
	}
	if m.opts.MaxNorm > 0 {
		for _, tok := range seq {
			if tok > dict.NullIndex && tok < m.vocab {
				tb.renormRow(tok, m.opts.MaxNorm)
			}
		}
	}

	coeffs := make([]float32, len(seq))
	if m.tfidf != nil {
		var norm float64
		for i, tok := range seq {
			w := float32(0)
			if tok >= 0 && tok < m.vocab {
				w = m.tfidf[tok]
			}
			coeffs[i] = w
			norm += float64(w) * float64(w)
		}
		if norm > 0 {
			scale := float32(1 / math.Sqrt(norm))
			for i := range coeffs {
				coeffs[i] *= scale
			}
		}
	} else {
		inv := 1 / float32(len(seq))
		for i := range coeffs {
			coeffs[i] = inv
		}
	}

	for i, tok := range seq {
		if tok <= dict.NullIndex || tok >= m.vocab {
			continue
		}
		row := tb.Row(tok)
		c := coeffs[i]
		for j := range vec {
			vec[j] += c * row[j]
		}
	}
	return vec, coeffs
}

// Forward scores a context against each target by cosine similarity.
func (m *Model) Forward(ctx []int, targets [][]int) []float32 {
	xe, _ := m.encode(ctx, m.lhs)
	scores := make([]float32, len(targets))
	for i, tgt := range targets {
		ye, _ := m.encode(tgt, m.rhs)
		scores[i] = utils.CosineSimilarity32(xe, ye)
	}
	return scores
}

// ForwardBackward embeds the context and every target, computes the summed
// cosine embedding loss under the given target signs (+1 positive, -1
// negative), and returns the loss, the per-target cosine scores, and sparse
// gradients for ApplyStep. len(signs) must equal len(targets).
func (m *Model) ForwardBackward(ctx []int, targets [][]int, signs []float32) (float64, []float32, *Grads, error) {
	if len(signs) != len(targets) {
		return 0, nil, nil, fmt.Errorf("got %d signs for %d targets", len(signs), len(targets))
	}

	xe, xCoeffs := m.encode(ctx, m.lhs)
	nx := utils.Magnitude(xe)

	lhsGrads := RowGrads{}
	rhsGrads := lhsGrads
	if !m.opts.ShareEmbeddings {
		rhsGrads = RowGrads{}
	}

	gradX := make([]float32, len(xe))
	scores := make([]float32, len(targets))
	var loss float64

	for j, tgt := range targets {
		ye, yCoeffs := m.encode(tgt, m.rhs)
		ny := utils.Magnitude(ye)

		var cos float64
		if nx > 0 && ny > 0 {
			cos = utils.DotProduct(xe, ye) / (nx * ny)
		}
		scores[j] = float32(cos)

		// dL/dcos under the cosine embedding loss.
		var dldc float64
		if signs[j] > 0 {
			loss += 1 - cos
			dldc = -1
		} else if cos > m.opts.Margin {
			loss += cos - m.opts.Margin
			dldc = 1
		}
		if dldc == 0 || nx == 0 || ny == 0 {
			continue
		}

		gradY := make([]float32, len(ye))
		for i := range xe {
			x := float64(xe[i])
			y := float64(ye[i])
			gradX[i] += float32(dldc * (y/(nx*ny) - cos*x/(nx*nx)))
			gradY[i] = float32(dldc * (x/(nx*ny) - cos*y/(ny*ny)))
		}
		accumulate(rhsGrads, tgt, yCoeffs, gradY, m.vocab)
	}

	accumulate(lhsGrads, ctx, xCoeffs, gradX, m.vocab)

	g := &Grads{ByParam: []RowGrads{lhsGrads}}
	if !m.opts.ShareEmbeddings {
		g.ByParam = append(g.ByParam, rhsGrads)
	}
	return loss, scores, g, nil
}

// accumulate backpropagates a vector gradient through the averaged lookup,
// adding coeff-scaled copies to each touched row. The padding row stays
// frozen.
func accumulate(g RowGrads, seq []int, coeffs []float32, grad []float32, vocab int) {
	for i, tok := range seq {
		if tok <= dict.NullIndex || tok >= vocab {
			continue
		}
		row, ok := g[tok]
		if !ok {
			row = make([]float32, len(grad))
			g[tok] = row
		}
		c := coeffs[i]
		for j := range row {
			row[j] += c * grad[j]
		}
	}
}

// ApplyStep runs one optimizer update under the model's step lock. This is
// the only synchronization point between agent instances sharing the model;
// forward passes read the tables without locking.
func (m *Model) ApplyStep(opt Stepper, g *Grads) {
	m.stepMu.Lock()
	defer m.stepMu.Unlock()
	opt.Step(g.ByParam)
}

// Neighbor is one nearest-neighbor hit in embedding space.
type Neighbor struct {
	Index int
	Score float64
}

// Neighbors returns the k vocabulary rows closest to row ind by cosine
// similarity, using the right table when useRHS is set.
func (m *Model) Neighbors(ind, k int, useRHS bool) []Neighbor {
	if ind < 0 || ind >= m.vocab || k <= 0 {
		return nil
	}
	tb := m.lhs
	if useRHS {
		tb = m.rhs
	}
	q := tb.Row(ind)
	scores := make([]float64, m.vocab)
	for i := 0; i < m.vocab; i++ {
		scores[i] = utils.CosineSimilarity(q, tb.Row(i))
	}
	hits := make([]Neighbor, 0, k)
	for _, i := range utils.TopKIndicesByScore(scores, k) {
		hits = append(hits, Neighbor{Index: i, Score: scores[i]})
	}
	return hits
}
