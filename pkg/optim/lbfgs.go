package optim

import (
	"fmt"

	"github.com/soundprediction/starspace/pkg/model"
)

// lbfgsHistory is the number of curvature pairs kept per row.
const lbfgsHistory = 10

// lbfgs is a limited-memory BFGS variant adapted to sparse row updates:
// each embedding row keeps its own curvature history and takes one
// fixed-length quasi-Newton step per gradient, without line search.
type lbfgs struct{ base }

func newLBFGS(params []*model.Tensor, lr float64) *lbfgs {
	return &lbfgs{newBase("lbfgs", params, lr)}
}

func (o *lbfgs) Step(grads []model.RowGrads) {
	o.eachRow(grads, func(pi, ind int, p, g []float32) {
		rs := o.row(pi, ind)

		// Fold the previous step's displacement and gradient change into
		// the curvature history when the pair is usable.
		if rs.step > 0 {
			prevGrad := rs.vec("prev_grad", len(g))
			prevDelta := rs.vec("prev_delta", len(g))
			y := make([]float32, len(g))
			for i := range y {
				y[i] = g[i] - prevGrad[i]
			}
			if dot32(prevDelta, y) > 1e-10 {
				o.pushPair(rs, prevDelta, y)
			}
		}
		rs.step++

		dir := o.direction(rs, g)

		delta := rs.vec("prev_delta", len(g))
		lr := float32(o.lr)
		for i := range p {
			delta[i] = -lr * dir[i]
			p[i] += delta[i]
		}
		copy(rs.vec("prev_grad", len(g)), g)
	})
}

// direction runs the two-loop recursion over the row's stored pairs,
// returning the ascent direction H*g.
func (o *lbfgs) direction(rs *rowState, g []float32) []float32 {
	hist := int(rs.scalar("hist", 0))
	q := append([]float32(nil), g...)
	if hist == 0 {
		return q
	}

	alphas := make([]float64, hist)
	rhos := make([]float64, hist)
	for i := hist - 1; i >= 0; i-- {
		s := rs.vec(fmt.Sprintf("s%d", i), len(g))
		y := rs.vec(fmt.Sprintf("y%d", i), len(g))
		rhos[i] = 1 / dot32(s, y)
		alphas[i] = rhos[i] * dot32(s, q)
		for j := range q {
			q[j] -= float32(alphas[i]) * y[j]
		}
	}

	sLast := rs.vec(fmt.Sprintf("s%d", hist-1), len(g))
	yLast := rs.vec(fmt.Sprintf("y%d", hist-1), len(g))
	gamma := dot32(sLast, yLast) / dot32(yLast, yLast)
	for j := range q {
		q[j] = float32(gamma * float64(q[j]))
	}

	for i := 0; i < hist; i++ {
		s := rs.vec(fmt.Sprintf("s%d", i), len(g))
		y := rs.vec(fmt.Sprintf("y%d", i), len(g))
		beta := rhos[i] * dot32(y, q)
		for j := range q {
			q[j] += float32(alphas[i]-beta) * s[j]
		}
	}
	return q
}

// pushPair appends a curvature pair, discarding the oldest beyond the
// history limit.
func (o *lbfgs) pushPair(rs *rowState, s, y []float32) {
	hist := int(rs.scalar("hist", 0))
	if hist == lbfgsHistory {
		for i := 1; i < hist; i++ {
			copy(rs.vec(fmt.Sprintf("s%d", i-1), len(s)), rs.vec(fmt.Sprintf("s%d", i), len(s)))
			copy(rs.vec(fmt.Sprintf("y%d", i-1), len(y)), rs.vec(fmt.Sprintf("y%d", i), len(y)))
		}
		hist--
	}
	copy(rs.vec(fmt.Sprintf("s%d", hist), len(s)), s)
	copy(rs.vec(fmt.Sprintf("y%d", hist), len(y)), y)
	rs.setScalar("hist", float64(hist+1))
}

func dot32(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
