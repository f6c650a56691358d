package optim

import (
	"math"

	"github.com/soundprediction/starspace/pkg/model"
)

// sgd is plain stochastic gradient descent without momentum.
type sgd struct{ base }

func newSGD(params []*model.Tensor, lr float64) *sgd {
	return &sgd{newBase("sgd", params, lr)}
}

func (o *sgd) Step(grads []model.RowGrads) {
	lr := float32(o.lr)
	o.eachRow(grads, func(_, _ int, p, g []float32) {
		for i := range p {
			p[i] -= lr * g[i]
		}
	})
}

// adagrad accumulates squared gradients per element.
type adagrad struct{ base }

func newAdagrad(params []*model.Tensor, lr float64) *adagrad {
	return &adagrad{newBase("adagrad", params, lr)}
}

func (o *adagrad) Step(grads []model.RowGrads) {
	const eps = 1e-10
	o.eachRow(grads, func(pi, ind int, p, g []float32) {
		rs := o.row(pi, ind)
		rs.step++
		sum := rs.vec("sum", len(g))
		for i := range p {
			gi := float64(g[i])
			sum[i] += float32(gi * gi)
			p[i] -= float32(o.lr * gi / (math.Sqrt(float64(sum[i])) + eps))
		}
	})
}

// adadelta keeps running averages of squared gradients and squared updates.
type adadelta struct{ base }

func newAdadelta(params []*model.Tensor, lr float64) *adadelta {
	return &adadelta{newBase("adadelta", params, lr)}
}

func (o *adadelta) Step(grads []model.RowGrads) {
	const (
		rho = 0.9
		eps = 1e-6
	)
	o.eachRow(grads, func(pi, ind int, p, g []float32) {
		rs := o.row(pi, ind)
		rs.step++
		sq := rs.vec("square_avg", len(g))
		acc := rs.vec("acc_delta", len(g))
		for i := range p {
			gi := float64(g[i])
			sqi := rho*float64(sq[i]) + (1-rho)*gi*gi
			sq[i] = float32(sqi)
			delta := math.Sqrt((float64(acc[i])+eps)/(sqi+eps)) * gi
			p[i] -= float32(o.lr * delta)
			acc[i] = float32(rho*float64(acc[i]) + (1-rho)*delta*delta)
		}
	})
}

// adam keeps bias-corrected first and second moment estimates.
type adam struct{ base }

func newAdam(params []*model.Tensor, lr float64) *adam {
	return &adam{newBase("adam", params, lr)}
}

func (o *adam) Step(grads []model.RowGrads) {
	const (
		beta1 = 0.9
		beta2 = 0.999
		eps   = 1e-8
	)
	o.eachRow(grads, func(pi, ind int, p, g []float32) {
		rs := o.row(pi, ind)
		rs.step++
		m := rs.vec("exp_avg", len(g))
		v := rs.vec("exp_avg_sq", len(g))
		bias1 := 1 - math.Pow(beta1, float64(rs.step))
		bias2 := 1 - math.Pow(beta2, float64(rs.step))
		step := o.lr / bias1
		for i := range p {
			gi := float64(g[i])
			mi := beta1*float64(m[i]) + (1-beta1)*gi
			vi := beta2*float64(v[i]) + (1-beta2)*gi*gi
			m[i] = float32(mi)
			v[i] = float32(vi)
			denom := math.Sqrt(vi)/math.Sqrt(bias2) + eps
			p[i] -= float32(step * mi / denom)
		}
	})
}

// adamax is the infinity-norm variant of adam.
type adamax struct{ base }

func newAdamax(params []*model.Tensor, lr float64) *adamax {
	return &adamax{newBase("adamax", params, lr)}
}

func (o *adamax) Step(grads []model.RowGrads) {
	const (
		beta1 = 0.9
		beta2 = 0.999
		eps   = 1e-8
	)
	o.eachRow(grads, func(pi, ind int, p, g []float32) {
		rs := o.row(pi, ind)
		rs.step++
		m := rs.vec("exp_avg", len(g))
		u := rs.vec("exp_inf", len(g))
		step := o.lr / (1 - math.Pow(beta1, float64(rs.step)))
		for i := range p {
			gi := float64(g[i])
			mi := beta1*float64(m[i]) + (1-beta1)*gi
			m[i] = float32(mi)
			ui := beta2 * float64(u[i])
			if abs := math.Abs(gi) + eps; abs > ui {
				ui = abs
			}
			u[i] = float32(ui)
			p[i] -= float32(step * mi / ui)
		}
	})
}

// asgd is averaged stochastic gradient descent with decaying step size.
type asgd struct{ base }

func newASGD(params []*model.Tensor, lr float64) *asgd {
	return &asgd{newBase("asgd", params, lr)}
}

func (o *asgd) Step(grads []model.RowGrads) {
	const (
		lambd = 1e-4
		alpha = 0.75
		t0    = 1e6
	)
	o.eachRow(grads, func(pi, ind int, p, g []float32) {
		rs := o.row(pi, ind)
		rs.step++
		eta := rs.scalar("eta", o.lr)
		mu := rs.scalar("mu", 1)
		ax := rs.vec("ax", len(g))

		decay := float32(1 - lambd*eta)
		for i := range p {
			p[i] = p[i]*decay - float32(eta*float64(g[i]))
			if mu != 1 {
				ax[i] += float32(mu * float64(p[i]-ax[i]))
			} else {
				ax[i] = p[i]
			}
		}

		step := float64(rs.step)
		rs.setScalar("eta", o.lr/math.Pow(1+lambd*o.lr*step, alpha))
		rs.setScalar("mu", 1/math.Max(1, step-t0))
	})
}

// rmsprop divides by a running average of squared gradients.
type rmsprop struct{ base }

func newRMSprop(params []*model.Tensor, lr float64) *rmsprop {
	return &rmsprop{newBase("rmsprop", params, lr)}
}

func (o *rmsprop) Step(grads []model.RowGrads) {
	const (
		alpha = 0.99
		eps   = 1e-8
	)
	o.eachRow(grads, func(pi, ind int, p, g []float32) {
		rs := o.row(pi, ind)
		rs.step++
		sq := rs.vec("square_avg", len(g))
		for i := range p {
			gi := float64(g[i])
			sqi := alpha*float64(sq[i]) + (1-alpha)*gi*gi
			sq[i] = float32(sqi)
			p[i] -= float32(o.lr * gi / (math.Sqrt(sqi) + eps))
		}
	})
}

// rprop adapts a per-element step size from gradient sign agreement and
// ignores gradient magnitude.
type rprop struct{ base }

func newRprop(params []*model.Tensor, lr float64) *rprop {
	return &rprop{newBase("rprop", params, lr)}
}

func (o *rprop) Step(grads []model.RowGrads) {
	const (
		etaMinus = 0.5
		etaPlus  = 1.2
		stepMin  = 1e-6
		stepMax  = 50.0
	)
	o.eachRow(grads, func(pi, ind int, p, g []float32) {
		rs := o.row(pi, ind)
		rs.step++
		prev := rs.vec("prev", len(g))
		size := rs.vecFilled("step_size", len(g), float32(o.lr))
		for i := range p {
			gi := g[i]
			switch sign := gi * prev[i]; {
			case sign > 0:
				size[i] = float32(math.Min(float64(size[i])*etaPlus, stepMax))
			case sign < 0:
				size[i] = float32(math.Max(float64(size[i])*etaMinus, stepMin))
				gi = 0
			}
			switch {
			case gi > 0:
				p[i] -= size[i]
			case gi < 0:
				p[i] += size[i]
			}
			prev[i] = gi
		}
	})
}
