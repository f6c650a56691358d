// Package optim provides the stochastic optimizers used to train the
// embedding model.
//
// Optimizers operate on sparse per-row gradients: only the embedding rows a
// step touched are updated, and all running state (moments, accumulators,
// step counts) is kept per row. The available optimizers form a closed
// registry; everything but the learning rate runs with standard defaults.
package optim

import (
	"fmt"
	"sort"

	"github.com/soundprediction/starspace/pkg/model"
)

// Optimizer applies gradient updates to the parameter tables it was built
// over and can snapshot its running state for checkpoints.
type Optimizer interface {
	// Step applies one update. grads is aligned with the parameter tables
	// passed at construction.
	Step(grads []model.RowGrads)

	// Name returns the registry name.
	Name() string

	// Snapshot captures the running state for checkpointing.
	Snapshot() *State

	// Restore replaces the running state with a snapshot.
	Restore(s *State) error
}

// Factory builds an optimizer over params with the given learning rate.
type Factory func(params []*model.Tensor, lr float64) Optimizer

var registry = map[string]Factory{
	"adadelta": func(p []*model.Tensor, lr float64) Optimizer { return newAdadelta(p, lr) },
	"adagrad":  func(p []*model.Tensor, lr float64) Optimizer { return newAdagrad(p, lr) },
	"adam":     func(p []*model.Tensor, lr float64) Optimizer { return newAdam(p, lr) },
	"adamax":   func(p []*model.Tensor, lr float64) Optimizer { return newAdamax(p, lr) },
	"asgd":     func(p []*model.Tensor, lr float64) Optimizer { return newASGD(p, lr) },
	"lbfgs":    func(p []*model.Tensor, lr float64) Optimizer { return newLBFGS(p, lr) },
	"rmsprop":  func(p []*model.Tensor, lr float64) Optimizer { return newRMSprop(p, lr) },
	"rprop":    func(p []*model.Tensor, lr float64) Optimizer { return newRprop(p, lr) },
	"sgd":      func(p []*model.Tensor, lr float64) Optimizer { return newSGD(p, lr) },
}

// Names lists the registered optimizers in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the named optimizer over params. Unknown names are an error.
func New(name string, params []*model.Tensor, lr float64) (Optimizer, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown optimizer %q (choose one of %v)", name, Names())
	}
	return factory(params, lr), nil
}

// State is the serializable form of an optimizer, embedded in checkpoints.
type State struct {
	Name   string       `msgpack:"name"`
	LR     float64      `msgpack:"lr"`
	Params []ParamState `msgpack:"params"`
}

// ParamState holds the per-row state for one parameter table.
type ParamState struct {
	Rows map[int]RowState `msgpack:"rows,omitempty"`
}

// RowState is the running state kept for one embedding row.
type RowState struct {
	Step    int                  `msgpack:"step,omitempty"`
	Scalars map[string]float64   `msgpack:"scalars,omitempty"`
	Vectors map[string][]float32 `msgpack:"vectors,omitempty"`
}

// rowState is the in-memory form of RowState.
type rowState struct {
	step    int
	scalars map[string]float64
	vecs    map[string][]float32
}

// vec returns the named state vector, allocating it zeroed at size n on
// first use.
func (s *rowState) vec(name string, n int) []float32 {
	if s.vecs == nil {
		s.vecs = make(map[string][]float32)
	}
	v, ok := s.vecs[name]
	if !ok {
		v = make([]float32, n)
		s.vecs[name] = v
	}
	return v
}

// vecFilled is vec with a non-zero initial fill.
func (s *rowState) vecFilled(name string, n int, fill float32) []float32 {
	if s.vecs == nil {
		s.vecs = make(map[string][]float32)
	}
	v, ok := s.vecs[name]
	if !ok {
		v = make([]float32, n)
		for i := range v {
			v[i] = fill
		}
		s.vecs[name] = v
	}
	return v
}

func (s *rowState) scalar(name string, def float64) float64 {
	if v, ok := s.scalars[name]; ok {
		return v
	}
	return def
}

func (s *rowState) setScalar(name string, v float64) {
	if s.scalars == nil {
		s.scalars = make(map[string]float64)
	}
	s.scalars[name] = v
}

// base carries the bookkeeping shared by every optimizer: the parameter
// tables, the learning rate, and per-table maps of per-row state.
type base struct {
	name   string
	lr     float64
	params []*model.Tensor
	rows   []map[int]*rowState
}

func newBase(name string, params []*model.Tensor, lr float64) base {
	rows := make([]map[int]*rowState, len(params))
	for i := range rows {
		rows[i] = make(map[int]*rowState)
	}
	return base{name: name, lr: lr, params: params, rows: rows}
}

func (b *base) Name() string { return b.name }

// row returns the state for one embedding row, creating it on first touch.
func (b *base) row(param, ind int) *rowState {
	s, ok := b.rows[param][ind]
	if !ok {
		s = &rowState{}
		b.rows[param][ind] = s
	}
	return s
}

// Snapshot captures the per-row state. Vectors are deep-copied so later
// steps do not mutate the snapshot.
func (b *base) Snapshot() *State {
	s := &State{Name: b.name, LR: b.lr, Params: make([]ParamState, len(b.rows))}
	for pi, rows := range b.rows {
		if len(rows) == 0 {
			continue
		}
		out := make(map[int]RowState, len(rows))
		for ind, rs := range rows {
			cp := RowState{Step: rs.step}
			if len(rs.scalars) > 0 {
				cp.Scalars = make(map[string]float64, len(rs.scalars))
				for k, v := range rs.scalars {
					cp.Scalars[k] = v
				}
			}
			if len(rs.vecs) > 0 {
				cp.Vectors = make(map[string][]float32, len(rs.vecs))
				for k, v := range rs.vecs {
					cp.Vectors[k] = append([]float32(nil), v...)
				}
			}
			out[ind] = cp
		}
		s.Params[pi] = ParamState{Rows: out}
	}
	return s
}

// Restore replaces the running state with a snapshot taken from the same
// optimizer kind over the same parameter layout.
func (b *base) Restore(s *State) error {
	if s.Name != b.name {
		return fmt.Errorf("optimizer state is for %q, expected %q", s.Name, b.name)
	}
	if len(s.Params) > len(b.params) {
		return fmt.Errorf("optimizer state covers %d parameter tables, expected at most %d",
			len(s.Params), len(b.params))
	}
	if s.LR > 0 {
		b.lr = s.LR
	}
	rows := make([]map[int]*rowState, len(b.params))
	for i := range rows {
		rows[i] = make(map[int]*rowState)
	}
	for pi, ps := range s.Params {
		for ind, rs := range ps.Rows {
			cp := &rowState{step: rs.Step}
			if len(rs.Scalars) > 0 {
				cp.scalars = make(map[string]float64, len(rs.Scalars))
				for k, v := range rs.Scalars {
					cp.scalars[k] = v
				}
			}
			if len(rs.Vectors) > 0 {
				cp.vecs = make(map[string][]float32, len(rs.Vectors))
				for k, v := range rs.Vectors {
					cp.vecs[k] = append([]float32(nil), v...)
				}
			}
			rows[pi][ind] = cp
		}
	}
	b.rows = rows
	return nil
}

// eachRow iterates one step's gradients, pairing every touched row with its
// parameter slice.
func (b *base) eachRow(grads []model.RowGrads, fn func(param, ind int, p, g []float32)) {
	for pi, rows := range grads {
		if pi >= len(b.params) {
			return
		}
		tb := b.params[pi]
		for ind, g := range rows {
			if ind < 0 || ind >= tb.Rows {
				continue
			}
			fn(pi, ind, tb.Row(ind), g)
		}
	}
}
