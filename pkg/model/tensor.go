package model

import (
	"math/rand"

	"github.com/soundprediction/starspace/pkg/utils"
)

// Tensor is a dense row-major 2D float32 matrix. Embedding tables and
// optimizer state buffers are all Tensors.
type Tensor struct {
	Rows int       `msgpack:"rows"`
	Cols int       `msgpack:"cols"`
	Data []float32 `msgpack:"data"`
}

// NewTensor allocates a zeroed rows x cols tensor.
func NewTensor(rows, cols int) *Tensor {
	return &Tensor{Rows: rows, Cols: cols, Data: make([]float32, rows*cols)}
}

// Row returns a mutable view of row i.
func (t *Tensor) Row(i int) []float32 {
	return t.Data[i*t.Cols : (i+1)*t.Cols]
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	c := NewTensor(t.Rows, t.Cols)
	copy(c.Data, t.Data)
	return c
}

// FillNormal initializes every element from a unit normal distribution,
// then zeroes the padding row so padded positions embed to nothing.
func (t *Tensor) FillNormal(rng *rand.Rand) {
	for i := range t.Data {
		t.Data[i] = float32(rng.NormFloat64())
	}
	if t.Rows > 0 {
		row := t.Row(0)
		for i := range row {
			row[i] = 0
		}
	}
}

// renormRow rescales row i in place when its L2 norm exceeds maxNorm.
func (t *Tensor) renormRow(i int, maxNorm float64) {
	row := t.Row(i)
	norm := utils.Magnitude(row)
	if norm <= maxNorm || norm == 0 {
		return
	}
	scale := float32(maxNorm / norm)
	for j := range row {
		row[j] *= scale
	}
}
