package starspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/starspace/pkg/config"
)

func TestVectorizeFiltersAndSorts(t *testing.T) {
	a := newTestAgent(t, nil)

	t.Run("nil when nothing is usable", func(t *testing.T) {
		assert.Nil(t, a.vectorize(nil))
		assert.Nil(t, a.vectorize([]Observation{{}, {Text: "unvectorized"}}))
	})

	t.Run("drops empty contexts and keeps positions", func(t *testing.T) {
		b := a.vectorize([]Observation{
			{TextVec: []int{5, 6}},
			{},
			{TextVec: []int{7, 8, 9}},
		})
		require.NotNil(t, b)
		require.Len(t, b.xs, 2)
		// Longest first, each row mapped back to its batch position.
		assert.Equal(t, []int{2, 0}, b.validInds)
		assert.Equal(t, []int{7, 8, 9}, b.xs[0])
		assert.Equal(t, []int{5, 6, 0}, b.xs[1])
	})

	t.Run("equal lengths keep arrival order", func(t *testing.T) {
		b := a.vectorize([]Observation{
			{TextVec: []int{2, 3}},
			{TextVec: []int{4, 5, 6}},
			{TextVec: []int{7, 8, 9}},
		})
		require.NotNil(t, b)
		assert.Equal(t, []int{1, 2, 0}, b.validInds)
	})

	t.Run("rows are padded to one length", func(t *testing.T) {
		b := a.vectorize([]Observation{
			{TextVec: []int{2}},
			{TextVec: []int{3, 4, 5, 6}},
		})
		require.NotNil(t, b)
		for _, row := range b.xs {
			assert.Len(t, row, 4)
		}
		assert.Equal(t, []int{2, 0, 0, 0}, b.xs[1])
	})
}

func TestVectorizeTargets(t *testing.T) {
	a := newTestAgent(t, nil)

	t.Run("labels become padded target rows", func(t *testing.T) {
		b := a.vectorize([]Observation{
			{TextVec: []int{2, 3}, Labels: []string{"hi friend"}},
			{TextVec: []int{4, 5, 6}, Labels: []string{"pizza is good"}},
		})
		require.NotNil(t, b)
		require.Len(t, b.ys, 2)
		require.Len(t, b.ysRaw, 2)

		maxY := 0
		for _, raw := range b.ysRaw {
			assert.NotEmpty(t, raw)
			if len(raw) > maxY {
				maxY = len(raw)
			}
		}
		for i, row := range b.ys {
			assert.Len(t, row, maxY)
			assert.Equal(t, b.ysRaw[i], row[:len(b.ysRaw[i])], "padding is on the right")
		}
	})

	t.Run("chosen label comes from the offered set", func(t *testing.T) {
		labels := []string{"hi friend", "see you tomorrow", "pizza is good"}
		want := map[string]bool{}
		for _, l := range labels {
			want[a.dict.VecToTxt(a.dict.TxtToVec(l))] = true
		}
		for trial := 0; trial < 20; trial++ {
			b := a.vectorize([]Observation{{TextVec: []int{2}, Labels: labels}})
			require.NotNil(t, b)
			assert.True(t, want[a.dict.VecToTxt(b.ysRaw[0])])
		}
	})

	t.Run("label-less rows in a labeled batch train against empty targets", func(t *testing.T) {
		b := a.vectorize([]Observation{
			{TextVec: []int{2, 3}, Labels: []string{"hi friend"}},
			{TextVec: []int{4, 5}},
		})
		require.NotNil(t, b)
		require.Len(t, b.ysRaw, 2)

		empties := 0
		for _, raw := range b.ysRaw {
			if len(raw) == 0 {
				empties++
			}
		}
		assert.Equal(t, 1, empties)
	})

	t.Run("truncation keeps the trailing tokens", func(t *testing.T) {
		trunc := newTestAgent(t, func(cfg *config.Config) {
			cfg.Training.Truncate = 2
		})
		full := trunc.dict.TxtToVec("the weather is nice today")
		require.Greater(t, len(full), 2)

		b := trunc.vectorize([]Observation{
			{TextVec: []int{2}, Labels: []string{"the weather is nice today"}},
		})
		require.NotNil(t, b)
		assert.Equal(t, full[len(full)-2:], b.ysRaw[0])
	})
}

func TestVectorizeCandidates(t *testing.T) {
	a := newTestAgent(t, nil)

	b := a.vectorize([]Observation{
		{TextVec: []int{2, 3}, LabelCandidates: []string{"hi friend", "pizza is good"}},
		{TextVec: []int{4}},
	})
	require.NotNil(t, b)
	assert.Nil(t, b.ys, "no labels means no training targets")

	require.Len(t, b.cands, 2)
	require.Len(t, b.cands[0], 2)
	assert.Equal(t, a.dict.TxtToVec("hi friend"), b.cands[0][0])
	assert.Equal(t, []string{"hi friend", "pizza is good"}, b.candsTxt[0])
	assert.Nil(t, b.cands[1])
}

func TestPadTo(t *testing.T) {
	assert.Equal(t, []int{1, 2, 0, 0}, padTo([]int{1, 2}, 4))
	assert.Equal(t, []int{1, 2}, padTo([]int{1, 2}, 2))
	assert.Equal(t, []int{1, 2}, padTo([]int{1, 2}, 1), "never truncates")

	src := []int{3, 4}
	out := padTo(src, 2)
	out[0] = 9
	assert.Equal(t, []int{3, 4}, src, "always returns a copy")
}
