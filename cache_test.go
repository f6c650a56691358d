package starspace

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegCacheAdd(t *testing.T) {
	c := newNegCache(3, rand.New(rand.NewSource(1)))

	t.Run("grows until capacity", func(t *testing.T) {
		c.add([]int{2, 3})
		assert.Equal(t, 1, c.size())
		c.add([]int{4, 5})
		assert.Equal(t, 2, c.size())
		c.add([]int{6, 7})
		assert.Equal(t, 3, c.size())
	})

	t.Run("overwrites at capacity", func(t *testing.T) {
		c.add([]int{8, 9})
		assert.Equal(t, 3, c.size())

		found := false
		surviving := 0
		for _, e := range c.entries {
			if sameSequence(e, []int{8, 9}) {
				found = true
			}
			for _, old := range [][]int{{2, 3}, {4, 5}, {6, 7}} {
				if sameSequence(e, old) {
					surviving++
				}
			}
		}
		assert.True(t, found, "newest target should displace an existing slot")
		assert.Equal(t, 2, surviving, "exactly one prior target should be displaced")
	})

	t.Run("ignores empty targets", func(t *testing.T) {
		before := c.size()
		c.add(nil)
		c.add([]int{})
		assert.Equal(t, before, c.size())
	})

	t.Run("copies the target", func(t *testing.T) {
		src := []int{11, 12}
		c.add(src)
		src[0] = 99
		for _, e := range c.entries {
			assert.False(t, sameSequence(e, []int{99, 12}))
		}
	})
}

func TestNegCacheSample(t *testing.T) {
	rng := rand.New(rand.NewSource(2))

	t.Run("empty and single-entry caches yield nothing", func(t *testing.T) {
		c := newNegCache(10, rng)
		assert.Nil(t, c.sample([]int{1}, 5))
		c.add([]int{2, 3})
		assert.Nil(t, c.sample([]int{1}, 5))
	})

	t.Run("never returns the truth", func(t *testing.T) {
		c := newNegCache(10, rand.New(rand.NewSource(3)))
		truth := []int{2, 3}
		c.add(truth)
		c.add([]int{4, 5})
		c.add([]int{6, 7, 8})

		for trial := 0; trial < 50; trial++ {
			for _, neg := range c.sample(truth, 4) {
				assert.False(t, sameSequence(neg, truth))
			}
		}
	})

	t.Run("returns exactly k when enough entries differ", func(t *testing.T) {
		c := newNegCache(100, rand.New(rand.NewSource(4)))
		truth := []int{1}
		c.add(truth)
		for i := 2; i < 30; i++ {
			c.add([]int{i, i + 1})
		}
		negs := c.sample(truth, 10)
		require.Len(t, negs, 10)
	})

	t.Run("non-positive k yields nothing", func(t *testing.T) {
		c := newNegCache(10, rand.New(rand.NewSource(5)))
		c.add([]int{1, 2})
		c.add([]int{3, 4})
		assert.Nil(t, c.sample([]int{9}, 0))
		assert.Nil(t, c.sample([]int{9}, -1))
	})
}

func TestSameSequence(t *testing.T) {
	assert.True(t, sameSequence([]int{1, 2, 3}, []int{1, 2, 3}))
	assert.True(t, sameSequence(nil, nil))
	assert.False(t, sameSequence([]int{1, 2}, []int{1, 2, 3}), "length mismatch is never the same")
	assert.False(t, sameSequence([]int{1, 2, 3}, []int{1, 2, 4}))
	assert.False(t, sameSequence([]int{1, 2, 3}, []int{3, 2, 1}), "order matters through the element diff")
}
