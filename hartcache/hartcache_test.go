package hartcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuarteringPolicyFormulas(t *testing.T) {
	var p QuarteringPolicy
	assert.Equal(t, 4, p.RefillAmount(16, 0))
	assert.Equal(t, 1, p.RefillAmount(2, 0))
	assert.Equal(t, 4, p.DrainAmount(16, 10))
	assert.Equal(t, 2, p.DrainAmount(16, 2))
	assert.Equal(t, 64, p.Grow(16))
	assert.Equal(t, 4, p.Shrink(16))
}

func TestGreedyPolicyFormulas(t *testing.T) {
	var p GreedyPolicy
	assert.Equal(t, 10, p.RefillAmount(10, 0))
	assert.Equal(t, 0, p.RefillAmount(10, 10))
	assert.Equal(t, 0, p.DrainAmount(10, 15))
	assert.Equal(t, 11, p.DrainAmount(10, 22))
}

func TestCachePushPopLIFO(t *testing.T) {
	c := New[int, QuarteringPolicy](16)
	c.Push(1)
	c.Push(2)
	c.Push(3)
	assert.Equal(t, 3, c.Len())

	v, ok := c.Pop()
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestCacheIsFull(t *testing.T) {
	c := New[int, QuarteringPolicy](4)
	for i := 0; i < 8; i++ {
		c.Push(i)
	}
	assert.True(t, c.IsFull())
}

func TestCacheDrain(t *testing.T) {
	c := New[int, GreedyPolicy](10)
	for i := 0; i < 22; i++ {
		c.Push(i)
	}
	var drained []int
	for v := range c.Drain() {
		drained = append(drained, v)
	}
	assert.Len(t, drained, 11)
	assert.Equal(t, 11, c.Len())
}

func TestCacheGrowShrink(t *testing.T) {
	c := New[int, QuarteringPolicy](16)
	c.Grow()
	assert.Equal(t, 64, c.Target())
	c.Shrink()
	assert.Equal(t, 16, c.Target())
}

func TestCachePopEmpty(t *testing.T) {
	c := New[int, QuarteringPolicy](4)
	_, ok := c.Pop()
	assert.False(t, ok)
}
