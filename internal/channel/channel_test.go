package channel

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain[T any](c Channel[T]) []T {
	var out []T
	for c.Len() > 0 {
		out = append(out, <-c.Receive())
	}
	return out
}

func TestBounded_DropNewest(t *testing.T) {
	c := NewBounded[int](2, DropNewest)

	assert.True(t, c.Offer(1))
	assert.True(t, c.Offer(2))
	assert.False(t, c.Offer(3))
	assert.Equal(t, uint64(1), c.Dropped())
	assert.Equal(t, []int{1, 2}, drain[int](c))

	assert.True(t, c.Offer(4))
	assert.Equal(t, []int{4}, drain[int](c))
}

func TestBounded_DropOldest(t *testing.T) {
	c := NewBounded[int](3, DropOldest)

	for i := 1; i <= 5; i++ {
		c.Offer(i)
	}
	assert.Equal(t, uint64(2), c.Dropped())
	assert.Equal(t, []int{3, 4, 5}, drain[int](c))
}

func TestBounded_MinimumSize(t *testing.T) {
	c := NewBounded[string](0, DropNewest)
	assert.Equal(t, 1, c.Cap())
	assert.True(t, c.Offer("a"))
	assert.False(t, c.Offer("b"))
}

func TestBounded_ConcurrentDropOldest(t *testing.T) {
	c := NewBounded[int](8, DropOldest)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.Offer(i)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, c.Len())
	assert.Equal(t, uint64(400-8), c.Dropped())
}

func TestClose(t *testing.T) {
	c := New[int](1, DropNewest)
	require.True(t, c.Offer(7))
	c.Close()

	v, ok := <-c.Receive()
	assert.True(t, ok)
	assert.Equal(t, 7, v)
	_, ok = <-c.Receive()
	assert.False(t, ok)
}

func TestPolicyString(t *testing.T) {
	assert.Equal(t, "drop_newest", DropNewest.String())
	assert.Equal(t, "drop_oldest", DropOldest.String())
	assert.Equal(t, "unknown", Policy(9).String())
}
