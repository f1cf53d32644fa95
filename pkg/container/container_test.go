package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVector_FIFO(t *testing.T) {
	v := NewVector[int](0)
	for i := range 100 {
		v.PushBack(i)
	}
	require.Equal(t, 100, v.Len())
	assert.Equal(t, 42, v.At(42))

	for i := range 60 {
		x, ok := v.PopFront()
		require.True(t, ok)
		assert.Equal(t, i, x)
	}

	// wrap around the ring before growing again
	for i := 100; i < 200; i++ {
		v.PushBack(i)
	}
	front, ok := v.Front()
	require.True(t, ok)
	assert.Equal(t, 60, front)
	assert.Equal(t, 140, v.Len())
	assert.Equal(t, 199, v.At(v.Len()-1))
}

func TestVector_Empty(t *testing.T) {
	var v Vector[string]
	_, ok := v.PopFront()
	assert.False(t, ok)
	_, ok = v.Front()
	assert.False(t, ok)

	v.PushBack("a")
	v.Clear()
	assert.Equal(t, 0, v.Len())
	assert.Panics(t, func() { v.At(0) })
}

func TestSortedArray(t *testing.T) {
	a := NewSortedArray[uint64, string]()
	assert.True(t, a.Set(30, "c"))
	assert.True(t, a.Set(10, "a"))
	assert.True(t, a.Set(20, "b"))
	assert.False(t, a.Set(20, "B"))
	require.Equal(t, 3, a.Len())

	v, ok := a.Get(20)
	require.True(t, ok)
	assert.Equal(t, "B", v)

	var keys []uint64
	a.Ascend(func(k uint64, _ string) bool {
		keys = append(keys, k)
		return true
	})
	assert.Equal(t, []uint64{10, 20, 30}, keys)

	v, ok = a.Delete(10)
	assert.True(t, ok)
	assert.Equal(t, "a", v)
	_, ok = a.Delete(10)
	assert.False(t, ok)
	_, ok = a.Get(15)
	assert.False(t, ok)
}

func TestSortedArray_AscendStops(t *testing.T) {
	a := NewSortedArray[int, int]()
	for i := range 10 {
		a.Set(i, i*i)
	}
	seen := 0
	a.Ascend(func(k, _ int) bool {
		seen++
		return k < 3
	})
	assert.Equal(t, 4, seen)
}

func TestSortedArray_DeleteClearsTail(t *testing.T) {
	a := NewSortedArray[int, *string]()
	for i := range 3 {
		s := string(rune('a' + i))
		a.Set(i, &s)
	}

	_, ok := a.Delete(0)
	require.True(t, ok)
	require.Equal(t, 2, a.Len())

	tail := a.items[:3][2]
	assert.Nil(t, tail.val, "removed slot no longer references a value")
	assert.Zero(t, tail.key)
}
