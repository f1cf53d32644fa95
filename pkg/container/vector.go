package container

const minCapacity = 8

// Vector is a growable ring array. PushBack and PopFront are amortized O(1).
type Vector[T any] struct {
	buf  []T
	head int
	n    int
}

// NewVector returns a vector with room for capacity elements.
func NewVector[T any](capacity int) *Vector[T] {
	if capacity < minCapacity {
		capacity = minCapacity
	}
	return &Vector[T]{buf: make([]T, capacity)}
}

// Len returns the number of elements.
func (v *Vector[T]) Len() int {
	return v.n
}

// PushBack appends x.
func (v *Vector[T]) PushBack(x T) {
	if v.buf == nil {
		v.buf = make([]T, minCapacity)
	}
	if v.n == len(v.buf) {
		v.grow()
	}
	v.buf[(v.head+v.n)%len(v.buf)] = x
	v.n++
}

// PopFront removes and returns the first element.
func (v *Vector[T]) PopFront() (T, bool) {
	var zero T
	if v.n == 0 {
		return zero, false
	}
	x := v.buf[v.head]
	v.buf[v.head] = zero
	v.head = (v.head + 1) % len(v.buf)
	v.n--
	return x, true
}

// Front returns the first element without removing it.
func (v *Vector[T]) Front() (T, bool) {
	if v.n == 0 {
		var zero T
		return zero, false
	}
	return v.buf[v.head], true
}

// At returns the i-th element. It panics if i is out of range.
func (v *Vector[T]) At(i int) T {
	if i < 0 || i >= v.n {
		panic("container: index out of range")
	}
	return v.buf[(v.head+i)%len(v.buf)]
}

// Clear removes every element, keeping the allocation.
func (v *Vector[T]) Clear() {
	clear(v.buf)
	v.head = 0
	v.n = 0
}

func (v *Vector[T]) grow() {
	next := make([]T, len(v.buf)*2)
	for i := 0; i < v.n; i++ {
		next[i] = v.buf[(v.head+i)%len(v.buf)]
	}
	v.buf = next
	v.head = 0
}
