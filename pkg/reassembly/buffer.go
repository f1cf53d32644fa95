package reassembly

import (
	"fmt"

	"github.com/jdziat/accelrt/pkg/core"
)

// Buffer is a fixed-capacity byte arena. Writes that would cross the
// capacity are refused whole.
type Buffer struct {
	data []byte
	size int
}

// NewBuffer allocates a buffer of capacity bytes.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// Cap returns the capacity.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Len returns the high-water mark of written bytes.
func (b *Buffer) Len() int {
	return b.size
}

// WriteAt copies p at off. Nothing is written on error.
func (b *Buffer) WriteAt(p []byte, off int) (int, error) {
	if off < 0 || off > len(b.data) || len(p) > len(b.data)-off {
		return 0, fmt.Errorf("%w: write of %d bytes at %d exceeds capacity %d",
			core.ErrReassemblyCorruption, len(p), off, len(b.data))
	}
	n := copy(b.data[off:], p)
	b.size = max(b.size, off+n)
	return n, nil
}

// Bytes returns the first n bytes.
func (b *Buffer) Bytes(n int) []byte {
	return b.data[:min(n, len(b.data))]
}
