// Package ringbuf implements a small fixed-capacity circular buffer,
// adapted from catrate's ringBuffer: the same power-of-two mask indexing,
// simplified to fixed capacity with overwrite-oldest semantics since trace
// buffers (the only consumer in this kernel) never need to grow.
package ringbuf

import "golang.org/x/exp/constraints"

// Ring is a fixed-capacity circular buffer over an ordered element type.
// Pushing past capacity silently discards the oldest element.
type Ring[E constraints.Ordered] struct {
	s    []E
	r, w uint
}

// New returns a Ring with room for size elements. size must be a power of
// two (mirrors catrate's ringBuffer constructor).
func New[E constraints.Ordered](size int) *Ring[E] {
	if size <= 0 || size&(size-1) != 0 {
		panic("ringbuf: size must be a power of 2")
	}
	return &Ring[E]{s: make([]E, size)}
}

func (x *Ring[E]) mask(v uint) uint { return v & (uint(len(x.s)) - 1) }

// Len returns the number of elements currently stored.
func (x *Ring[E]) Len() int { return int(x.w - x.r) }

// Cap returns the ring's fixed capacity.
func (x *Ring[E]) Cap() int { return len(x.s) }

// Push appends v, evicting the oldest element if the ring is full.
func (x *Ring[E]) Push(v E) {
	if x.Len() == len(x.s) {
		x.r++
	}
	x.s[x.mask(x.w)] = v
	x.w++
}

// Get returns the i'th oldest element still retained (0 is the oldest).
func (x *Ring[E]) Get(i int) E {
	if i < 0 || i >= x.Len() {
		panic("ringbuf: get: index out of range")
	}
	return x.s[x.mask(x.r+uint(i))]
}

// Slice returns the retained elements, oldest first.
func (x *Ring[E]) Slice() []E {
	n := x.Len()
	out := make([]E, n)
	for i := 0; i < n; i++ {
		out[i] = x.Get(i)
	}
	return out
}
