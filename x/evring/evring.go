// Package evring is a fixed-capacity single-producer, single-consumer
// queue of values. The radio stack context pushes, the main loop pops.
package evring

import "sync/atomic"

// Ring is a single-producer, single-consumer value ring.
// Storage is allocated once in New and never grows.
type Ring[T any] struct {
	buf  []T
	mask uint32
	rd   atomic.Uint32 // consumer index (monotonic)
	wr   atomic.Uint32 // producer index (monotonic)

	dropped atomic.Uint32

	readable chan struct{} // 0->>0 available edge
}

// New returns a ring holding size values. size must be a power of two >= 2.
func New[T any](size int) *Ring[T] {
	if size < 2 || (size&(size-1)) != 0 {
		panic("evring: size must be power of two >= 2")
	}
	return &Ring[T]{
		buf:      make([]T, size),
		mask:     uint32(size - 1),
		readable: make(chan struct{}, 1),
	}
}

func (r *Ring[T]) size() uint32 { return uint32(len(r.buf)) }

// Cap is the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Len is the number of queued values.
func (r *Ring[T]) Len() int {
	rd := r.rd.Load()
	wr := r.wr.Load()
	return int(wr - rd)
}

// Dropped counts pushes rejected because the ring was full.
func (r *Ring[T]) Dropped() uint32 { return r.dropped.Load() }

// Push appends v. A full ring rejects the new value and returns false;
// queued values are never overwritten.
func (r *Ring[T]) Push(v T) bool {
	rd := r.rd.Load()
	wr := r.wr.Load()
	before := wr - rd
	if before >= r.size() {
		r.dropped.Add(1)
		return false
	}
	r.buf[wr&r.mask] = v
	r.wr.Store(wr + 1) // release

	if before == 0 {
		select {
		case r.readable <- struct{}{}:
		default:
		}
	}
	return true
}

// Pop removes the oldest value.
func (r *Ring[T]) Pop() (v T, ok bool) {
	rd := r.rd.Load()
	wr := r.wr.Load() // acquire
	if wr == rd {
		return v, false
	}
	idx := rd & r.mask
	v = r.buf[idx]
	var zero T
	r.buf[idx] = zero
	r.rd.Store(rd + 1) // release
	return v, true
}

// Readable fires on the empty to non-empty edge. Consumers must drain
// with Pop until it reports false before waiting again.
func (r *Ring[T]) Readable() <-chan struct{} { return r.readable }
