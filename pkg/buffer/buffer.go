// Package buffer provides fixed-capacity rotating buffers of owned slots.
//
// Slots are never copied between goroutines. Ownership moves by rotating the
// role indices (current, in use, next) over a fixed array:
//   - DualBuffer: two slots owned by a single goroutine (render target + shown)
//   - Ring: N slots advanced in order by a single writer (audio chunk slots)
//   - TripleBuffer: lock-free single-producer/single-consumer handoff
package buffer

// DualBuffer holds two slots. Current is the completed slot, InUse the one
// being rendered into. Swap exchanges the two roles.
// A DualBuffer is owned by one goroutine and is not safe for concurrent use.
type DualBuffer[T any] struct {
	slots   [2]T
	current int
}

// NewDualBuffer creates a dual buffer from two initial slot values.
func NewDualBuffer[T any](a, b T) *DualBuffer[T] {
	return &DualBuffer[T]{slots: [2]T{a, b}}
}

// Current returns the most recently completed slot.
func (d *DualBuffer[T]) Current() *T {
	return &d.slots[d.current]
}

// InUse returns the slot currently being written.
func (d *DualBuffer[T]) InUse() *T {
	return &d.slots[1-d.current]
}

// Swap makes the in-use slot current and recycles the old current slot.
func (d *DualBuffer[T]) Swap() {
	d.current = 1 - d.current
}

// Slots returns pointers to both slots, for allocation and release.
func (d *DualBuffer[T]) Slots() []*T {
	return []*T{&d.slots[0], &d.slots[1]}
}

// Ring is a fixed-size rotating buffer advanced by a single writer.
// Next moves the current role to the following slot, wrapping around.
type Ring[T any] struct {
	slots []T
	index int
}

// NewRing creates a ring of n slots, each initialized by init.
func NewRing[T any](n int, init func(i int) T) *Ring[T] {
	if n < 1 {
		n = 1
	}
	r := &Ring[T]{slots: make([]T, n)}
	if init != nil {
		for i := range r.slots {
			r.slots[i] = init(i)
		}
	}
	return r
}

// Current returns the slot currently being written.
func (r *Ring[T]) Current() *T {
	return &r.slots[r.index]
}

// Next advances to the following slot and returns it.
func (r *Ring[T]) Next() *T {
	r.index = (r.index + 1) % len(r.slots)
	return &r.slots[r.index]
}

// Index returns the position of the current slot.
func (r *Ring[T]) Index() int {
	return r.index
}

// Len returns the number of slots.
func (r *Ring[T]) Len() int {
	return len(r.slots)
}

// Slots returns pointers to every slot, in storage order.
func (r *Ring[T]) Slots() []*T {
	out := make([]*T, len(r.slots))
	for i := range r.slots {
		out[i] = &r.slots[i]
	}
	return out
}
