package buffer

import "sync/atomic"

const (
	indexMask = 0x3
	freshBit  = 0x4
)

// TripleBuffer is a lock-free single-producer/single-consumer frame handoff.
//
// Three slots rotate between three roles: the producer's write slot, the
// shared middle slot and the consumer's read slot. The middle index and a
// "fresh" flag live in one atomic word; the write and read indices are owned
// by their goroutine. The middle slot is always isolated from both the slot
// being written and the slot being read, so neither side ever blocks and no
// slot is read and written at the same time.
//
// If the producer has not published since the consumer's last Swap, Swap
// reports false and Current keeps returning the same slot.
//
// The producer may keep reading the slot it published last (Latest): it is
// either the middle or the read slot, so it is not written again before the
// next Publish. Both sides then only read it.
type TripleBuffer[T any] struct {
	slots [3]T

	// middle index | freshBit
	state atomic.Uint32

	// producer-owned
	write     int
	published int
	// consumer-owned
	read int
}

// NewTripleBuffer creates a triple buffer with each slot initialized by init.
func NewTripleBuffer[T any](init func(i int) T) *TripleBuffer[T] {
	b := &TripleBuffer[T]{write: 0, published: 1, read: 2}
	if init != nil {
		for i := range b.slots {
			b.slots[i] = init(i)
		}
	}
	b.state.Store(1)
	return b
}

// WriteSlot returns the slot the producer may fill.
// Producer goroutine only.
func (b *TripleBuffer[T]) WriteSlot() *T {
	return &b.slots[b.write]
}

// Publish hands the filled write slot over as the latest frame and gives the
// producer the previous middle slot to write next. Producer goroutine only.
func (b *TripleBuffer[T]) Publish() {
	old := b.state.Swap(uint32(b.write) | freshBit)
	b.published = b.write
	b.write = int(old & indexMask)
}

// Latest returns the slot published last, or the initial middle slot before
// any Publish. The producer must treat it as read-only. Producer goroutine
// only.
func (b *TripleBuffer[T]) Latest() *T {
	return &b.slots[b.published]
}

// Swap moves the latest published slot to the consumer. It returns false,
// leaving Current unchanged, when nothing new was published.
// Consumer goroutine only.
func (b *TripleBuffer[T]) Swap() bool {
	if b.state.Load()&freshBit == 0 {
		return false
	}
	old := b.state.Swap(uint32(b.read))
	b.read = int(old & indexMask)
	return true
}

// Current returns the consumer's slot. Consumer goroutine only.
func (b *TripleBuffer[T]) Current() *T {
	return &b.slots[b.read]
}

// Fresh reports whether a published slot is waiting for the consumer.
func (b *TripleBuffer[T]) Fresh() bool {
	return b.state.Load()&freshBit != 0
}

// Slots returns pointers to every slot. Only call it while neither the
// producer nor the consumer is running (allocation and release).
func (b *TripleBuffer[T]) Slots() []*T {
	return []*T{&b.slots[0], &b.slots[1], &b.slots[2]}
}
