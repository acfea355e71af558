package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-steno/pkg/buffer"
	"github.com/teslashibe/go-steno/pkg/queue"
)

// ErrShortPacket is returned for a packet smaller than its header.
var ErrShortPacket = errors.New("audio: packet shorter than header")

// Assembler turns timestamped packets into fixed-size chunks.
//
// A chunk is stamped when its first byte is written: with the packet header
// timestamp when the packet starts the chunk, or with the header timestamp
// plus the duration of the bytes already consumed from that packet when the
// chunk begins mid-packet. Every filled chunk is published on a bounded
// queue; while the queue is full the assembler backs off and retries until
// the chunk is taken or ctx is done.
//
// Write is called from the ingestion goroutine only; TryRead from the
// consuming goroutine only.
type Assembler struct {
	format  Format
	ring    *buffer.Ring[Chunk]
	out     *queue.SPSC[*Chunk]
	offset  int
	backoff time.Duration

	assembled atomic.Uint64
	retries   atomic.Uint64
}

// NewAssembler creates an assembler producing chunks of chunkBytes bytes,
// queued up to bufferCount deep. backoff is the sleep between enqueue
// retries.
func NewAssembler(format Format, chunkBytes, bufferCount int, backoff time.Duration) (*Assembler, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if chunkBytes <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, chunkBytes)
	}
	if bufferCount <= 0 {
		return nil, fmt.Errorf("%w: buffer count must be positive, got %d", ErrInvalidConfig, bufferCount)
	}
	if backoff <= 0 {
		backoff = time.Millisecond
	}

	out := queue.NewSPSC[*Chunk](bufferCount)
	ring := buffer.NewRing(out.Cap()+SlackChunks, func(int) Chunk {
		return NewChunk(chunkBytes, format)
	})
	return &Assembler{
		format:  format,
		ring:    ring,
		out:     out,
		backoff: backoff,
	}, nil
}

// WritePacket splits a packet into its timestamp header and payload and
// assembles the payload.
func (a *Assembler) WritePacket(ctx context.Context, packet []byte) error {
	if len(packet) < PacketHeaderBytes {
		return fmt.Errorf("%w: %d bytes", ErrShortPacket, len(packet))
	}
	ts := binary.LittleEndian.Uint64(packet[:PacketHeaderBytes])
	return a.Write(ctx, ts, packet[PacketHeaderBytes:])
}

// Write assembles one packet payload captured at timestamp (µs). The payload
// may complete any number of chunks.
func (a *Assembler) Write(ctx context.Context, timestamp uint64, payload []byte) error {
	consumed := 0
	for {
		c := a.ring.Current()
		if a.offset == 0 {
			c.Timestamp = timestamp + a.format.Micros(consumed)
		}

		n := copy(c.Data[a.offset:c.Size], payload[consumed:])
		a.offset += n
		consumed += n
		if a.offset < c.Size {
			return nil
		}

		a.ring.Next()
		a.offset = 0
		if err := a.publish(ctx, c); err != nil {
			return err
		}
		if consumed == len(payload) {
			return nil
		}
	}
}

func (a *Assembler) publish(ctx context.Context, c *Chunk) error {
	for !a.out.TryEnqueue(c) {
		a.retries.Add(1)
		t := time.NewTimer(a.backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	a.assembled.Add(1)
	return nil
}

// Reset discards the partially filled chunk, e.g. after a disconnect.
func (a *Assembler) Reset() {
	a.offset = 0
}

// TryRead returns the oldest published chunk without blocking. The chunk
// stays valid until the assembler has cycled through its ring of slots.
func (a *Assembler) TryRead() (*Chunk, bool) {
	return a.out.TryDequeue()
}

// Pending returns the number of chunks waiting to be read.
func (a *Assembler) Pending() int {
	return a.out.Len()
}

// Slots returns the number of chunk slots in the ring.
func (a *Assembler) Slots() int {
	return a.ring.Len()
}

// Assembled returns the number of chunks published.
func (a *Assembler) Assembled() uint64 {
	return a.assembled.Load()
}

// Retries returns how many times publishing found the queue full.
func (a *Assembler) Retries() uint64 {
	return a.retries.Load()
}
