package audio

import "time"

// Chunk is a fixed-duration block of raw audio. Data is allocated once per
// ring slot and rewritten in place.
type Chunk struct {
	Data   []byte
	Size   int
	Format Format

	// Timestamp is the capture time of the first sample in microseconds. It
	// is set exactly once per fill, when the first byte is written.
	Timestamp uint64
}

// NewChunk allocates a chunk of size bytes.
func NewChunk(size int, format Format) Chunk {
	return Chunk{
		Data:   make([]byte, size),
		Size:   size,
		Format: format,
	}
}

// Bytes returns the chunk payload.
func (c *Chunk) Bytes() []byte {
	return c.Data[:c.Size]
}

// Samples returns the number of samples per channel in the chunk.
func (c *Chunk) Samples() int {
	return c.Format.Samples(c.Size)
}

// Duration returns the duration of the chunk.
func (c *Chunk) Duration() time.Duration {
	if c.Format.SampleRate == 0 {
		return 0
	}
	return time.Duration(c.Samples()) * time.Second / time.Duration(c.Format.SampleRate)
}

// Clone returns a deep copy, for consumers that keep audio past the frame
// it was delivered with.
func (c *Chunk) Clone() Chunk {
	out := *c
	out.Data = append([]byte(nil), c.Bytes()...)
	return out
}
