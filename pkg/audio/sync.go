package audio

// Synchronizer pairs output video frames with audio chunks.
//
// The video clock starts at the first chunk's timestamp and advances one
// frame period per Frame call. A chunk is released with the first frame
// whose window ends after the chunk's timestamp. When chunks pile up faster
// than frames consume them, the oldest are dropped and the clock is moved
// to the oldest chunk kept.
//
// A Synchronizer is owned by the render goroutine.
type Synchronizer struct {
	frameUs    uint64
	maxPending int

	pending  []*Chunk
	released []*Chunk
	clock    uint64
	started  bool

	dropped uint64
	resyncs uint64
}

// DefaultMaxPending is the number of chunks held before dropping.
const DefaultMaxPending = 4

// NewSynchronizer creates a synchronizer for a frame period of frameUs.
// maxPending must stay below SlackChunks so a held chunk is never
// overwritten by the assembler.
func NewSynchronizer(frameUs uint64, maxPending int) *Synchronizer {
	if maxPending <= 0 || maxPending >= SlackChunks {
		maxPending = DefaultMaxPending
	}
	if frameUs == 0 {
		frameUs = 1
	}
	return &Synchronizer{
		frameUs:    frameUs,
		maxPending: maxPending,
		pending:    make([]*Chunk, 0, maxPending+1),
		released:   make([]*Chunk, 0, maxPending+1),
	}
}

// Push queues a chunk read from the source.
func (s *Synchronizer) Push(c *Chunk) {
	if !s.started {
		s.clock = c.Timestamp
		s.started = true
	}
	s.pending = append(s.pending, c)
	if len(s.pending) > s.maxPending {
		drop := len(s.pending) - s.maxPending
		s.dropped += uint64(drop)
		n := copy(s.pending, s.pending[drop:])
		clear(s.pending[n:])
		s.pending = s.pending[:n]
		s.clock = s.pending[0].Timestamp
		s.resyncs++
	}
}

// Frame advances the video clock by one frame and returns the chunks that
// belong to it, oldest first. The returned slice is reused by the next call.
func (s *Synchronizer) Frame() []*Chunk {
	clear(s.released)
	s.released = s.released[:0]
	if !s.started {
		return s.released
	}

	end := s.clock + s.frameUs
	n := 0
	for n < len(s.pending) && s.pending[n].Timestamp < end {
		s.released = append(s.released, s.pending[n])
		n++
	}
	k := copy(s.pending, s.pending[n:])
	clear(s.pending[k:])
	s.pending = s.pending[:k]
	s.clock = end
	return s.released
}

// Clock returns the start of the next frame window in µs.
func (s *Synchronizer) Clock() uint64 {
	return s.clock
}

// Pending returns the number of chunks waiting for a frame.
func (s *Synchronizer) Pending() int {
	return len(s.pending)
}

// Dropped returns the number of chunks dropped to catch up.
func (s *Synchronizer) Dropped() uint64 {
	return s.dropped
}

// Resyncs returns the number of times the clock jumped to catch up.
func (s *Synchronizer) Resyncs() uint64 {
	return s.resyncs
}

// Reset forgets every pending chunk and the clock.
func (s *Synchronizer) Reset() {
	clear(s.pending)
	s.pending = s.pending[:0]
	clear(s.released)
	s.released = s.released[:0]
	s.started = false
	s.clock = 0
}
