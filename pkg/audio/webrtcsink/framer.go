package webrtcsink

// framer cuts a mono 48 kHz sample stream into fixed-size codec frames and
// tracks the capture time of each frame's first sample.
type framer struct {
	size    int
	pending []int16
	startUs uint64 // capture time of pending[0]
}

func newFramer(size int) *framer {
	return &framer{size: size, pending: make([]int16, 0, size*4)}
}

// push appends samples captured starting at timestampUs. When the buffer is
// empty the timestamp re-anchors the stream, so gaps in the source are not
// smeared over later frames.
func (f *framer) push(samples []int16, timestampUs uint64) {
	if len(f.pending) == 0 {
		f.startUs = timestampUs
	}
	f.pending = append(f.pending, samples...)
}

// next returns the next complete frame and its capture time. The frame is
// only valid until the following call.
func (f *framer) next(frame []int16) (uint64, bool) {
	if len(f.pending) < f.size {
		return 0, false
	}
	ts := f.startUs
	copy(frame, f.pending[:f.size])
	n := copy(f.pending, f.pending[f.size:])
	f.pending = f.pending[:n]
	f.startUs += uint64(f.size) * 1_000_000 / sampleRate
	return ts, true
}

func (f *framer) reset() {
	f.pending = f.pending[:0]
	f.startUs = 0
}

// rtpTimestamp converts a capture time in µs to the 48 kHz RTP clock.
func rtpTimestamp(us uint64) uint32 {
	return uint32(us * sampleRate / 1_000_000)
}
