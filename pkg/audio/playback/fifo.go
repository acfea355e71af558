package playback

import "sync"

// fifo is a byte queue between Write and the device callback. When full, the
// oldest bytes are dropped so the callback never waits.
type fifo struct {
	mu   sync.Mutex
	buf  []byte
	head int // next write position
	len  int // valid bytes

	dropped int64
}

func newFIFO(capacity int) *fifo {
	if capacity < 1 {
		capacity = 1
	}
	return &fifo{buf: make([]byte, capacity)}
}

// write appends p, dropping the oldest bytes on overflow. It returns the
// number of bytes dropped.
func (f *fifo) write(p []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(f.buf)
	if len(p) > n {
		f.dropped += int64(len(p) - n)
		p = p[len(p)-n:]
	}
	dropped := 0
	for _, b := range p {
		f.buf[f.head] = b
		f.head = (f.head + 1) % n
		if f.len < n {
			f.len++
		} else {
			dropped++
		}
	}
	f.dropped += int64(dropped)
	return dropped
}

// read fills p with the oldest bytes and returns how many were available.
func (f *fifo) read(p []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(f.buf)
	count := min(len(p), f.len)
	start := (f.head - f.len + n) % n
	for i := 0; i < count; i++ {
		p[i] = f.buf[(start+i)%n]
	}
	f.len -= count
	return count
}

func (f *fifo) buffered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.len
}

func (f *fifo) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = 0
	f.len = 0
}
