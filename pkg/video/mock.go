package video

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-steno/pkg/geometry"
)

// MockStream generates synthetic fisheye frames: a gradient with a bright
// spot circling the lens.
type MockStream struct {
	dim Dim3

	// StaleEvery makes every Nth read report no new frame.
	StaleEvery int

	mu     sync.Mutex
	reads  uint64
	err    error
	closed bool
}

// NewMockStream creates a mock camera delivering frames of dimensions d.
func NewMockStream(d Dim3) *MockStream {
	return &MockStream{dim: d}
}

// FailWith makes subsequent reads return err.
func (m *MockStream) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Resolution returns the mock's frame size.
func (m *MockStream) Resolution() Dim3 {
	return m.dim
}

// Read fills dst with the next synthetic frame.
func (m *MockStream) Read(_ context.Context, dst *Image) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	m.reads++
	if m.StaleEvery > 0 && m.reads%uint64(m.StaleEvery) == 0 {
		return false, nil
	}

	n := m.reads
	d := m.dim
	for y := 0; y < d.Height; y++ {
		row := dst.HostData[y*d.Width*d.Channels : (y+1)*d.Width*d.Channels]
		for x := 0; x < d.Width; x++ {
			px := row[x*d.Channels : (x+1)*d.Channels]
			for c := range px {
				px[c] = byte(x + y*c + int(n))
			}
		}
	}

	lens := NewFisheye(d, math.Pi)
	az := float64(n%360) * math.Pi / 180
	sx, sy := lens.AngleToPixel(az, math.Pi/6)
	const r = 4
	for y := int(sy) - r; y <= int(sy)+r; y++ {
		for x := int(sx) - r; x <= int(sx)+r; x++ {
			if x < 0 || y < 0 || x >= d.Width || y >= d.Height {
				continue
			}
			off := (y*d.Width + x) * d.Channels
			for c := 0; c < d.Channels; c++ {
				dst.HostData[off+c] = 0xff
			}
		}
	}
	dst.Timestamp = uint64(time.Duration(n) * 33 * time.Millisecond / time.Microsecond)
	return true, nil
}

// Reads returns the number of frames read.
func (m *MockStream) Reads() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Close marks the stream closed.
func (m *MockStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockStream) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockDetector returns a fixed set of rectangles, or whatever DetectFunc
// returns when set.
type MockDetector struct {
	Rects      []geometry.AngleRect
	DetectFunc func(ctx context.Context, img *Image) ([]geometry.AngleRect, error)

	calls atomic.Uint64
}

// Detect returns the configured rectangles.
func (m *MockDetector) Detect(ctx context.Context, img *Image) ([]geometry.AngleRect, error) {
	m.calls.Add(1)
	if m.DetectFunc != nil {
		return m.DetectFunc(ctx, img)
	}
	return append([]geometry.AngleRect(nil), m.Rects...), nil
}

// Calls returns how many times Detect ran.
func (m *MockDetector) Calls() uint64 {
	return m.calls.Load()
}

// RecordingConsumer counts display frames and keeps a copy of the last one.
type RecordingConsumer struct {
	mu     sync.Mutex
	frames int
	last   Image
}

// Consume records img.
func (c *RecordingConsumer) Consume(img *Image) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames++
	if len(c.last.HostData) != len(img.HostData) {
		c.last = Image{Dim3: img.Dim3, HostData: make([]byte, len(img.HostData))}
	}
	c.last.Dim3 = img.Dim3
	c.last.Timestamp = img.Timestamp
	copy(c.last.HostData, img.HostData)
	return nil
}

// Frames returns the number of frames consumed.
func (c *RecordingConsumer) Frames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// Last returns a copy of the last frame.
func (c *RecordingConsumer) Last() Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.last
	out.HostData = append([]byte(nil), c.last.HostData...)
	return out
}
