package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned when writing to a closed sink.
var ErrClosed = errors.New("audio: sink closed")

// Sink receives assembled chunks in presentation order.
type Sink interface {
	// Write consumes one chunk. The chunk belongs to the source ring and
	// must not be retained after Write returns.
	Write(ctx context.Context, c *Chunk) error

	// Name returns the sink name (e.g., "file", "playback", "webrtc").
	Name() string

	// Close flushes and releases the sink.
	io.Closer
}

// SinkStats contains statistics about an audio sink.
type SinkStats struct {
	// ChunksWritten is the total number of chunks written.
	ChunksWritten int64 `json:"chunks_written"`

	// BytesWritten is the total number of payload bytes written.
	BytesWritten int64 `json:"bytes_written"`

	// Backend is the name of the sink.
	Backend string `json:"backend"`
}

// RawFileSink appends raw chunk bytes to a file.
type RawFileSink struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	file   *os.File
	w      *bufio.Writer
	closed bool

	chunks atomic.Int64
	bytes  atomic.Int64
}

// NewRawFileSink opens path in append mode, creating it if needed.
func NewRawFileSink(path string, logger *slog.Logger) (*RawFileSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	logger.Info("raw audio file sink opened", "path", path)
	return &RawFileSink{
		path:   path,
		logger: logger,
		file:   f,
		w:      bufio.NewWriterSize(f, 64*1024),
	}, nil
}

// Write appends the chunk payload.
func (s *RawFileSink) Write(_ context.Context, c *Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	n, err := s.w.Write(c.Bytes())
	s.bytes.Add(int64(n))
	if err != nil {
		return fmt.Errorf("write audio file: %w", err)
	}
	s.chunks.Add(1)
	return nil
}

// Name returns "file".
func (s *RawFileSink) Name() string {
	return "file"
}

// Close flushes buffered audio and closes the file.
func (s *RawFileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	ferr := s.w.Flush()
	cerr := s.file.Close()
	s.logger.Info("raw audio file sink closed", "path", s.path, "bytes", s.bytes.Load())
	return errors.Join(ferr, cerr)
}

// Stats returns sink statistics.
func (s *RawFileSink) Stats() SinkStats {
	return SinkStats{
		ChunksWritten: s.chunks.Load(),
		BytesWritten:  s.bytes.Load(),
		Backend:       s.Name(),
	}
}

// MultiSink fans each chunk out to several sinks. A failing sink does not
// stop the others from receiving the chunk.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks. Nil entries are skipped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Write writes c to every sink and joins their errors.
func (m *MultiSink) Write(ctx context.Context, c *Chunk) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, c); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Name returns "multi".
func (m *MultiSink) Name() string {
	return "multi"
}

// Len returns the number of sinks.
func (m *MultiSink) Len() int {
	return len(m.sinks)
}

// Close closes every sink and joins their errors.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// MockSink is a mock audio sink for testing.
// It keeps a copy of every chunk written.
type MockSink struct {
	mu     sync.Mutex
	chunks []Chunk
	closed bool
	err    error
}

// NewMockSink creates a new mock audio sink.
func NewMockSink() *MockSink {
	return &MockSink{}
}

// FailWith makes subsequent writes return err.
func (m *MockSink) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Write records a copy of the chunk.
func (m *MockSink) Write(_ context.Context, c *Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.err != nil {
		return m.err
	}
	m.chunks = append(m.chunks, c.Clone())
	return nil
}

// Chunks returns the recorded chunks.
func (m *MockSink) Chunks() []Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Chunk(nil), m.chunks...)
}

// Closed reports whether Close was called.
func (m *MockSink) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Name returns "mock".
func (m *MockSink) Name() string {
	return "mock"
}

// Close marks the sink closed.
func (m *MockSink) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

var (
	_ Sink = (*RawFileSink)(nil)
	_ Sink = (*MultiSink)(nil)
	_ Sink = (*MockSink)(nil)
)
