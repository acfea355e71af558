// Package playback plays assembled audio chunks on a local output device
// through miniaudio.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/teslashibe/go-steno/pkg/audio"
)

// ErrUnsupportedFormat is returned for sample formats the device path does
// not handle.
var ErrUnsupportedFormat = errors.New("playback: only 16-bit PCM is supported")

// Config holds playback configuration.
type Config struct {
	// Buffer is how much audio is queued ahead of the device.
	// Default: 200ms
	Buffer time.Duration `yaml:"buffer" json:"buffer"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{Buffer: 200 * time.Millisecond}
}

// Sink writes chunks to the default playback device.
type Sink struct {
	cfg    Config
	format audio.Format
	logger *slog.Logger

	mctx   *malgo.AllocatedContext
	device *malgo.Device
	queue  *fifo

	mu     sync.Mutex
	closed bool

	chunks    atomic.Int64
	bytes     atomic.Int64
	underruns atomic.Int64
}

// New opens the default playback device for format and starts it.
func New(cfg Config, format audio.Format, logger *slog.Logger) (*Sink, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if format.SampleBytes != 2 {
		return nil, ErrUnsupportedFormat
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultConfig().Buffer
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sink{
		cfg:    cfg,
		format: format,
		logger: logger,
		queue:  newFIFO(format.BytesFor(cfg.Buffer)),
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	devCfg.Playback.Format = malgo.FormatS16
	devCfg.Playback.Channels = uint32(format.Channels)
	devCfg.SampleRate = uint32(format.SampleRate)

	device, err := malgo.InitDevice(mctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: s.onData,
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("init playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("start playback device: %w", err)
	}

	s.mctx = mctx
	s.device = device
	logger.Info("audio playback started",
		"sample_rate", format.SampleRate,
		"channels", format.Channels,
		"buffer_ms", cfg.Buffer.Milliseconds(),
	)
	return s, nil
}

func (s *Sink) onData(output, _ []byte, _ uint32) {
	n := s.queue.read(output)
	if n < len(output) {
		clear(output[n:])
		if n == 0 {
			s.underruns.Add(1)
		}
	}
}

// Write queues the chunk for playback. It never blocks on the device; when
// the queue is full the oldest audio is dropped.
func (s *Sink) Write(_ context.Context, c *audio.Chunk) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return audio.ErrClosed
	}
	if c.Format != s.format {
		return fmt.Errorf("%w: chunk %+v, device %+v", ErrUnsupportedFormat, c.Format, s.format)
	}
	if dropped := s.queue.write(c.Bytes()); dropped > 0 {
		s.logger.Debug("playback queue full, dropped audio", "bytes", dropped)
	}
	s.chunks.Add(1)
	s.bytes.Add(int64(c.Size))
	return nil
}

// Name returns "playback".
func (s *Sink) Name() string {
	return "playback"
}

// Close stops the device and releases the audio context.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.device.Stop(); err != nil {
		errs = append(errs, err)
	}
	s.device.Uninit()
	if err := s.mctx.Uninit(); err != nil {
		errs = append(errs, err)
	}
	s.mctx.Free()
	s.queue.reset()

	s.logger.Info("audio playback stopped", "chunks", s.chunks.Load(), "underruns", s.underruns.Load())
	return errors.Join(errs...)
}

// Stats returns sink statistics.
func (s *Sink) Stats() audio.SinkStats {
	return audio.SinkStats{
		ChunksWritten: s.chunks.Load(),
		BytesWritten:  s.bytes.Load(),
		Backend:       s.Name(),
	}
}

// Devices lists the names of the playback devices miniaudio can see.
func Devices() ([]string, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("list playback devices: %w", err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

var _ audio.Sink = (*Sink)(nil)
