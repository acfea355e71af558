package audio

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource is a mock audio source for testing.
// It generates synthetic packets (silence or sine wave) at the real packet
// rate and feeds them through the same assembler as the TCP source.
type MockSource struct {
	cfg       Config
	logger    *slog.Logger
	assembler *Assembler

	packets atomic.Uint64
	running atomic.Bool

	mu        sync.Mutex
	phase     float64
	frequency float64 // Hz, 0 = silence
	amplitude float64 // 0.0 to 1.0
	startUs   uint64
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave configures the mock to generate a sine wave.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithStartTimestamp sets the timestamp (µs) of the first packet.
func WithStartTimestamp(us uint64) MockSourceOption {
	return func(m *MockSource) {
		m.startUs = us
	}
}

// NewMockSource creates a new mock audio source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) (*MockSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	asm, err := NewAssembler(cfg.Format, cfg.ChunkBytes(), cfg.BufferCount, cfg.PollInterval)
	if err != nil {
		return nil, err
	}

	m := &MockSource{
		cfg:       cfg,
		logger:    logger,
		assembler: asm,
		amplitude: 0.5,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Run generates one packet per packet period until ctx is done.
func (m *MockSource) Run(ctx context.Context) error {
	period := time.Duration(m.cfg.PacketSamples) * time.Second / time.Duration(m.cfg.Format.SampleRate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	m.running.Store(true)
	defer m.running.Store(false)

	m.logger.Info("mock audio source started",
		"sample_rate", m.cfg.Format.SampleRate,
		"frequency", m.frequency,
	)

	packet := make([]byte, m.cfg.PacketBytes())
	var sent uint64
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("mock audio source stopped", "packets", m.packets.Load())
			return nil
		case <-ticker.C:
			ts := m.startUs + sent*uint64(m.cfg.PacketSamples)*1_000_000/uint64(m.cfg.Format.SampleRate)
			m.fill(packet, ts)
			if err := m.assembler.WritePacket(ctx, packet); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			sent++
			m.packets.Add(1)
		}
	}
}

func (m *MockSource) fill(packet []byte, ts uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	binary.LittleEndian.PutUint64(packet, ts)
	payload := packet[PacketHeaderBytes:]
	f := m.cfg.Format
	for i := 0; i < m.cfg.PacketSamples; i++ {
		var v int16
		if m.frequency > 0 {
			v = int16(m.amplitude * 32767 * math.Sin(2*math.Pi*m.frequency*m.phase/float64(f.SampleRate)))
		}
		for ch := 0; ch < f.Channels; ch++ {
			off := (i*f.Channels + ch) * f.SampleBytes
			// PCM16 in the low bytes; wider formats are zero-padded.
			for b := 0; b < f.SampleBytes; b++ {
				payload[off+b] = 0
			}
			payload[off] = byte(v)
			if f.SampleBytes > 1 {
				payload[off+1] = byte(v >> 8)
			}
		}
		m.phase++
		if m.phase >= float64(f.SampleRate) {
			m.phase = 0
		}
	}
}

// TryRead returns the next assembled chunk without blocking.
func (m *MockSource) TryRead() (*Chunk, bool) {
	return m.assembler.TryRead()
}

// Format returns the PCM format of the chunks.
func (m *MockSource) Format() Format {
	return m.cfg.Format
}

// Name returns "mock".
func (m *MockSource) Name() string {
	return string(BackendMock)
}

// Stats returns source statistics.
func (m *MockSource) Stats() SourceStats {
	return SourceStats{
		PacketsRead:      m.packets.Load(),
		ChunksAssembled:  m.assembler.Assembled(),
		QueueFullRetries: m.assembler.Retries(),
		Connected:        m.running.Load(),
		Backend:          m.Name(),
	}
}

// Ensure MockSource implements Source.
var _ Source = (*MockSource)(nil)
