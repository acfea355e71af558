// Package audio ingests timestamped audio packets from the localization
// server and reassembles them into fixed-duration chunks.
//
// This package supports multiple source backends:
//   - TCP - production, packets pushed by the localization server
//   - Mock - CI/testing, synthetic packets through the same assembler
//
// Chunks are allocated once and recycled through a ring of slots; consumers
// receive pointers to ring slots and must not keep them past the next frame.
package audio

import (
	"errors"
	"fmt"
	"time"
)

// Backend represents the audio source backend type.
type Backend string

const (
	// BackendTCP listens for the localization server's audio stream.
	BackendTCP Backend = "tcp"
	// BackendMock generates synthetic packets for testing.
	BackendMock Backend = "mock"
)

// PacketHeaderBytes is the size of the little-endian uint64 timestamp header
// that precedes every packet payload.
const PacketHeaderBytes = 8

// SlackChunks is the number of chunk slots allocated beyond the queue
// capacity so the assembler never writes into a chunk still held downstream.
const SlackChunks = 10

// ErrInvalidConfig is returned when a Config fails validation.
var ErrInvalidConfig = errors.New("audio: invalid config")

// Format describes raw PCM audio.
type Format struct {
	SampleRate  int `yaml:"sample_rate" json:"sample_rate"`
	Channels    int `yaml:"channels" json:"channels"`
	SampleBytes int `yaml:"format_bytes" json:"format_bytes"`
}

// FrameBytes returns the size of one sample across all channels.
func (f Format) FrameBytes() int {
	return f.SampleBytes * f.Channels
}

// Samples returns the number of samples per channel in n bytes.
func (f Format) Samples(n int) int {
	return n / f.SampleBytes / f.Channels
}

// Micros returns the duration of n bytes in whole microseconds.
func (f Format) Micros(n int) uint64 {
	return uint64(f.Samples(n)) * 1_000_000 / uint64(f.SampleRate)
}

// BytesFor returns the size in bytes of d worth of audio.
func (f Format) BytesFor(d time.Duration) int {
	samples := int(int64(f.SampleRate) * d.Milliseconds() / 1000)
	return samples * f.FrameBytes()
}

// Validate checks the format values.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample_rate must be positive, got %d", ErrInvalidConfig, f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("%w: channels must be positive, got %d", ErrInvalidConfig, f.Channels)
	}
	if f.SampleBytes <= 0 {
		return fmt.Errorf("%w: format_bytes must be positive, got %d", ErrInvalidConfig, f.SampleBytes)
	}
	return nil
}

// Config holds audio ingestion configuration.
type Config struct {
	// Backend selects the source implementation.
	// Default: "tcp"
	Backend Backend `yaml:"backend" json:"backend"`

	// Address is the TCP address the source listens on.
	// Default: ":10030"
	Address string `yaml:"address" json:"address"`

	// Format is the PCM format of packet payloads.
	Format Format `yaml:"format" json:"format"`

	// PacketSamples is the number of samples per channel in one packet payload.
	// Default: 256
	PacketSamples int `yaml:"packet_samples" json:"packet_samples"`

	// ChunkDuration is the duration of one assembled chunk. The stream sets it
	// to one video frame period.
	// Default: 33ms
	ChunkDuration time.Duration `yaml:"chunk_duration" json:"chunk_duration"`

	// BufferCount is the capacity of the chunk queue.
	// Default: 8
	BufferCount int `yaml:"buffer_count" json:"buffer_count"`

	// PollInterval bounds every blocking socket call and queue-full backoff.
	// Default: 1ms
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
}

// DefaultConfig returns a Config with the rig's defaults.
func DefaultConfig() Config {
	return Config{
		Backend: BackendTCP,
		Address: ":10030",
		Format: Format{
			SampleRate:  48000,
			Channels:    1,
			SampleBytes: 2, // PCM16
		},
		PacketSamples: 256,
		ChunkDuration: 33 * time.Millisecond,
		BufferCount:   8,
		PollInterval:  time.Millisecond,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Format.Validate(); err != nil {
		return err
	}
	if c.PacketSamples <= 0 {
		return fmt.Errorf("%w: packet_samples must be positive, got %d", ErrInvalidConfig, c.PacketSamples)
	}
	if c.ChunkBytes() <= 0 {
		return fmt.Errorf("%w: chunk_duration %v holds no samples", ErrInvalidConfig, c.ChunkDuration)
	}
	if c.BufferCount <= 0 {
		return fmt.Errorf("%w: buffer_count must be positive, got %d", ErrInvalidConfig, c.BufferCount)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll_interval must be positive, got %v", ErrInvalidConfig, c.PollInterval)
	}
	return nil
}

// PayloadBytes returns the size of one packet payload.
func (c *Config) PayloadBytes() int {
	return c.PacketSamples * c.Format.FrameBytes()
}

// PacketBytes returns the size of one packet including its header.
func (c *Config) PacketBytes() int {
	return PacketHeaderBytes + c.PayloadBytes()
}

// ChunkBytes returns the size of one assembled chunk.
func (c *Config) ChunkBytes() int {
	return c.Format.BytesFor(c.ChunkDuration)
}
