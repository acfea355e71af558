package audio

import (
	"context"
	"fmt"
	"log/slog"
)

// Source ingests audio and assembles it into chunks.
type Source interface {
	// Run ingests until ctx is done. It is the body of the audio thread.
	Run(ctx context.Context) error

	// TryRead returns the next assembled chunk without blocking.
	TryRead() (*Chunk, bool)

	// Format returns the PCM format of the chunks.
	Format() Format

	// Name returns the backend name (e.g., "tcp", "mock").
	Name() string

	// Stats returns ingestion statistics.
	Stats() SourceStats
}

// SourceStats contains statistics about an audio source.
type SourceStats struct {
	// PacketsRead is the total number of packets assembled.
	PacketsRead uint64 `json:"packets_read"`

	// ChunksAssembled is the total number of chunks published.
	ChunksAssembled uint64 `json:"chunks_assembled"`

	// QueueFullRetries counts publish attempts that found the queue full.
	QueueFullRetries uint64 `json:"queue_full_retries"`

	// Connections is the number of accepted connections.
	Connections uint64 `json:"connections"`

	// Connected indicates if a sender is currently connected.
	Connected bool `json:"connected"`

	// Backend is the name of the source backend.
	Backend string `json:"backend"`
}

// NewSource creates an audio source for cfg.Backend.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("creating audio source",
		"backend", cfg.Backend,
		"address", cfg.Address,
		"sample_rate", cfg.Format.SampleRate,
		"channels", cfg.Format.Channels,
		"chunk_ms", cfg.ChunkDuration.Milliseconds(),
	)

	switch cfg.Backend {
	case BackendTCP, "":
		return NewTCPSource(cfg, logger)
	case BackendMock:
		return NewMockSource(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
}

// AvailableBackends returns the source backends compiled in.
func AvailableBackends() []Backend {
	return []Backend{BackendTCP, BackendMock}
}
