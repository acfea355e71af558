// Package position delivers acoustic source positions from the sound
// localization server to the render loop.
package position

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-steno/pkg/geometry"
)

// Backend identifies a position source implementation.
type Backend string

const (
	BackendWebSocket Backend = "websocket"
	BackendMock      Backend = "mock"
)

// ErrInvalidConfig is returned when a Config fails validation.
var ErrInvalidConfig = errors.New("invalid position config")

// Source produces batches of source positions. Only the most recent batch
// matters to consumers.
type Source interface {
	// Run receives positions until ctx is done. It is the body of the
	// position thread.
	Run(ctx context.Context) error

	// TryRead returns the latest batch received since the previous call.
	TryRead() ([]geometry.SourcePosition, bool)

	// Name returns the backend name.
	Name() string
}

// Config holds position source configuration.
type Config struct {
	// Backend selects the implementation.
	// Default: websocket
	Backend Backend `yaml:"backend" json:"backend"`

	// URL of the localization server's SST stream.
	// Default: ws://localhost:10020/sst
	URL string `yaml:"url" json:"url"`

	// MinActivity drops tracked sources below this activity level.
	// Default: 0.1
	MinActivity float64 `yaml:"min_activity" json:"min_activity"`

	// ReconnectDelay is the wait between connection attempts.
	// Default: 1s
	ReconnectDelay time.Duration `yaml:"reconnect_delay" json:"reconnect_delay"`

	// ReadTimeout closes a silent connection.
	// Default: 5s
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// QueueSize is the number of batches buffered for the render loop.
	// Default: 16
	QueueSize int `yaml:"queue_size" json:"queue_size"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendWebSocket,
		URL:            "ws://localhost:10020/sst",
		MinActivity:    0.1,
		ReconnectDelay: time.Second,
		ReadTimeout:    5 * time.Second,
		QueueSize:      16,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendWebSocket, "":
		if c.URL == "" {
			return fmt.Errorf("%w: url is required", ErrInvalidConfig)
		}
	case BackendMock:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}
	if c.MinActivity < 0 || c.MinActivity > 1 {
		return fmt.Errorf("%w: min_activity must be in [0, 1], got %g", ErrInvalidConfig, c.MinActivity)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("%w: queue_size must be positive, got %d", ErrInvalidConfig, c.QueueSize)
	}
	return nil
}

// NewSource creates a position source for cfg.Backend.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "position", "backend", cfg.Backend)

	switch cfg.Backend {
	case BackendWebSocket, "":
		return NewWebSocketSource(cfg, logger), nil
	case BackendMock:
		return NewMockSource(cfg.QueueSize), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
}

// AvailableBackends returns the source backends compiled in.
func AvailableBackends() []Backend {
	return []Backend{BackendWebSocket, BackendMock}
}
