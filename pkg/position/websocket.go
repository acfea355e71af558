package position

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-steno/pkg/geometry"
	"github.com/teslashibe/go-steno/pkg/queue"
)

// WebSocketSource connects to the localization server and streams SST
// frames. It reconnects until its context is cancelled.
type WebSocketSource struct {
	cfg    Config
	logger *slog.Logger
	out    *queue.SPSC[[]geometry.SourcePosition]

	frames    atomic.Uint64
	malformed atomic.Uint64
	dropped   atomic.Uint64
	connected atomic.Bool
}

// NewWebSocketSource creates a source for cfg.URL.
func NewWebSocketSource(cfg Config, logger *slog.Logger) *WebSocketSource {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &WebSocketSource{
		cfg:    cfg,
		logger: logger,
		out:    queue.NewSPSC[[]geometry.SourcePosition](cfg.QueueSize),
	}
}

// Run dials the server and reads frames until ctx is done.
func (s *WebSocketSource) Run(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	for {
		err := s.session(ctx, &dialer)
		s.connected.Store(false)
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("position stream interrupted", "url", s.cfg.URL, "error", err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

func (s *WebSocketSource) session(ctx context.Context, dialer *websocket.Dialer) error {
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	defer conn.Close()

	s.connected.Store(true)
	s.logger.Info("position stream connected", "url", s.cfg.URL)

	// Unblock ReadMessage on shutdown.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	for {
		if s.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.New("server closed the stream")
			}
			return fmt.Errorf("read: %w", err)
		}

		positions, err := ParseSST(data, s.cfg.MinActivity)
		if err != nil {
			s.malformed.Add(1)
			s.logger.Debug("skipping malformed frame", "error", err)
			continue
		}
		s.frames.Add(1)
		if !s.out.TryEnqueue(positions) {
			s.dropped.Add(1)
		}
	}
}

// TryRead returns the newest batch, discarding older ones.
func (s *WebSocketSource) TryRead() ([]geometry.SourcePosition, bool) {
	return s.out.DrainLatest()
}

// Name returns "websocket".
func (s *WebSocketSource) Name() string {
	return string(BackendWebSocket)
}

// Connected reports whether a server connection is open.
func (s *WebSocketSource) Connected() bool {
	return s.connected.Load()
}

// Frames returns the number of frames decoded.
func (s *WebSocketSource) Frames() uint64 {
	return s.frames.Load()
}

// Malformed returns the number of frames that failed to decode.
func (s *WebSocketSource) Malformed() uint64 {
	return s.malformed.Load()
}
