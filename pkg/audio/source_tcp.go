package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// TCPSource listens for the localization server's audio connection and
// assembles the packets it sends. One sender is served at a time; when it
// disconnects the partial chunk is dropped and the source waits for the next
// connection.
type TCPSource struct {
	cfg       Config
	logger    *slog.Logger
	assembler *Assembler

	mu sync.Mutex
	ln *net.TCPListener

	packets     atomic.Uint64
	connections atomic.Uint64
	connected   atomic.Bool
}

// NewTCPSource creates a TCP audio source. It does not bind until Listen or
// Run is called.
func NewTCPSource(cfg Config, logger *slog.Logger) (*TCPSource, error) {
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
	return &TCPSource{
		cfg:       cfg,
		logger:    logger,
		assembler: asm,
	}, nil
}

// Listen binds the listening socket. It is a no-op when already bound.
func (s *TCPSource) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ln != nil {
		return nil
	}
	addr, err := net.ResolveTCPAddr("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", s.cfg.Address, err)
	}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Address, err)
	}
	s.ln = ln
	s.logger.Info("audio source listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *TCPSource) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Run accepts a sender and assembles its packets until ctx is done. Every
// socket call is bounded by the poll interval so cancellation is observed
// promptly.
func (s *TCPSource) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.ln.Close()
		s.ln = nil
		s.mu.Unlock()
	}()

	packet := make([]byte, s.cfg.PacketBytes())
	filled := 0

	var conn *net.TCPConn
	drop := func(reason string, err error) {
		s.logger.Info("audio sender disconnected", "reason", reason, "error", err)
		conn.Close()
		conn = nil
		filled = 0
		s.assembler.Reset()
		s.connected.Store(false)
	}
	defer func() {
		if conn != nil {
			conn.Close()
			s.connected.Store(false)
		}
	}()

	for ctx.Err() == nil {
		if conn == nil {
			if err := ln.SetDeadline(time.Now().Add(s.cfg.PollInterval)); err != nil {
				return fmt.Errorf("set accept deadline: %w", err)
			}
			c, err := ln.AcceptTCP()
			if err != nil {
				if isTimeout(err) {
					continue
				}
				return fmt.Errorf("accept: %w", err)
			}
			conn = c
			s.connections.Add(1)
			s.connected.Store(true)
			s.logger.Info("audio sender connected", "remote", c.RemoteAddr().String())
			continue
		}

		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.PollInterval)); err != nil {
			drop("deadline", err)
			continue
		}
		n, err := conn.Read(packet[filled:])
		filled += n
		if filled == len(packet) {
			filled = 0
			s.packets.Add(1)
			if werr := s.assembler.WritePacket(ctx, packet); werr != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("assemble: %w", werr)
			}
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if errors.Is(err, io.EOF) {
				drop("eof", nil)
			} else {
				drop("read", err)
			}
		}
	}
	return nil
}

// TryRead returns the next assembled chunk without blocking.
func (s *TCPSource) TryRead() (*Chunk, bool) {
	return s.assembler.TryRead()
}

// Format returns the PCM format of the chunks.
func (s *TCPSource) Format() Format {
	return s.cfg.Format
}

// Name returns "tcp".
func (s *TCPSource) Name() string {
	return string(BackendTCP)
}

// Stats returns source statistics.
func (s *TCPSource) Stats() SourceStats {
	return SourceStats{
		PacketsRead:      s.packets.Load(),
		ChunksAssembled:  s.assembler.Assembled(),
		QueueFullRetries: s.assembler.Retries(),
		Connections:      s.connections.Load(),
		Connected:        s.connected.Load(),
		Backend:          s.Name(),
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}

// Ensure TCPSource implements Source.
var _ Source = (*TCPSource)(nil)
