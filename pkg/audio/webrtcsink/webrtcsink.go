// Package webrtcsink streams assembled audio chunks to browsers as an Opus
// track over WebRTC.
package webrtcsink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/go-steno/pkg/audio"
)

const (
	sampleRate  = 48000
	frameUs     = 20_000
	frameSize   = sampleRate * frameUs / 1_000_000 // 960
	payloadType = 111
	maxPacket   = 1500
)

// Config holds WebRTC sink configuration.
type Config struct {
	// ICEServers are STUN/TURN URLs offered to peers.
	ICEServers []string `yaml:"ice_servers" json:"ice_servers"`

	// Bitrate is the Opus target bitrate in bits per second.
	// Default: 32000
	Bitrate int `yaml:"bitrate" json:"bitrate"`

	// GatherTimeout bounds ICE gathering when answering an offer.
	// Default: 5s
	GatherTimeout time.Duration `yaml:"gather_timeout" json:"gather_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ICEServers:    []string{"stun:stun.l.google.com:19302"},
		Bitrate:       32000,
		GatherTimeout: 5 * time.Second,
	}
}

// Sink encodes chunks to Opus and writes them to a shared local track that
// every connected peer receives.
type Sink struct {
	cfg    Config
	format audio.Format
	logger *slog.Logger

	track   *webrtc.TrackLocalStaticRTP
	encoder *opus.Encoder
	framer  *framer
	frame   []int16
	packet  []byte
	seq     uint16

	mu     sync.Mutex
	peers  map[string]*webrtc.PeerConnection
	closed bool

	packets atomic.Int64
	chunks  atomic.Int64
}

// New creates a sink for chunks of the given format.
func New(cfg Config, format audio.Format, logger *slog.Logger) (*Sink, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if format.SampleBytes != 2 {
		return nil, fmt.Errorf("webrtc sink: only 16-bit PCM is supported, got %d bytes", format.SampleBytes)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = DefaultConfig().GatherTimeout
	}

	enc, err := opus.NewEncoder(sampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	if cfg.Bitrate > 0 {
		if err := enc.SetBitrate(cfg.Bitrate); err != nil {
			return nil, fmt.Errorf("set opus bitrate: %w", err)
		}
	}

	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: sampleRate,
		Channels:  2,
	}, "audio", "steno")
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	return &Sink{
		cfg:     cfg,
		format:  format,
		logger:  logger,
		track:   track,
		encoder: enc,
		framer:  newFramer(frameSize),
		frame:   make([]int16, frameSize),
		packet:  make([]byte, maxPacket),
		seq:     uint16(rand.Intn(1 << 16)),
		peers:   make(map[string]*webrtc.PeerConnection),
	}, nil
}

// Write converts the chunk to mono 48 kHz, encodes every complete 20ms frame
// and sends it with an RTP timestamp derived from the chunk timestamp.
// Without connected peers the audio is discarded.
func (s *Sink) Write(_ context.Context, c *audio.Chunk) error {
	s.mu.Lock()
	closed, peers := s.closed, len(s.peers)
	s.mu.Unlock()
	if closed {
		return audio.ErrClosed
	}
	s.chunks.Add(1)
	if peers == 0 {
		s.framer.reset()
		return nil
	}

	samples := audio.BytesToSamples(c.Bytes())
	samples = audio.Downmix(samples, c.Format.Channels)
	samples = audio.Resample(samples, c.Format.SampleRate, sampleRate)
	s.framer.push(samples, c.Timestamp)

	for {
		ts, ok := s.framer.next(s.frame)
		if !ok {
			return nil
		}
		n, err := s.encoder.Encode(s.frame, s.packet)
		if err != nil {
			return fmt.Errorf("opus encode: %w", err)
		}
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    payloadType,
				SequenceNumber: s.seq,
				Timestamp:      rtpTimestamp(ts),
			},
			Payload: s.packet[:n],
		}
		s.seq++
		// A peer that went away mid-write surfaces as a closed pipe.
		if err := s.track.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			return fmt.Errorf("write rtp: %w", err)
		}
		s.packets.Add(1)
	}
}

// HandleOffer answers a browser's SDP offer with a peer connection that
// receives the audio track. It returns the peer ID and the answer with all
// ICE candidates gathered.
func (s *Sink) HandleOffer(ctx context.Context, offer webrtc.SessionDescription) (string, webrtc.SessionDescription, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", webrtc.SessionDescription{}, audio.ErrClosed
	}

	var ice []webrtc.ICEServer
	if len(s.cfg.ICEServers) > 0 {
		ice = []webrtc.ICEServer{{URLs: s.cfg.ICEServers}}
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: ice})
	if err != nil {
		return "", webrtc.SessionDescription{}, fmt.Errorf("new peer connection: %w", err)
	}

	fail := func(step string, err error) (string, webrtc.SessionDescription, error) {
		pc.Close()
		return "", webrtc.SessionDescription{}, fmt.Errorf("%s: %w", step, err)
	}

	sender, err := pc.AddTrack(s.track)
	if err != nil {
		return fail("add track", err)
	}
	// RTCP must be read for interceptors to work.
	go func() {
		buf := make([]byte, maxPacket)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	id := uuid.NewString()
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Info("webrtc peer state", "peer", id, "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			s.removePeer(id)
		}
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		return fail("set remote description", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fail("create answer", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return fail("set local description", err)
	}

	timeout := time.NewTimer(s.cfg.GatherTimeout)
	defer timeout.Stop()
	select {
	case <-gathered:
	case <-timeout.C:
		s.logger.Warn("ice gathering timed out, answering with partial candidates", "peer", id)
	case <-ctx.Done():
		return fail("gather candidates", ctx.Err())
	}

	s.mu.Lock()
	s.peers[id] = pc
	s.mu.Unlock()

	s.logger.Info("webrtc peer added", "peer", id)
	return id, *pc.LocalDescription(), nil
}

func (s *Sink) removePeer(id string) {
	s.mu.Lock()
	pc, ok := s.peers[id]
	delete(s.peers, id)
	s.mu.Unlock()
	if ok {
		go pc.Close()
	}
}

// Peers returns the number of connected peers.
func (s *Sink) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Name returns "webrtc".
func (s *Sink) Name() string {
	return "webrtc"
}

// Close disconnects every peer.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	peers := s.peers
	s.peers = make(map[string]*webrtc.PeerConnection)
	s.mu.Unlock()

	var errs []error
	for _, pc := range peers {
		if err := pc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.Info("webrtc sink closed", "packets", s.packets.Load())
	return errors.Join(errs...)
}

// Stats returns sink statistics.
func (s *Sink) Stats() audio.SinkStats {
	return audio.SinkStats{
		ChunksWritten: s.chunks.Load(),
		Backend:       s.Name(),
	}
}

var _ audio.Sink = (*Sink)(nil)
