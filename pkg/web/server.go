// Package web serves the live preview of the composed display, pipeline
// status and WebRTC audio signalling.
package web

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-steno/pkg/buffer"
	"github.com/teslashibe/go-steno/pkg/hub"
	"github.com/teslashibe/go-steno/pkg/stream"
	"github.com/teslashibe/go-steno/pkg/video"
	"github.com/teslashibe/go-steno/pkg/virtualcam"
)

//go:embed index.html
var indexHTML []byte

// Config holds server settings.
type Config struct {
	Port int

	// StatusInterval is the period of /ws/status updates.
	// Default: 500ms
	StatusInterval time.Duration

	// FrameInterval is the fastest rate the preview is encoded at.
	// Default: 50ms
	FrameInterval time.Duration

	// JPEGQuality of the preview.
	// Default: 75
	JPEGQuality int
}

// StatusProvider reports the pipeline state.
type StatusProvider interface {
	Stats() stream.Stats
	Cameras() []virtualcam.Camera
}

// OfferHandler answers WebRTC offers for the audio track.
type OfferHandler interface {
	HandleOffer(ctx context.Context, offer webrtc.SessionDescription) (string, webrtc.SessionDescription, error)
	Peers() int
}

// Status is the payload of /api/status and /ws/status.
type Status struct {
	Stream      stream.Stats        `json:"stream"`
	Cameras     []virtualcam.Camera `json:"cameras"`
	Preview     hub.Stats           `json:"preview"`
	Encoded     uint64              `json:"encoded_frames"`
	WebRTCPeers int                 `json:"webrtc_peers"`
}

// Server is the preview and status server. It is also the display consumer
// of the render loop.
type Server struct {
	cfg    Config
	app    *fiber.App
	logger *slog.Logger

	status StatusProvider
	offers OfferHandler

	displayHub *hub.Hub
	statusHub  *hub.Hub

	// Displays are staged by the render thread and encoded by the pump.
	frames  *buffer.TripleBuffer[video.Image]
	rgba    *image.RGBA
	jpegBuf bytes.Buffer
	encoded atomic.Uint64

	ctxMu sync.Mutex
	ctx   context.Context
}

// NewServer creates the server. offers may be nil when WebRTC output is
// disabled.
func NewServer(cfg Config, status StatusProvider, offers OfferHandler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 500 * time.Millisecond
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 50 * time.Millisecond
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 75
	}
	logger = logger.With("component", "web")

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		status:     status,
		offers:     offers,
		displayHub: hub.New("display", logger),
		statusHub:  hub.New("status", logger),
		frames:     buffer.NewTripleBuffer(func(int) video.Image { return video.Image{} }),
		ctx:        context.Background(),
	}

	app := fiber.New(fiber.Config{
		AppName:               "steno",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	app.Get("/", func(c *fiber.Ctx) error {
		c.Type("html")
		return c.Send(indexHTML)
	})

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/cameras", s.handleCameras)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/display", websocket.New(s.handleDisplayWS))
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/webrtc", websocket.New(s.handleWebRTCWS))

	s.app = app
	return s
}

// Run serves on cfg.Port until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.ctxMu.Lock()
	s.ctx = ctx
	s.ctxMu.Unlock()

	go s.displayHub.Run(ctx)
	go s.statusHub.Run(ctx)
	go s.pump(ctx)

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("web server listening", "url", fmt.Sprintf("http://localhost:%d", s.cfg.Port))
		errc <- s.app.Listen(fmt.Sprintf(":%d", s.cfg.Port))
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("web server: %w", err)
	case <-ctx.Done():
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			return fmt.Errorf("web server shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) baseContext() context.Context {
	s.ctxMu.Lock()
	defer s.ctxMu.Unlock()
	return s.ctx
}

// pump encodes the newest display for preview clients and publishes status.
func (s *Server) pump(ctx context.Context) {
	frameTick := time.NewTicker(s.cfg.FrameInterval)
	defer frameTick.Stop()
	statusTick := time.NewTicker(s.cfg.StatusInterval)
	defer statusTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-frameTick.C:
			data, ok, err := s.encodeLatest()
			if err != nil {
				s.logger.Warn("preview encode failed", "error", err)
				continue
			}
			if ok {
				s.displayHub.BroadcastBinary(data)
			}
		case <-statusTick.C:
			if s.statusHub.ClientCount() == 0 {
				continue
			}
			if err := s.statusHub.BroadcastJSON(s.Status()); err != nil {
				s.logger.Warn("status encode failed", "error", err)
			}
		}
	}
}

// Consume stages a composed display for the preview. It only copies, and
// only while preview clients are connected.
func (s *Server) Consume(img *video.Image) error {
	if s.displayHub.ClientCount() == 0 {
		return nil
	}
	return s.stage(img)
}

func (s *Server) stage(img *video.Image) error {
	slot := s.frames.WriteSlot()
	if slot.Dim3 != img.Dim3 || len(slot.HostData) != img.Size() {
		*slot = video.NewImage(img.Dim3)
		slot.HostData = make([]byte, img.Size())
	}
	if err := slot.CopyFrom(img); err != nil {
		return err
	}
	s.frames.Publish()
	return nil
}

// encodeLatest returns the newest staged display as JPEG, or false when
// nothing new was staged.
func (s *Server) encodeLatest() ([]byte, bool, error) {
	if !s.frames.Swap() {
		return nil, false, nil
	}
	s.rgba = s.frames.Current().ToRGBA(s.rgba)
	s.jpegBuf.Reset()
	if err := jpeg.Encode(&s.jpegBuf, s.rgba, &jpeg.Options{Quality: s.cfg.JPEGQuality}); err != nil {
		return nil, false, err
	}
	s.encoded.Add(1)
	return bytes.Clone(s.jpegBuf.Bytes()), true, nil
}

// Status returns the current status snapshot.
func (s *Server) Status() Status {
	st := Status{
		Preview: s.displayHub.Stats(),
		Encoded: s.encoded.Load(),
	}
	if s.status != nil {
		st.Stream = s.status.Stats()
		st.Cameras = s.status.Cameras()
	}
	if s.offers != nil {
		st.WebRTCPeers = s.offers.Peers()
	}
	return st
}

// App exposes the fiber app, for tests and embedding.
func (s *Server) App() *fiber.App {
	return s.app
}

var _ video.ImageConsumer = (*Server)(nil)
