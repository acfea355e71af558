// Package capture reads fisheye frames from a camera, a video file or a
// network stream through OpenCV.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-steno/pkg/video"
)

// ErrReadFailed is returned once the device has failed MaxMisses reads in a
// row.
var ErrReadFailed = errors.New("capture: camera stopped delivering frames")

// Config holds capture configuration.
type Config struct {
	// Device is a camera index ("0"), a file path or a stream URL.
	Device string `yaml:"device" json:"device"`

	// Width and Height request a capture size. Zero keeps the default.
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`

	// FPS requests a capture rate. Zero keeps the default.
	FPS float64 `yaml:"fps" json:"fps"`

	// MaxMisses is how many failed reads in a row are tolerated.
	// Default: 30
	MaxMisses int `yaml:"max_misses" json:"max_misses"`

	// Exposure, Gain and Brightness are driver units. Zero leaves the
	// driver's automatic setting alone.
	Exposure   float64 `yaml:"exposure" json:"exposure"`
	Gain       float64 `yaml:"gain" json:"gain"`
	Brightness float64 `yaml:"brightness" json:"brightness"`
}

// DefaultConfig returns a Config for the first local camera.
func DefaultConfig() Config {
	return Config{Device: "0", MaxMisses: 30}
}

// Camera is a video.Stream over an OpenCV VideoCapture.
type Camera struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	cap    *gocv.VideoCapture
	frame  gocv.Mat
	res    video.Dim3
	start  time.Time
	misses int
	frames uint64
}

// Open opens the device and applies the requested capture settings.
func Open(cfg Config, logger *slog.Logger) (*Camera, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxMisses <= 0 {
		cfg.MaxMisses = DefaultConfig().MaxMisses
	}

	vc, err := gocv.OpenVideoCapture(ParseDevice(cfg.Device))
	if err != nil {
		return nil, fmt.Errorf("open camera %q: %w", cfg.Device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open camera %q: device not available", cfg.Device)
	}
	if cfg.Width > 0 && cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	if cfg.FPS > 0 {
		vc.Set(gocv.VideoCaptureFPS, cfg.FPS)
	}
	if cfg.Exposure != 0 {
		vc.Set(gocv.VideoCaptureExposure, cfg.Exposure)
	}
	if cfg.Gain != 0 {
		vc.Set(gocv.VideoCaptureGain, cfg.Gain)
	}
	if cfg.Brightness != 0 {
		vc.Set(gocv.VideoCaptureBrightness, cfg.Brightness)
	}

	c := &Camera{
		cfg:    cfg,
		logger: logger,
		cap:    vc,
		frame:  gocv.NewMat(),
		start:  time.Now(),
		res: video.Dim3{
			Width:    int(vc.Get(gocv.VideoCaptureFrameWidth)),
			Height:   int(vc.Get(gocv.VideoCaptureFrameHeight)),
			Channels: 3,
		},
	}
	logger.Info("camera opened",
		"device", cfg.Device,
		"resolution", c.res.String(),
		"fps", vc.Get(gocv.VideoCaptureFPS),
	)
	return c, nil
}

// ParseDevice turns a numeric device string into a camera index and leaves
// paths and URLs alone.
func ParseDevice(device string) any {
	if id, err := strconv.Atoi(device); err == nil {
		return id
	}
	return device
}

// Resolution returns the size the camera delivers.
func (c *Camera) Resolution() video.Dim3 {
	return c.res
}

// Read grabs the next frame into dst. A failed grab reports no new frame
// until MaxMisses failures in a row, which is an error.
func (c *Camera) Read(ctx context.Context, dst *video.Image) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if ok := c.cap.Read(&c.frame); !ok || c.frame.Empty() {
		c.misses++
		if c.misses >= c.cfg.MaxMisses {
			return false, fmt.Errorf("%w after %d attempts", ErrReadFailed, c.misses)
		}
		return false, nil
	}
	c.misses = 0

	if c.frame.Cols() != dst.Width || c.frame.Rows() != dst.Height || c.frame.Channels() != dst.Channels {
		return false, fmt.Errorf("%w: frame %dx%dx%d, buffer %v", video.ErrResolutionMismatch,
			c.frame.Cols(), c.frame.Rows(), c.frame.Channels(), dst.Dim3)
	}
	data, err := c.frame.DataPtrUint8()
	if err != nil {
		return false, fmt.Errorf("read frame data: %w", err)
	}
	copy(dst.HostData, data)
	dst.Timestamp = uint64(time.Since(c.start).Microseconds())
	c.frames++
	return true, nil
}

// Frames returns the number of frames delivered.
func (c *Camera) Frames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// Close releases the device.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger.Info("camera closed", "device", c.cfg.Device, "frames", c.frames)
	return errors.Join(c.frame.Close(), c.cap.Close())
}

var _ video.Stream = (*Camera)(nil)
