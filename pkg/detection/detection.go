// Package detection finds people and faces in fisheye frames with OpenCV
// models and reports them as angular rectangles.
package detection

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-steno/pkg/geometry"
	"github.com/teslashibe/go-steno/pkg/video"
)

// Box is a detection on the image, normalized to [0, 1].
type Box struct {
	X, Y       float64 // Top-left corner
	W, H       float64 // Width and height
	Confidence float64
	Label      string
}

// Center returns the center point of the box.
func (b Box) Center() (x, y float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Area returns the normalized area of the box.
func (b Box) Area() float64 {
	return b.W * b.H
}

// Model runs inference on a BGR image.
type Model interface {
	Detect(img gocv.Mat) ([]Box, error)
	Close() error
}

// Backend selects the model.
type Backend string

const (
	BackendYuNet Backend = "yunet"
	BackendYOLO  Backend = "yolo"
)

// ErrInvalidConfig is returned when a Config fails validation.
var ErrInvalidConfig = errors.New("invalid detection config")

// Config holds detector configuration.
type Config struct {
	Backend          Backend  `yaml:"backend" json:"backend"`
	ModelPath        string   `yaml:"model_path" json:"model_path"`               // Path to ONNX model
	ConfidenceThresh float64  `yaml:"confidence" json:"confidence"`               // Minimum confidence (default 0.5)
	NMSThresh        float64  `yaml:"nms" json:"nms"`                             // Overlap suppression (default 0.45)
	InputWidth       int      `yaml:"input_width" json:"input_width"`             // Model input width
	InputHeight      int      `yaml:"input_height" json:"input_height"`           // Model input height
	Classes          []string `yaml:"classes,omitempty" json:"classes,omitempty"` // YOLO classes to keep; empty keeps all
	MinArea          float64  `yaml:"min_area" json:"min_area"`                   // Drop boxes smaller than this (normalized)
	FOV              float64  `yaml:"fov" json:"fov"`                             // Lens field of view (radians)
}

// DefaultConfig returns production defaults for YuNet.
func DefaultConfig() Config {
	return Config{
		Backend:          BackendYuNet,
		ModelPath:        "models/face_detection_yunet.onnx",
		ConfidenceThresh: 0.5,
		NMSThresh:        0.3,
		InputWidth:       320,
		InputHeight:      320,
		MinArea:          0.0002,
		FOV:              math.Pi,
	}
}

// DefaultYOLOConfig returns production defaults for YOLOv8n people
// detection.
func DefaultYOLOConfig() Config {
	return Config{
		Backend:          BackendYOLO,
		ModelPath:        "models/yolov8n.onnx",
		ConfidenceThresh: 0.5,
		NMSThresh:        0.45,
		InputWidth:       640,
		InputHeight:      640,
		Classes:          []string{"person"},
		MinArea:          0.0005,
		FOV:              math.Pi,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.Backend != BackendYuNet && c.Backend != BackendYOLO:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	case c.ModelPath == "":
		return fmt.Errorf("%w: model_path is required", ErrInvalidConfig)
	case c.ConfidenceThresh < 0 || c.ConfidenceThresh > 1:
		return fmt.Errorf("%w: confidence must be in [0, 1]", ErrInvalidConfig)
	case c.NMSThresh < 0 || c.NMSThresh > 1:
		return fmt.Errorf("%w: nms must be in [0, 1]", ErrInvalidConfig)
	case c.InputWidth <= 0 || c.InputHeight <= 0:
		return fmt.Errorf("%w: input size must be positive", ErrInvalidConfig)
	case c.FOV <= 0 || c.FOV > 2*math.Pi:
		return fmt.Errorf("%w: fov must be in (0, 2π]", ErrInvalidConfig)
	}
	return nil
}

// New loads the configured model.
func New(cfg Config) (*FisheyeDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var (
		model Model
		err   error
	)
	switch cfg.Backend {
	case BackendYOLO:
		model, err = NewYOLO(cfg)
	default:
		model, err = NewYuNet(cfg)
	}
	if err != nil {
		return nil, err
	}
	return NewFisheyeDetector(model, cfg), nil
}

// FisheyeDetector runs a model on whole fisheye frames and converts its
// boxes into angular rectangles through the lens model.
type FisheyeDetector struct {
	model Model
	cfg   Config
	mu    sync.Mutex
}

// NewFisheyeDetector wraps model.
func NewFisheyeDetector(model Model, cfg Config) *FisheyeDetector {
	return &FisheyeDetector{model: model, cfg: cfg}
}

// Detect implements video.Detector.
func (d *FisheyeDetector) Detect(ctx context.Context, img *video.Image) ([]geometry.AngleRect, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img.Channels != 3 {
		return nil, fmt.Errorf("detect: need a BGR image, got %d channels", img.Channels)
	}

	mat, err := gocv.NewMatFromBytes(img.Height, img.Width, gocv.MatTypeCV8UC3, img.HostData)
	if err != nil {
		return nil, fmt.Errorf("wrap frame: %w", err)
	}
	defer mat.Close()

	d.mu.Lock()
	boxes, err := d.model.Detect(mat)
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	lens := video.NewFisheye(img.Dim3, d.cfg.FOV)
	return ToRects(boxes, lens, img.Dim3, d.cfg.MinArea), nil
}

// Close releases the model.
func (d *FisheyeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.model.Close()
}

// ToRects converts normalized boxes on a frame of dimensions dim into
// angular rectangles, skipping boxes under minArea.
func ToRects(boxes []Box, lens video.Fisheye, dim video.Dim3, minArea float64) []geometry.AngleRect {
	rects := make([]geometry.AngleRect, 0, len(boxes))
	w, h := float64(dim.Width), float64(dim.Height)
	for _, b := range boxes {
		if b.Area() < minArea {
			continue
		}
		r := lens.BoxToRect(b.X*w, b.Y*h, b.W*w, b.H*h)
		r.Label = b.Label
		r.Confidence = b.Confidence
		rects = append(rects, r)
	}
	return rects
}

var _ video.Detector = (*FisheyeDetector)(nil)
