package detection

import (
	"context"
	"errors"
	"math"
	"testing"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-steno/pkg/video"
)

func TestBox_CenterArea(t *testing.T) {
	tests := []struct {
		name   string
		box    Box
		cx, cy float64
		area   float64
	}{
		{"center of image", Box{X: 0.25, Y: 0.25, W: 0.5, H: 0.5}, 0.5, 0.5, 0.25},
		{"top left corner", Box{X: 0, Y: 0, W: 0.2, H: 0.2}, 0.1, 0.1, 0.04},
		{"small face", Box{X: 0.8, Y: 0.6, W: 0.1, H: 0.2}, 0.85, 0.7, 0.02},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			x, y := tc.box.Center()
			if math.Abs(x-tc.cx) > 1e-9 || math.Abs(y-tc.cy) > 1e-9 {
				t.Errorf("Center = (%.2f, %.2f), want (%.2f, %.2f)", x, y, tc.cx, tc.cy)
			}
			if math.Abs(tc.box.Area()-tc.area) > 1e-9 {
				t.Errorf("Area = %.4f, want %.4f", tc.box.Area(), tc.area)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"yunet default", func(*Config) {}, false},
		{"yolo default", func(c *Config) { *c = DefaultYOLOConfig() }, false},
		{"unknown backend", func(c *Config) { c.Backend = "darknet" }, true},
		{"no model", func(c *Config) { c.ModelPath = "" }, true},
		{"confidence above one", func(c *Config) { c.ConfidenceThresh = 1.5 }, true},
		{"zero input", func(c *Config) { c.InputWidth = 0 }, true},
		{"zero fov", func(c *Config) { c.FOV = 0 }, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error %v should wrap ErrInvalidConfig", err)
			}
		})
	}
}

func TestNew_MissingModel(t *testing.T) {
	for _, cfg := range []Config{DefaultConfig(), DefaultYOLOConfig()} {
		cfg.ModelPath = "/nonexistent/path/model.onnx"
		if _, err := New(cfg); err == nil {
			t.Errorf("%s: expected error for missing model", cfg.Backend)
		}
	}
}

func TestToRects(t *testing.T) {
	dim := video.Dim3{Width: 400, Height: 400, Channels: 3}
	lens := video.NewFisheye(dim, math.Pi)

	// A box centred on azimuth 0, elevation π/4 (pixel 300, 200).
	boxes := []Box{
		{X: 0.725, Y: 0.475, W: 0.05, H: 0.05, Confidence: 0.9, Label: "face"},
		{X: 0.1, Y: 0.1, W: 0.001, H: 0.001, Confidence: 0.8, Label: "face"},
	}
	rects := ToRects(boxes, lens, dim, 0.0002)
	if len(rects) != 1 {
		t.Fatalf("got %d rects, want 1 (tiny box dropped)", len(rects))
	}
	r := rects[0]
	if !r.Contains(0, math.Pi/4) {
		t.Errorf("rect %+v should contain azimuth 0, elevation π/4", r)
	}
	if r.Label != "face" || r.Confidence != 0.9 {
		t.Errorf("label/confidence = %q %g", r.Label, r.Confidence)
	}
}

type fakeModel struct {
	boxes  []Box
	rows   int
	closed bool
}

func (m *fakeModel) Detect(img gocv.Mat) ([]Box, error) {
	m.rows = img.Rows()
	return m.boxes, nil
}

func (m *fakeModel) Close() error {
	m.closed = true
	return nil
}

func TestFisheyeDetector_Detect(t *testing.T) {
	dim := video.Dim3{Width: 40, Height: 30, Channels: 3}
	img := video.NewImage(dim)
	if err := (video.HeapObjectFactory{HostOnly: true}).Allocate(&img); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	model := &fakeModel{boxes: []Box{{X: 0.7, Y: 0.4, W: 0.1, H: 0.1, Label: "person"}}}
	det := NewFisheyeDetector(model, DefaultConfig())

	rects, err := det.Detect(context.Background(), &img)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if model.rows != 30 {
		t.Errorf("model saw %d rows, want 30", model.rows)
	}
	if len(rects) != 1 || rects[0].Label != "person" {
		t.Errorf("rects = %+v", rects)
	}

	gray := video.NewImage(video.Dim3{Width: 4, Height: 4, Channels: 1})
	_ = (video.HeapObjectFactory{}).Allocate(&gray)
	if _, err := det.Detect(context.Background(), &gray); err == nil {
		t.Error("gray image should be rejected")
	}

	_ = det.Close()
	if !model.closed {
		t.Error("Close should release the model")
	}
}
