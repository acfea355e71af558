package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/go-steno/pkg/audio"
	"github.com/teslashibe/go-steno/pkg/position"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Audio.ChunkDuration != 50*time.Millisecond {
		t.Errorf("ChunkDuration = %v, want 50ms at 20 fps", cfg.Audio.ChunkDuration)
	}
	if got := cfg.Stream().Threshold; got != cfg.Classifier.Threshold {
		t.Errorf("Stream().Threshold = %v, want %v", got, cfg.Classifier.Threshold)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steno.yaml")
	data := `
video:
  fps: 25
  resolution: {width: 1920, height: 1920, channels: 3}
camera:
  device: /dev/video2
classifier:
  threshold: 0.3
virtual_cameras:
  max_cameras: 3
  time_constant: 500ms
positions:
  url: ws://odas.local:9000/sst
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Video.FPS != 25 || cfg.Video.Resolution.Width != 1920 {
		t.Errorf("video = %+v", cfg.Video)
	}
	if cfg.Audio.ChunkDuration != 40*time.Millisecond {
		t.Errorf("ChunkDuration = %v, want 40ms", cfg.Audio.ChunkDuration)
	}
	if cfg.Camera.Device != "/dev/video2" {
		t.Errorf("camera device = %q", cfg.Camera.Device)
	}
	if cfg.Stream().Threshold != 0.3 {
		t.Errorf("threshold = %v, want 0.3", cfg.Stream().Threshold)
	}
	if cfg.VirtualCameras.MaxCameras != 3 || cfg.VirtualCameras.TimeConstant != 500*time.Millisecond {
		t.Errorf("virtual cameras = %+v", cfg.VirtualCameras)
	}
	// Unset keys keep their defaults.
	if cfg.VirtualCameras.ExpiryGrace != DefaultConfig().VirtualCameras.ExpiryGrace {
		t.Errorf("ExpiryGrace = %v, want default", cfg.VirtualCameras.ExpiryGrace)
	}
	if cfg.Positions.URL != "ws://odas.local:9000/sst" {
		t.Errorf("positions url = %q", cfg.Positions.URL)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, data string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "nope.yaml")},
		{"bad yaml", write("bad.yaml", "video: [fps")},
		{"zero fps", write("fps.yaml", "video:\n  fps: 0\n")},
		{"negative threshold", write("thr.yaml", "classifier:\n  threshold: -1\n")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(tt.path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(env(map[string]string{
		"STENO_CAMERA":   "rtsp://rig.local/fisheye",
		"STENO_MODEL":    "/models/yunet.onnx",
		"STENO_FPS":      "30",
		"STENO_WEB_PORT": "9090",
		"STENO_MOCK":     "true",
		"STENO_WEBRTC":   "1",
		"UNRELATED":      "x",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if err := cfg.Derive(); err != nil {
		t.Fatal(err)
	}

	if cfg.Camera.Device != "rtsp://rig.local/fisheye" || cfg.Detection.ModelPath != "/models/yunet.onnx" {
		t.Errorf("strings not applied: %+v %+v", cfg.Camera, cfg.Detection)
	}
	if cfg.Video.FPS != 30 || cfg.Web.Port != 9090 {
		t.Errorf("numbers not applied: fps=%d port=%d", cfg.Video.FPS, cfg.Web.Port)
	}
	if !cfg.Mock || !cfg.Output.WebRTC {
		t.Errorf("flags not applied: mock=%v webrtc=%v", cfg.Mock, cfg.Output.WebRTC)
	}
	if cfg.Audio.Backend != audio.BackendMock || cfg.Positions.Backend != position.BackendMock {
		t.Errorf("mock mode backends = %s, %s", cfg.Audio.Backend, cfg.Positions.Backend)
	}
	if cfg.Audio.ChunkDuration != 33*time.Millisecond {
		t.Errorf("ChunkDuration = %v, want 33ms", cfg.Audio.ChunkDuration)
	}
}

func TestApplyEnv_Invalid(t *testing.T) {
	tests := map[string]string{
		"STENO_FPS":      "fast",
		"STENO_WEB_PORT": "80a",
		"STENO_MOCK":     "maybe",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			cfg := DefaultConfig()
			if err := cfg.ApplyEnv(env(map[string]string{key: val})); err == nil {
				t.Errorf("%s=%s: expected error", key, val)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"no camera", func(c *Config) { c.Camera.Device = "" }, true},
		{"no camera in mock mode", func(c *Config) { c.Camera.Device = ""; c.Mock = true }, false},
		{"no model in mock mode", func(c *Config) { c.Detection.ModelPath = ""; c.Mock = true }, false},
		{"no model", func(c *Config) { c.Detection.ModelPath = "" }, true},
		{"bad port", func(c *Config) { c.Web.Port = 70000 }, true},
		{"disabled web ignores port", func(c *Config) { c.Web.Enabled = false; c.Web.Port = 0 }, false},
		{"bad jpeg quality", func(c *Config) { c.Web.JPEGQuality = 0 }, true},
		{"no virtual cameras", func(c *Config) { c.VirtualCameras.MaxCameras = 0 }, true},
		{"bad positions", func(c *Config) { c.Positions.URL = "" }, true},
		{"bad audio", func(c *Config) { c.Audio.BufferCount = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDerive_CameraPreset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Camera.Device = "/dev/video1"
	cfg.CameraPreset = "2k"
	if err := cfg.Derive(); err != nil {
		t.Fatal(err)
	}
	if cfg.Camera.Width != 2048 || cfg.Video.Resolution.Width != 2048 || cfg.Video.Resolution.Height != 2048 {
		t.Errorf("camera %dx%d, video %v", cfg.Camera.Width, cfg.Camera.Height, cfg.Video.Resolution)
	}
	if cfg.Camera.Device != "/dev/video1" {
		t.Errorf("preset replaced the device: %q", cfg.Camera.Device)
	}

	cfg.CameraPreset = "fisheye-9000"
	if err := cfg.Derive(); err == nil {
		t.Error("expected error for unknown preset")
	}
}
