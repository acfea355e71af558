// Package config loads the go-steno configuration from a YAML file with
// STENO_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-steno/pkg/audio"
	"github.com/teslashibe/go-steno/pkg/audio/playback"
	"github.com/teslashibe/go-steno/pkg/audio/webrtcsink"
	"github.com/teslashibe/go-steno/pkg/classifier"
	"github.com/teslashibe/go-steno/pkg/detection"
	"github.com/teslashibe/go-steno/pkg/position"
	"github.com/teslashibe/go-steno/pkg/stream"
	"github.com/teslashibe/go-steno/pkg/video/capture"
	"github.com/teslashibe/go-steno/pkg/virtualcam"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STENO_"

// Config is the complete configuration.
type Config struct {
	// Mock replaces the camera, detector, positions and audio with
	// synthetic sources.
	Mock bool `yaml:"mock"`

	// CameraPreset applies a named capture mode to Camera and sets the
	// video resolution to match.
	CameraPreset string `yaml:"camera_preset"`

	Video          stream.Config     `yaml:"video"`
	Camera         capture.Config    `yaml:"camera"`
	Audio          audio.Config      `yaml:"audio"`
	Positions      position.Config   `yaml:"positions"`
	Classifier     ClassifierConfig  `yaml:"classifier"`
	VirtualCameras virtualcam.Config `yaml:"virtual_cameras"`
	Detection      detection.Config  `yaml:"detection"`
	Output         OutputConfig      `yaml:"output"`
	Web            WebConfig         `yaml:"web"`
}

// ClassifierConfig holds the fusion settings.
type ClassifierConfig struct {
	// Threshold is how far (radians) outside a detection a source may lie
	// and still match it.
	Threshold float64 `yaml:"threshold"`
}

// OutputConfig selects where audio goes.
type OutputConfig struct {
	Playback        bool              `yaml:"playback"`
	PlaybackOptions playback.Config   `yaml:"playback_options"`
	WebRTC          bool              `yaml:"webrtc"`
	WebRTCOptions   webrtcsink.Config `yaml:"webrtc_options"`

	// RawFile appends raw PCM to this path when set.
	RawFile string `yaml:"raw_file"`
}

// WebConfig holds the preview server settings.
type WebConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`

	// StatusInterval is the period of /ws/status updates.
	StatusInterval time.Duration `yaml:"status_interval"`

	// JPEGQuality of the /ws/display preview.
	JPEGQuality int `yaml:"jpeg_quality"`
}

// DefaultConfig returns the rig's defaults.
func DefaultConfig() Config {
	cfg := Config{
		Video:          stream.DefaultConfig(),
		Camera:         capture.DefaultConfig(),
		Audio:          audio.DefaultConfig(),
		Positions:      position.DefaultConfig(),
		Classifier:     ClassifierConfig{Threshold: classifier.DefaultThreshold},
		VirtualCameras: virtualcam.DefaultConfig(),
		Detection:      detection.DefaultConfig(),
		Output: OutputConfig{
			PlaybackOptions: playback.DefaultConfig(),
			WebRTCOptions:   webrtcsink.DefaultConfig(),
		},
		Web: WebConfig{
			Enabled:        true,
			Port:           8181,
			StatusInterval: 500 * time.Millisecond,
			JPEGQuality:    75,
		},
	}
	cfg.Audio.ChunkDuration = stream.ChunkDuration(cfg.Video.FPS)
	return cfg
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Derive(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overrides fields from STENO_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}
	flag := func(name string, dst *bool) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
		return nil
	}

	str("CAMERA", &c.Camera.Device)
	str("CAMERA_PRESET", &c.CameraPreset)
	str("MODEL", &c.Detection.ModelPath)
	str("POSITIONS_URL", &c.Positions.URL)
	str("AUDIO_ADDRESS", &c.Audio.Address)
	str("RAW_FILE", &c.Output.RawFile)
	return errors.Join(
		num("FPS", &c.Video.FPS),
		num("WEB_PORT", &c.Web.Port),
		flag("MOCK", &c.Mock),
		flag("WEBRTC", &c.Output.WebRTC),
		flag("PLAYBACK", &c.Output.Playback),
	)
}

// Derive fills the fields that follow from others: a camera preset sets the
// video resolution, the audio chunk lasts one output frame, the detector
// shares the lens, and mock mode switches the sources to their mock
// backends.
func (c *Config) Derive() error {
	if c.CameraPreset != "" {
		cam, err := capture.ApplyPreset(c.Camera, c.CameraPreset)
		if err != nil {
			return fmt.Errorf("camera: %w", err)
		}
		c.Camera = cam
		c.Video.Resolution.Width = cam.Width
		c.Video.Resolution.Height = cam.Height
	}
	c.Audio.ChunkDuration = stream.ChunkDuration(c.Video.FPS)
	c.Detection.FOV = c.Video.FOV
	if c.Mock {
		c.Audio.Backend = audio.BackendMock
		c.Positions.Backend = position.BackendMock
	}
	return nil
}

// Stream returns the pipeline configuration.
func (c *Config) Stream() stream.Config {
	s := c.Video
	s.Threshold = c.Classifier.Threshold
	return s
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Stream().Validate(); err != nil {
		return fmt.Errorf("video: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	if err := c.Positions.Validate(); err != nil {
		return fmt.Errorf("positions: %w", err)
	}
	if err := c.VirtualCameras.Validate(); err != nil {
		return fmt.Errorf("virtual_cameras: %w", err)
	}
	if !c.Mock {
		if c.Camera.Device == "" {
			return errors.New("camera: device is required")
		}
		if err := c.Detection.Validate(); err != nil {
			return fmt.Errorf("detection: %w", err)
		}
	}
	if c.Web.Enabled && (c.Web.Port <= 0 || c.Web.Port > 65535) {
		return fmt.Errorf("web: port %d out of range", c.Web.Port)
	}
	if c.Web.JPEGQuality < 1 || c.Web.JPEGQuality > 100 {
		return fmt.Errorf("web: jpeg_quality %d out of range", c.Web.JPEGQuality)
	}
	return nil
}
