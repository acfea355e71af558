package virtualcam

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidConfig is returned when a Config fails validation.
var ErrInvalidConfig = errors.New("virtualcam: invalid config")

// Config holds the tunable parameters of the virtual camera manager
type Config struct {
	MaxCameras          int           `yaml:"max_cameras" json:"max_cameras"`                   // Cameras rendered at once
	AssociationDistance float64       `yaml:"association_distance" json:"association_distance"` // Max center distance (radians) to reuse a camera
	TimeConstant        time.Duration `yaml:"time_constant" json:"time_constant"`               // Smoothing time constant toward the goal
	ExpiryGrace         time.Duration `yaml:"expiry_grace" json:"expiry_grace"`                 // How long a camera survives without a target

	// Framing
	AspectRatio    float64 `yaml:"aspect_ratio" json:"aspect_ratio"`         // Azimuth span / elevation span of a goal
	MinElevation   float64 `yaml:"min_elevation" json:"min_elevation"`       // Lowest elevation the lens covers (radians)
	MaxElevation   float64 `yaml:"max_elevation" json:"max_elevation"`       // Highest elevation the lens covers (radians)
	MinAzimuthSpan float64 `yaml:"min_azimuth_span" json:"min_azimuth_span"` // Narrowest framing (radians)
}

// DefaultConfig returns the configuration used by the rig
func DefaultConfig() Config {
	return Config{
		MaxCameras:          5,
		AssociationDistance: 0.5,                    // ~29°
		TimeConstant:        300 * time.Millisecond, // ~63% of the way in 300ms
		ExpiryGrace:         2 * time.Second,

		AspectRatio:    3.0 / 4.0,
		MinElevation:   0,
		MaxElevation:   math.Pi / 2,
		MinAzimuthSpan: 0.35, // ~20°
	}
}

// SmoothConfig returns a configuration with slower, steadier camera motion
func SmoothConfig() Config {
	cfg := DefaultConfig()
	cfg.TimeConstant = 800 * time.Millisecond
	cfg.ExpiryGrace = 4 * time.Second
	return cfg
}

// Validate checks the configuration for values the manager cannot run with.
func (c Config) Validate() error {
	switch {
	case c.MaxCameras <= 0:
		return fmt.Errorf("%w: max_cameras must be positive, got %d", ErrInvalidConfig, c.MaxCameras)
	case c.AssociationDistance < 0:
		return fmt.Errorf("%w: association_distance must not be negative", ErrInvalidConfig)
	case c.TimeConstant <= 0:
		return fmt.Errorf("%w: time_constant must be positive", ErrInvalidConfig)
	case c.ExpiryGrace < 0:
		return fmt.Errorf("%w: expiry_grace must not be negative", ErrInvalidConfig)
	case c.AspectRatio <= 0:
		return fmt.Errorf("%w: aspect_ratio must be positive", ErrInvalidConfig)
	case c.MaxElevation <= c.MinElevation:
		return fmt.Errorf("%w: max_elevation must be greater than min_elevation", ErrInvalidConfig)
	case c.MinAzimuthSpan < 0:
		return fmt.Errorf("%w: min_azimuth_span must not be negative", ErrInvalidConfig)
	}
	return nil
}
