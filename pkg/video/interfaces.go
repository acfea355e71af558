package video

import (
	"context"
	"errors"

	"github.com/teslashibe/go-steno/pkg/geometry"
)

var (
	// ErrInvalidConfig is returned for a loop that cannot be built.
	ErrInvalidConfig = errors.New("video: invalid config")

	// ErrResolutionMismatch is returned when the camera does not deliver the
	// configured resolution.
	ErrResolutionMismatch = errors.New("video: camera resolution mismatch")

	// ErrSyncFailed marks a device synchronization failure. The render loop
	// skips the tick.
	ErrSyncFailed = errors.New("video: device sync failed")
)

// Stream reads frames from the fisheye camera.
type Stream interface {
	// Resolution returns the frame size the camera delivers.
	Resolution() Dim3

	// Read fills dst with the newest frame. It returns false, without
	// error and without touching dst, when no new frame is available yet.
	Read(ctx context.Context, dst *Image) (bool, error)

	Close() error
}

// Detector finds objects in a fisheye frame and reports them as angular
// rectangles.
type Detector interface {
	Detect(ctx context.Context, img *Image) ([]geometry.AngleRect, error)
}

// Dewarper renders the region described by params from the fisheye frame
// src into dst.
type Dewarper interface {
	Dewarp(ctx context.Context, src, dst *Image, params DewarpingParameters) error
}

// ObjectFactory owns image memory, on the host and on the device.
type ObjectFactory interface {
	Allocate(img *Image) error
	Deallocate(img *Image)

	// CopyHostToDevice starts a copy of HostData to DeviceData. The copy is
	// complete once the paired Synchronizer returns.
	CopyHostToDevice(img *Image) error
}

// Synchronizer waits for pending device work.
type Synchronizer interface {
	Sync(ctx context.Context) error
}

// ImageConsumer receives every composed display frame. The image is only
// valid during the call.
type ImageConsumer interface {
	Consume(img *Image) error
}

// PositionReader yields the latest acoustic source positions.
type PositionReader interface {
	TryRead() ([]geometry.SourcePosition, bool)
}

// SyncFunc adapts a function to the Synchronizer interface.
type SyncFunc func(ctx context.Context) error

// Sync calls f.
func (f SyncFunc) Sync(ctx context.Context) error {
	return f(ctx)
}

// ConsumerFunc adapts a function to the ImageConsumer interface.
type ConsumerFunc func(img *Image) error

// Consume calls f.
func (f ConsumerFunc) Consume(img *Image) error {
	return f(img)
}
