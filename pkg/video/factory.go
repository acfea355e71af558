package video

import (
	"context"
	"fmt"
)

// HeapObjectFactory allocates images in Go memory. Its "device" is a second
// host buffer, so copies complete synchronously.
type HeapObjectFactory struct {
	// HostOnly skips the device mirror.
	HostOnly bool
}

// Allocate sizes HostData, and DeviceData unless HostOnly, for img's
// dimensions.
func (f HeapObjectFactory) Allocate(img *Image) error {
	n := img.Size()
	if n <= 0 {
		return fmt.Errorf("allocate %v: %w", img.Dim3, ErrInvalidConfig)
	}
	img.HostData = make([]byte, n)
	if !f.HostOnly {
		img.DeviceData = make([]byte, n)
	}
	return nil
}

// Deallocate drops the image buffers.
func (f HeapObjectFactory) Deallocate(img *Image) {
	img.HostData = nil
	img.DeviceData = nil
}

// CopyHostToDevice copies HostData into DeviceData.
func (f HeapObjectFactory) CopyHostToDevice(img *Image) error {
	if img.DeviceData == nil {
		return nil
	}
	copy(img.DeviceData, img.HostData)
	return nil
}

// NopSynchronizer has nothing to wait for.
type NopSynchronizer struct{}

// Sync returns ctx.Err().
func (NopSynchronizer) Sync(ctx context.Context) error {
	return ctx.Err()
}

// AllocateAll allocates every image, releasing the ones already allocated
// if one fails.
func AllocateAll(f ObjectFactory, imgs ...*Image) error {
	for i, img := range imgs {
		if err := f.Allocate(img); err != nil {
			DeallocateAll(f, imgs[:i]...)
			return err
		}
	}
	return nil
}

// DeallocateAll releases every image.
func DeallocateAll(f ObjectFactory, imgs ...*Image) {
	for _, img := range imgs {
		f.Deallocate(img)
	}
}
