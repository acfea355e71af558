// Package dewarp renders virtual camera views out of the fisheye frame with
// OpenCV remapping.
package dewarp

import (
	"context"
	"fmt"
	"image/color"
	"sync"
	"unsafe"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-steno/pkg/video"
)

// DefaultCacheSize is the number of remap tables kept.
const DefaultCacheSize = 2 * video.MaxVirtualCameras

type maps struct {
	x, y gocv.Mat
}

// Remapper is a video.Dewarper backed by cv::remap with bilinear filtering.
// Remap tables are cached per parameter set, so converged cameras cost one
// remap per frame.
type Remapper struct {
	cacheSize int

	mu    sync.Mutex
	cache map[video.DewarpingParameters]maps

	// The fisheye frame is wrapped once per tick and reused for every view.
	src   gocv.Mat
	srcTS uint64
	srcP  *byte
}

// New creates a remapper caching up to cacheSize tables.
func New(cacheSize int) *Remapper {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	return &Remapper{
		cacheSize: cacheSize,
		cache:     make(map[video.DewarpingParameters]maps, cacheSize),
		src:       gocv.NewMat(),
	}
}

// Dewarp renders params from src into dst.
func (r *Remapper) Dewarp(ctx context.Context, src, dst *video.Image, params video.DewarpingParameters) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if src.Channels != dst.Channels {
		return fmt.Errorf("dewarp: %d channels into %d", src.Channels, dst.Channels)
	}
	if params.Width != dst.Width || params.Height != dst.Height {
		return fmt.Errorf("dewarp: parameters for %dx%d, destination %v", params.Width, params.Height, dst.Dim3)
	}
	mt, err := matType(src.Channels)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.wrapSource(src, mt); err != nil {
		return err
	}
	m, err := r.lookup(params)
	if err != nil {
		return err
	}

	out := gocv.NewMat()
	defer out.Close()
	gocv.Remap(r.src, &out, &m.x, &m.y, gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{})

	data, err := out.DataPtrUint8()
	if err != nil {
		return fmt.Errorf("read remap output: %w", err)
	}
	if len(data) != dst.Size() {
		return fmt.Errorf("remap produced %d bytes, want %d", len(data), dst.Size())
	}
	copy(dst.HostData, data)
	dst.Timestamp = src.Timestamp
	return nil
}

func (r *Remapper) wrapSource(src *video.Image, mt gocv.MatType) error {
	p := &src.HostData[0]
	if !r.src.Empty() && r.srcP == p && r.srcTS == src.Timestamp {
		return nil
	}
	m, err := gocv.NewMatFromBytes(src.Height, src.Width, mt, src.HostData)
	if err != nil {
		return fmt.Errorf("wrap fisheye frame: %w", err)
	}
	r.src.Close()
	r.src, r.srcP, r.srcTS = m, p, src.Timestamp
	return nil
}

func (r *Remapper) lookup(params video.DewarpingParameters) (maps, error) {
	if m, ok := r.cache[params]; ok {
		return m, nil
	}
	if len(r.cache) >= r.cacheSize {
		r.flush()
	}

	mapX, mapY := params.Maps()
	x, err := gocv.NewMatFromBytes(params.Height, params.Width, gocv.MatTypeCV32FC1, floatBytes(mapX))
	if err != nil {
		return maps{}, fmt.Errorf("build x map: %w", err)
	}
	y, err := gocv.NewMatFromBytes(params.Height, params.Width, gocv.MatTypeCV32FC1, floatBytes(mapY))
	if err != nil {
		x.Close()
		return maps{}, fmt.Errorf("build y map: %w", err)
	}
	m := maps{x: x, y: y}
	r.cache[params] = m
	return m, nil
}

func (r *Remapper) flush() {
	for k, m := range r.cache {
		m.x.Close()
		m.y.Close()
		delete(r.cache, k)
	}
}

// Cached returns the number of cached remap tables.
func (r *Remapper) Cached() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

// Close releases every OpenCV matrix.
func (r *Remapper) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flush()
	return r.src.Close()
}

func matType(channels int) (gocv.MatType, error) {
	switch channels {
	case 1:
		return gocv.MatTypeCV8UC1, nil
	case 3:
		return gocv.MatTypeCV8UC3, nil
	case 4:
		return gocv.MatTypeCV8UC4, nil
	default:
		return 0, fmt.Errorf("dewarp: unsupported channel count %d", channels)
	}
}

// floatBytes views a float32 slice as its bytes in native order, the layout
// a CV_32F matrix expects.
func floatBytes(f []float32) []byte {
	if len(f) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&f[0])), len(f)*4)
}

var _ video.Dewarper = (*Remapper)(nil)
