package video

import (
	"context"
	"fmt"
	"math"

	"github.com/teslashibe/go-steno/pkg/geometry"
)

// Fisheye is an equidistant lens model for an upward-facing camera. The
// image center looks at the zenith (elevation π/2); elevation falls linearly
// with the distance from the center and reaches π/2 - FOV/2 at Radius.
// Azimuth is measured from the +x image axis toward +y.
type Fisheye struct {
	CenterX float64 `yaml:"center_x" json:"center_x"`
	CenterY float64 `yaml:"center_y" json:"center_y"`
	Radius  float64 `yaml:"radius" json:"radius"`
	FOV     float64 `yaml:"fov" json:"fov"`
}

// NewFisheye centers the lens circle in a frame of dimensions d.
func NewFisheye(d Dim3, fov float64) Fisheye {
	if fov <= 0 {
		fov = math.Pi
	}
	return Fisheye{
		CenterX: float64(d.Width) / 2,
		CenterY: float64(d.Height) / 2,
		Radius:  float64(min(d.Width, d.Height)) / 2,
		FOV:     fov,
	}
}

// AngleToPixel projects a direction onto the fisheye image.
func (f Fisheye) AngleToPixel(azimuth, elevation float64) (x, y float64) {
	r := f.Radius * (math.Pi/2 - elevation) / (f.FOV / 2)
	return f.CenterX + r*math.Cos(azimuth), f.CenterY + r*math.Sin(azimuth)
}

// PixelToAngle returns the direction seen at image point (x, y).
func (f Fisheye) PixelToAngle(x, y float64) (azimuth, elevation float64) {
	dx, dy := x-f.CenterX, y-f.CenterY
	r := math.Hypot(dx, dy)
	return math.Atan2(dy, dx), math.Pi/2 - r/f.Radius*(f.FOV/2)
}

// BoxToRect converts an axis-aligned pixel box on the fisheye image into the
// angular rectangle that bounds it.
func (f Fisheye) BoxToRect(x, y, w, h float64) geometry.AngleRect {
	cx, cy := x+w/2, y+h/2
	centerAz, _ := f.PixelToAngle(cx, cy)

	// A box over the lens center sees every azimuth.
	if f.CenterX >= x && f.CenterX <= x+w && f.CenterY >= y && f.CenterY <= y+h {
		minEl := math.Pi / 2
		for _, p := range boxSamples(x, y, w, h) {
			_, el := f.PixelToAngle(p[0], p[1])
			minEl = math.Min(minEl, el)
		}
		return geometry.AngleRect{
			Azimuth:       0,
			Elevation:     (minEl + math.Pi/2) / 2,
			AzimuthSpan:   2 * math.Pi,
			ElevationSpan: math.Pi/2 - minEl,
		}
	}

	minAz, maxAz := math.Inf(1), math.Inf(-1)
	minEl, maxEl := math.Inf(1), math.Inf(-1)
	for _, p := range boxSamples(x, y, w, h) {
		az, el := f.PixelToAngle(p[0], p[1])
		d := geometry.WrapAngle(az - centerAz)
		minAz, maxAz = math.Min(minAz, d), math.Max(maxAz, d)
		minEl, maxEl = math.Min(minEl, el), math.Max(maxEl, el)
	}
	return geometry.AngleRect{
		Azimuth:       geometry.WrapAngle(centerAz + (minAz+maxAz)/2),
		Elevation:     (minEl + maxEl) / 2,
		AzimuthSpan:   maxAz - minAz,
		ElevationSpan: maxEl - minEl,
	}
}

// boxSamples returns points along the box outline, where the angular
// extremes of a box not covering the lens center lie.
func boxSamples(x, y, w, h float64) [][2]float64 {
	const steps = 4
	pts := make([][2]float64, 0, 4*steps)
	for i := 0; i < steps; i++ {
		t := float64(i) / steps
		pts = append(pts,
			[2]float64{x + t*w, y},
			[2]float64{x + w, y + t*h},
			[2]float64{x + w - t*w, y + h},
			[2]float64{x, y + h - t*h},
		)
	}
	return pts
}

// DewarpingParameters map the pixels of a dewarped view of Width x Height
// onto the fisheye frame. Columns sweep the rectangle's azimuth span; rows
// go from its top elevation down to its bottom elevation.
type DewarpingParameters struct {
	Rect    geometry.AngleRect
	Fisheye Fisheye
	Width   int
	Height  int
}

// NewDewarpingParameters builds the parameters for rendering rect into an
// image of dimensions out.
func NewDewarpingParameters(rect geometry.AngleRect, lens Fisheye, out Dim3) DewarpingParameters {
	return DewarpingParameters{Rect: rect, Fisheye: lens, Width: out.Width, Height: out.Height}
}

// Source returns the fisheye pixel sampled for view point (u, v).
func (p DewarpingParameters) Source(u, v float64) (x, y float64) {
	az := p.Rect.Azimuth - p.Rect.AzimuthSpan/2 + u/float64(p.Width)*p.Rect.AzimuthSpan
	el := p.Rect.MaxElevation() - v/float64(p.Height)*p.Rect.ElevationSpan
	return p.Fisheye.AngleToPixel(az, el)
}

// Maps returns per-pixel source coordinates in row-major order, the layout
// remap functions expect.
func (p DewarpingParameters) Maps() (mapX, mapY []float32) {
	n := p.Width * p.Height
	mapX, mapY = make([]float32, n), make([]float32, n)
	for v := 0; v < p.Height; v++ {
		for u := 0; u < p.Width; u++ {
			x, y := p.Source(float64(u)+0.5, float64(v)+0.5)
			mapX[v*p.Width+u] = float32(x)
			mapY[v*p.Width+u] = float32(y)
		}
	}
	return mapX, mapY
}

// PolarDewarper samples the fisheye frame with nearest-neighbour lookup on
// the host. Pixels that fall outside the frame are black.
type PolarDewarper struct{}

// Dewarp renders params from src into dst.
func (PolarDewarper) Dewarp(ctx context.Context, src, dst *Image, params DewarpingParameters) error {
	if src.Channels != dst.Channels {
		return fmt.Errorf("dewarp: %d channels into %d", src.Channels, dst.Channels)
	}
	if params.Width != dst.Width || params.Height != dst.Height {
		return fmt.Errorf("dewarp: parameters for %dx%d, destination %v", params.Width, params.Height, dst.Dim3)
	}

	ch := src.Channels
	for v := 0; v < dst.Height; v++ {
		if v%64 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		row := dst.HostData[v*dst.Width*ch : (v+1)*dst.Width*ch]
		for u := 0; u < dst.Width; u++ {
			x, y := params.Source(float64(u)+0.5, float64(v)+0.5)
			xi, yi := int(math.Floor(x)), int(math.Floor(y))
			out := row[u*ch : u*ch+ch]
			if xi < 0 || yi < 0 || xi >= src.Width || yi >= src.Height {
				clear(out)
				continue
			}
			off := (yi*src.Width + xi) * ch
			copy(out, src.HostData[off:off+ch])
		}
	}
	dst.Timestamp = src.Timestamp
	return nil
}
