// Package geometry holds the angular value types shared by the fusion
// pipeline: acoustic source positions and detection rectangles expressed in
// spherical (azimuth, elevation) coordinates around the fisheye center.
package geometry

import "math"

// Radians converts degrees to radians.
func Radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// WrapAngle maps an angle to [-π, π].
func WrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}

// SourcePosition is one acoustic localization estimate.
type SourcePosition struct {
	Azimuth   float64 `json:"azimuth"`   // radians
	Elevation float64 `json:"elevation"` // radians
	Energy    float64 `json:"energy"`
	Timestamp uint64  `json:"timestamp"` // microseconds
}

// AngleRect is a rectangle in angular space: a center plus an angular span
// along each axis. Label and Confidence come from the detector and are not
// interpreted by the fusion layer.
type AngleRect struct {
	Azimuth       float64 `json:"azimuth"`
	Elevation     float64 `json:"elevation"`
	AzimuthSpan   float64 `json:"azimuth_span"`
	ElevationSpan float64 `json:"elevation_span"`

	Label      string  `json:"label,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// MinElevation returns the lower elevation bound.
func (r AngleRect) MinElevation() float64 { return r.Elevation - r.ElevationSpan/2 }

// MaxElevation returns the upper elevation bound.
func (r AngleRect) MaxElevation() float64 { return r.Elevation + r.ElevationSpan/2 }

// StartAzimuth returns the azimuth of the rectangle's first edge, wrapped.
func (r AngleRect) StartAzimuth() float64 { return WrapAngle(r.Azimuth - r.AzimuthSpan/2) }

// EndAzimuth returns the azimuth of the rectangle's second edge, wrapped.
func (r AngleRect) EndAzimuth() float64 { return WrapAngle(r.Azimuth + r.AzimuthSpan/2) }

// DistanceTo returns the angular distance from (azimuth, elevation) to the
// rectangle: 0 inside it, otherwise the planar distance to its nearest edge.
// Azimuth differences are wrapped so the seam at ±π is handled.
func (r AngleRect) DistanceTo(azimuth, elevation float64) float64 {
	dAz := math.Abs(WrapAngle(azimuth-r.Azimuth)) - math.Abs(r.AzimuthSpan)/2
	dEl := math.Abs(elevation-r.Elevation) - math.Abs(r.ElevationSpan)/2
	return math.Hypot(math.Max(0, dAz), math.Max(0, dEl))
}

// Contains reports whether the point lies inside the rectangle.
func (r AngleRect) Contains(azimuth, elevation float64) bool {
	return r.DistanceTo(azimuth, elevation) == 0
}

// CenterDistance returns the planar angular distance between two rectangle
// centers, with the azimuth difference wrapped.
func (r AngleRect) CenterDistance(o AngleRect) float64 {
	return math.Hypot(WrapAngle(o.Azimuth-r.Azimuth), o.Elevation-r.Elevation)
}
