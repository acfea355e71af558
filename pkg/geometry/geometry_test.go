package geometry

import (
	"math"
	"testing"
)

const eps = 1e-9

func TestWrapAngle(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"zero", 0, 0},
		{"small positive", 1, 1},
		{"just past pi", math.Pi + 0.1, -math.Pi + 0.1},
		{"just below minus pi", -math.Pi - 0.1, math.Pi - 0.1},
		{"full turn", 2 * math.Pi, 0},
		{"several turns", 5*math.Pi + 0.5, -math.Pi + 0.5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := WrapAngle(tc.in); math.Abs(got-tc.want) > eps {
				t.Errorf("WrapAngle(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestAngleRect_DistanceTo(t *testing.T) {
	r := AngleRect{Azimuth: 0, Elevation: 0, AzimuthSpan: Radians(20), ElevationSpan: Radians(20)}

	tests := []struct {
		name   string
		az, el float64
		want   float64
	}{
		{"center", 0, 0, 0},
		{"on edge", Radians(10), 0, 0},
		{"right of rect", Radians(25), 0, Radians(15)},
		{"above rect", 0, Radians(13), Radians(3)},
		{"corner", Radians(13), Radians(14), math.Hypot(Radians(3), Radians(4))},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := r.DistanceTo(tc.az, tc.el); math.Abs(got-tc.want) > eps {
				t.Errorf("DistanceTo(%v, %v) = %v, want %v", tc.az, tc.el, got, tc.want)
			}
		})
	}
}

func TestAngleRect_DistanceAcrossSeam(t *testing.T) {
	r := AngleRect{Azimuth: math.Pi - Radians(5), AzimuthSpan: Radians(20), ElevationSpan: Radians(10)}

	// -178° is 7° away from the center across the ±180° seam, inside the span.
	if d := r.DistanceTo(Radians(-178), 0); d != 0 {
		t.Errorf("expected point across the seam to be inside, distance = %v", d)
	}
	if !r.Contains(math.Pi, 0) {
		t.Error("expected pi to be inside the rectangle")
	}
}

func TestAngleRect_Bounds(t *testing.T) {
	r := AngleRect{Azimuth: 1, Elevation: 0.5, AzimuthSpan: 0.4, ElevationSpan: 0.2}

	if math.Abs(r.MinElevation()-0.4) > eps || math.Abs(r.MaxElevation()-0.6) > eps {
		t.Errorf("elevation bounds = [%v, %v], want [0.4, 0.6]", r.MinElevation(), r.MaxElevation())
	}
	if math.Abs(r.StartAzimuth()-0.8) > eps || math.Abs(r.EndAzimuth()-1.2) > eps {
		t.Errorf("azimuth bounds = [%v, %v], want [0.8, 1.2]", r.StartAzimuth(), r.EndAzimuth())
	}
}
