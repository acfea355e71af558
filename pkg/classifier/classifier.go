// Package classifier fuses acoustic source positions with visual detections
// by angular proximity.
package classifier

import (
	"errors"
	"fmt"
	"math"

	"github.com/teslashibe/go-steno/pkg/geometry"
)

// Unmatched marks a position with no detection within range.
const Unmatched = -1

// DefaultThreshold is the default matching range in radians (about 15°).
const DefaultThreshold = 0.26

// ErrInvalidThreshold is returned by ValidateThreshold.
var ErrInvalidThreshold = errors.New("classifier: invalid threshold")

// ValidateThreshold rejects negative, NaN and infinite thresholds.
func ValidateThreshold(threshold float64) error {
	if threshold < 0 || math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidThreshold, threshold)
	}
	return nil
}

// Classify returns, for each position, the index of the first rectangle (in
// input order) whose angular distance to the position is within threshold,
// or Unmatched. The result always has len(positions) entries. Inputs are not
// modified.
func Classify(positions []geometry.SourcePosition, rects []geometry.AngleRect, threshold float64) []int {
	out := make([]int, len(positions))
	for i, p := range positions {
		out[i] = Unmatched
		for j, r := range rects {
			if r.DistanceTo(p.Azimuth, p.Elevation) <= threshold {
				out[i] = j
				break
			}
		}
	}
	return out
}

// Matched returns the set of rectangle indices that at least one position
// was assigned to.
func Matched(indices []int) map[int]bool {
	m := make(map[int]bool, len(indices))
	for _, idx := range indices {
		if idx != Unmatched {
			m[idx] = true
		}
	}
	return m
}
