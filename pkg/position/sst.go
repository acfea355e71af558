package position

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/teslashibe/go-steno/pkg/geometry"
)

// sstFrame is one frame of the localization server's sound source tracking
// output. Each tracked source is a unit vector on the microphone sphere.
type sstFrame struct {
	TimeStamp uint64      `json:"timeStamp"`
	Src       []sstSource `json:"src"`
}

type sstSource struct {
	ID       int     `json:"id"`
	Tag      string  `json:"tag"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	Activity float64 `json:"activity"`
}

// ParseSST decodes one SST frame into source positions. Empty tracking slots
// (id 0) and sources below minActivity are skipped.
func ParseSST(data []byte, minActivity float64) ([]geometry.SourcePosition, error) {
	var frame sstFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decode sst frame: %w", err)
	}

	positions := make([]geometry.SourcePosition, 0, len(frame.Src))
	for _, s := range frame.Src {
		if s.ID == 0 || s.Activity < minActivity {
			continue
		}
		az, el, ok := toSpherical(s.X, s.Y, s.Z)
		if !ok {
			continue
		}
		positions = append(positions, geometry.SourcePosition{
			Azimuth:   az,
			Elevation: el,
			Energy:    s.Activity,
			Timestamp: frame.TimeStamp,
		})
	}
	return positions, nil
}

func toSpherical(x, y, z float64) (azimuth, elevation float64, ok bool) {
	norm := math.Sqrt(x*x + y*y + z*z)
	if norm == 0 {
		return 0, 0, false
	}
	return math.Atan2(y, x), math.Asin(z / norm), true
}
