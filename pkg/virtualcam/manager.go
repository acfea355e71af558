// Package virtualcam tracks the set of virtual cameras rendered from the
// panoramic frame. Each camera has a goal (where fusion wants it) and a
// current framing (what is rendered); current only ever moves toward the goal
// in time-proportional steps so flickering detections never cause jumps.
package virtualcam

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-steno/pkg/geometry"
)

// State is the lifecycle state of a virtual camera.
type State int

const (
	// Inactive cameras are not tracked; a removed camera is Inactive.
	Inactive State = iota
	// Active cameras have a target this update.
	Active
	// Expiring cameras lost their target and count down to removal.
	Expiring
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Expiring:
		return "expiring"
	default:
		return "inactive"
	}
}

// Camera is one virtual camera.
type Camera struct {
	ID        string             `json:"id"`
	Current   geometry.AngleRect `json:"current"`
	Goal      geometry.AngleRect `json:"goal"`
	State     State              `json:"-"`
	Speaking  bool               `json:"speaking"`
	Age       time.Duration      `json:"age"`
	ExpiresIn time.Duration      `json:"expires_in,omitempty"` // only meaningful while Expiring
}

// Target is one fused target handed to UpdateGoals.
type Target struct {
	Rect     geometry.AngleRect
	Speaking bool
}

// Manager owns the live virtual cameras. It is driven by the render loop and
// is not safe for concurrent use.
type Manager struct {
	cfg     Config
	logger  *slog.Logger
	cameras []*Camera
}

// NewManager creates a manager. A nil logger uses slog.Default().
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		logger:  logger,
		cameras: make([]*Camera, 0, cfg.MaxCameras),
	}, nil
}

// Config returns the manager configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

type association struct {
	camera, target int
	dist           float64
}

// UpdateGoals associates each target with the nearest live camera within
// AssociationDistance (closest pairs first). Matched cameras take the target
// as their new goal and become Active. Unmatched targets each create one new
// Active camera while fewer than MaxCameras exist. Active cameras left
// without a target start expiring.
func (m *Manager) UpdateGoals(targets []Target) {
	var pairs []association
	for ci, c := range m.cameras {
		for ti, t := range targets {
			if d := c.Goal.CenterDistance(t.Rect); d <= m.cfg.AssociationDistance {
				pairs = append(pairs, association{camera: ci, target: ti, dist: d})
			}
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].dist < pairs[j].dist })

	cameraUsed := make([]bool, len(m.cameras))
	targetUsed := make([]bool, len(targets))
	for _, p := range pairs {
		if cameraUsed[p.camera] || targetUsed[p.target] {
			continue
		}
		cameraUsed[p.camera] = true
		targetUsed[p.target] = true

		c := m.cameras[p.camera]
		c.Goal = m.fit(targets[p.target].Rect)
		c.Speaking = targets[p.target].Speaking
		c.State = Active
		c.ExpiresIn = 0
	}

	for ci, c := range m.cameras {
		if cameraUsed[ci] || c.State == Expiring {
			continue
		}
		c.State = Expiring
		c.Speaking = false
		c.ExpiresIn = m.cfg.ExpiryGrace
	}

	for ti, t := range targets {
		if targetUsed[ti] {
			continue
		}
		if len(m.cameras) >= m.cfg.MaxCameras {
			break
		}
		goal := m.fit(t.Rect)
		c := &Camera{
			ID:       uuid.NewString(),
			Current:  goal,
			Goal:     goal,
			State:    Active,
			Speaking: t.Speaking,
		}
		m.cameras = append(m.cameras, c)
		m.logger.Debug("virtual camera created",
			"id", c.ID,
			"azimuth", geometry.Degrees(goal.Azimuth),
			"elevation", geometry.Degrees(goal.Elevation))
	}
}

// Update advances every camera toward its goal by
// alpha = 1 - exp(-elapsed/TimeConstant), then counts down expiring cameras
// and removes those whose grace period has run out.
func (m *Manager) Update(elapsed time.Duration) {
	if elapsed < 0 {
		elapsed = 0
	}
	alpha := 1 - math.Exp(-float64(elapsed)/float64(m.cfg.TimeConstant))

	kept := m.cameras[:0]
	for _, c := range m.cameras {
		c.Age += elapsed
		c.advance(alpha)
		if c.State == Expiring {
			c.ExpiresIn -= elapsed
			if c.ExpiresIn <= 0 {
				c.State = Inactive
				m.logger.Debug("virtual camera removed", "id", c.ID, "age", c.Age)
				continue
			}
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(m.cameras); i++ {
		m.cameras[i] = nil
	}
	m.cameras = kept
}

// Cameras returns a snapshot of the Active cameras in creation order.
// Expiring cameras keep counting down but are not part of it.
func (m *Manager) Cameras() []Camera {
	out := make([]Camera, 0, len(m.cameras))
	for _, c := range m.cameras {
		if c.State == Active {
			out = append(out, *c)
		}
	}
	return out
}

// Len returns the number of live cameras, Active and Expiring.
func (m *Manager) Len() int {
	return len(m.cameras)
}

// Reset drops every camera.
func (m *Manager) Reset() {
	for i := range m.cameras {
		m.cameras[i] = nil
	}
	m.cameras = m.cameras[:0]
}

func (c *Camera) advance(alpha float64) {
	cur, goal := &c.Current, c.Goal
	cur.Azimuth = geometry.WrapAngle(cur.Azimuth + alpha*geometry.WrapAngle(goal.Azimuth-cur.Azimuth))
	cur.Elevation += alpha * (goal.Elevation - cur.Elevation)
	cur.AzimuthSpan += alpha * (goal.AzimuthSpan - cur.AzimuthSpan)
	cur.ElevationSpan += alpha * (goal.ElevationSpan - cur.ElevationSpan)
	cur.Label = goal.Label
	cur.Confidence = goal.Confidence
}

// fit grows the target to the configured aspect ratio and keeps it inside
// the elevation band covered by the lens.
func (m *Manager) fit(r geometry.AngleRect) geometry.AngleRect {
	azSpan := math.Max(math.Abs(r.AzimuthSpan), m.cfg.MinAzimuthSpan)
	elSpan := math.Abs(r.ElevationSpan)

	if elSpan*m.cfg.AspectRatio < azSpan {
		elSpan = azSpan / m.cfg.AspectRatio
	} else {
		azSpan = elSpan * m.cfg.AspectRatio
	}

	band := m.cfg.MaxElevation - m.cfg.MinElevation
	if elSpan > band {
		elSpan = band
		azSpan = elSpan * m.cfg.AspectRatio
	}
	azSpan = math.Min(azSpan, 2*math.Pi)

	el := r.Elevation
	el = math.Max(el, m.cfg.MinElevation+elSpan/2)
	el = math.Min(el, m.cfg.MaxElevation-elSpan/2)

	r.Azimuth = geometry.WrapAngle(r.Azimuth)
	r.Elevation = el
	r.AzimuthSpan = azSpan
	r.ElevationSpan = elSpan
	return r
}
