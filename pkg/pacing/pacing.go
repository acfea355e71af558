// Package pacing holds the render loop to a target frame rate.
//
// The controller works in whole milliseconds. After each tick it adds
// (target - actual) to the accumulated drift and derives the next tick's
// modified target: the whole drift is absorbed when it is smaller than
// target/6, otherwise the correction saturates at ±target/6 per tick.
package pacing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"
)

// ErrInvalidFPS is returned for a frame rate the controller cannot pace.
var ErrInvalidFPS = errors.New("pacing: fps must be between 1 and 1000")

// DefaultWindow is the number of frame times kept for statistics.
const DefaultWindow = 120

// SleepFunc sleeps for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock and sleep, for tests and replays.
func WithClock(now func() time.Time, sleep SleepFunc) Option {
	return func(c *Controller) {
		c.now = now
		c.sleep = sleep
	}
}

// WithWindow sets how many frame times the statistics cover.
func WithWindow(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.window = make([]float64, 0, n)
		}
	}
}

// Controller is the adaptive frame pacer. It is owned by the render loop
// goroutine.
type Controller struct {
	targetMs   int
	driftMs    int
	modifiedMs int
	lastMs     int

	tickStart time.Time
	started   bool
	frames    uint64

	window []float64
	next   int

	now   func() time.Time
	sleep SleepFunc
}

// NewController creates a controller for fps frames per second.
func NewController(fps int, opts ...Option) (*Controller, error) {
	if fps <= 0 || fps > 1000 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidFPS, fps)
	}
	target := 1000 / fps
	c := &Controller{
		targetMs:   target,
		modifiedMs: target,
		window:     make([]float64, 0, DefaultWindow),
		now:        time.Now,
		sleep:      Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start marks the beginning of the first tick.
func (c *Controller) Start() {
	c.tickStart = c.now()
	c.started = true
}

// Wait ends the current tick: it sleeps for what remains of the modified
// target, starts the next tick and feeds the measured frame time back into
// the drift. It returns the actual frame time. A cancelled ctx interrupts
// the sleep and is returned as the error.
func (c *Controller) Wait(ctx context.Context) (time.Duration, error) {
	if !c.started {
		c.Start()
	}

	elapsed := int(c.now().Sub(c.tickStart).Milliseconds())
	if elapsed < c.modifiedMs {
		if err := c.sleep(ctx, time.Duration(c.modifiedMs-elapsed)*time.Millisecond); err != nil {
			return 0, err
		}
	}

	prev := c.tickStart
	c.tickStart = c.now()
	actual := int(c.tickStart.Sub(prev).Milliseconds())
	c.Observe(actual)
	return time.Duration(actual) * time.Millisecond, nil
}

// Observe feeds one measured frame time (ms) into the controller.
func (c *Controller) Observe(actualMs int) {
	c.lastMs = actualMs
	c.frames++
	c.record(float64(actualMs))

	c.driftMs += c.targetMs - actualMs
	limit := c.targetMs / 6
	if abs(c.driftMs) < limit {
		c.modifiedMs = c.targetMs + c.driftMs
	} else {
		c.modifiedMs = c.targetMs + limit*sign(c.driftMs)
	}
}

// Target returns the target frame time in ms.
func (c *Controller) Target() int { return c.targetMs }

// ModifiedTarget returns the frame time in ms the next tick aims for.
func (c *Controller) ModifiedTarget() int { return c.modifiedMs }

// Drift returns the accumulated drift in ms.
func (c *Controller) Drift() int { return c.driftMs }

// Reset clears drift and statistics, as on a restart.
func (c *Controller) Reset() {
	c.driftMs = 0
	c.modifiedMs = c.targetMs
	c.lastMs = 0
	c.frames = 0
	c.started = false
	c.window = c.window[:0]
	c.next = 0
}

// Stats is a snapshot of the controller state.
type Stats struct {
	TargetMs      int     `json:"target_ms"`
	ModifiedMs    int     `json:"modified_target_ms"`
	DriftMs       int     `json:"drift_ms"`
	LastMs        int     `json:"last_frame_ms"`
	Frames        uint64  `json:"frames"`
	MeanFrameMs   float64 `json:"mean_frame_ms"`
	StdDevFrameMs float64 `json:"stddev_frame_ms"`
}

// Stats returns the current state and the mean and standard deviation of
// recent frame times.
func (c *Controller) Stats() Stats {
	s := Stats{
		TargetMs:   c.targetMs,
		ModifiedMs: c.modifiedMs,
		DriftMs:    c.driftMs,
		LastMs:     c.lastMs,
		Frames:     c.frames,
	}
	switch len(c.window) {
	case 0:
	case 1:
		s.MeanFrameMs = c.window[0]
	default:
		s.MeanFrameMs, s.StdDevFrameMs = stat.MeanStdDev(c.window, nil)
	}
	return s
}

func (c *Controller) record(v float64) {
	if len(c.window) < cap(c.window) {
		c.window = append(c.window, v)
		return
	}
	c.window[c.next] = v
	c.next = (c.next + 1) % len(c.window)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
