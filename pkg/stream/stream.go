// Package stream wires the capture, detection, render, position and audio
// threads of the rig into one pipeline with a start/stop lifecycle.
//
// Threads are supervised together: a crash in any of them stops the rest.
// Stop tears the pipeline down clients first (positions, then audio), then
// detection and finally the render thread.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-steno/pkg/audio"
	"github.com/teslashibe/go-steno/pkg/buffer"
	"github.com/teslashibe/go-steno/pkg/classifier"
	"github.com/teslashibe/go-steno/pkg/geometry"
	"github.com/teslashibe/go-steno/pkg/position"
	"github.com/teslashibe/go-steno/pkg/queue"
	"github.com/teslashibe/go-steno/pkg/thread"
	"github.com/teslashibe/go-steno/pkg/video"
	"github.com/teslashibe/go-steno/pkg/virtualcam"
)

var (
	// ErrInvalidState is returned for a lifecycle call the current state
	// does not allow.
	ErrInvalidState = errors.New("stream: invalid state")

	// ErrMissingCollaborator is returned by Build when a required
	// collaborator was not provided.
	ErrMissingCollaborator = errors.New("stream: missing collaborator")
)

// State is the lifecycle state of a Stream.
type State int32

const (
	Stopped State = iota
	Started
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Started:
		return "started"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config holds pipeline settings.
type Config struct {
	// FPS is the output frame rate.
	// Default: 20
	FPS int `yaml:"fps" json:"fps"`

	// Resolution is the camera resolution. A camera delivering anything
	// else stops the pipeline.
	Resolution video.Dim3 `yaml:"resolution" json:"resolution"`

	// FOV is the fisheye field of view in radians.
	// Default: π
	FOV float64 `yaml:"fov" json:"fov"`

	// Threshold is the classifier range threshold in radians.
	// Default: 0.26 (~15°)
	Threshold float64 `yaml:"-" json:"threshold"`

	// Labels draws camera labels on the display.
	Labels bool `yaml:"labels" json:"labels"`

	// DetectionInterval is the pause between two detections.
	DetectionInterval time.Duration `yaml:"detection_interval" json:"detection_interval"`

	// DetectionQueue is the capacity of the detection result queue.
	// Default: 4
	DetectionQueue int `yaml:"detection_queue" json:"detection_queue"`
}

// DefaultConfig returns the rig's defaults.
func DefaultConfig() Config {
	return Config{
		FPS:            20,
		Resolution:     video.Dim3{Width: 1440, Height: 1440, Channels: 3},
		FOV:            math.Pi,
		Threshold:      classifier.DefaultThreshold,
		Labels:         true,
		DetectionQueue: 4,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.FPS <= 0 {
		return fmt.Errorf("%w: fps must be positive, got %d", video.ErrInvalidConfig, c.FPS)
	}
	if c.Resolution.Size() <= 0 || c.Resolution.Channels != 3 {
		return fmt.Errorf("%w: resolution %v", video.ErrInvalidConfig, c.Resolution)
	}
	if c.FOV <= 0 || c.FOV > 2*math.Pi {
		return fmt.Errorf("%w: fov %.3f out of range", video.ErrInvalidConfig, c.FOV)
	}
	if err := classifier.ValidateThreshold(c.Threshold); err != nil {
		return fmt.Errorf("%w: %w", video.ErrInvalidConfig, err)
	}
	if c.DetectionQueue <= 0 {
		return fmt.Errorf("%w: detection_queue must be positive, got %d", video.ErrInvalidConfig, c.DetectionQueue)
	}
	return nil
}

// ChunkDuration is the audio chunk duration matching one output frame.
func ChunkDuration(fps int) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(1000/fps) * time.Millisecond
}

// ThreadStatus is the status of one pipeline thread.
type ThreadStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Stats is a snapshot of the pipeline.
type Stats struct {
	ID        string               `json:"id"`
	State     string               `json:"state"`
	Uptime    time.Duration        `json:"uptime"`
	Threads   []ThreadStatus       `json:"threads"`
	Render    video.RenderStats    `json:"render"`
	Detection video.DetectionStats `json:"detection"`
	Audio     *audio.SourceStats   `json:"audio,omitempty"`
}

// Stream is the running pipeline. It is created by a Builder and can be
// started again after it has stopped.
type Stream struct {
	cfg    Config
	deps   collaborators
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	id         string
	started    time.Time
	supervisor *thread.Supervisor
	render     *video.RenderLoop
	detect     *video.DetectionLoop
	frames     *buffer.TripleBuffer[video.Image]
	cameras    *virtualcam.Manager
}

type collaborators struct {
	camera     video.Stream
	detector   video.Detector
	dewarper   video.Dewarper
	factory    video.ObjectFactory
	sync       video.Synchronizer
	consumer   video.ImageConsumer
	positions  position.Source
	audio      audio.Source
	audioSink  audio.Sink
	virtualCam virtualcam.Config
}

// ID returns the session ID of the current or last run.
func (s *Stream) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// State returns the lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start allocates the shared buffers and launches every thread. It is only
// valid in the Stopped state.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Stopped {
		return fmt.Errorf("%w: start while %s", ErrInvalidState, s.state)
	}

	cameras, err := virtualcam.NewManager(s.deps.virtualCam, s.logger)
	if err != nil {
		return err
	}

	res := s.cfg.Resolution
	frames := buffer.NewTripleBuffer(func(int) video.Image { return video.NewImage(res) })
	if err := video.AllocateAll(s.deps.factory, frames.Slots()...); err != nil {
		return fmt.Errorf("allocate detection frames: %w", err)
	}
	detections := queue.NewSPSC[[]geometry.AngleRect](s.cfg.DetectionQueue)

	render, err := video.NewRenderLoop(video.RenderConfig{
		FPS:        s.cfg.FPS,
		Resolution: res,
		FOV:        s.cfg.FOV,
		Threshold:  s.cfg.Threshold,
		Labels:     s.cfg.Labels,
	}, video.RenderDeps{
		Stream:       s.deps.camera,
		Dewarper:     s.deps.dewarper,
		Factory:      s.deps.factory,
		Synchronizer: s.deps.sync,
		Consumer:     s.deps.consumer,
		Cameras:      cameras,
		Detections:   detections,
		Frames:       frames,
		Positions:    s.deps.positions,
		Audio:        s.deps.audio,
		AudioSink:    s.deps.audioSink,
	}, s.logger.With("component", "render"))
	if err != nil {
		video.DeallocateAll(s.deps.factory, frames.Slots()...)
		return err
	}
	detect, err := video.NewDetectionLoop(video.DetectionConfig{Interval: s.cfg.DetectionInterval},
		frames, s.deps.detector, detections, s.logger.With("component", "detection"))
	if err != nil {
		video.DeallocateAll(s.deps.factory, frames.Slots()...)
		return err
	}

	// Add order is stop order.
	sup := thread.NewSupervisor(s.logger)
	if s.deps.positions != nil {
		sup.Add(thread.New("position", s.deps.positions.Run, s.logger))
	}
	if s.deps.audio != nil {
		sup.Add(thread.New("audio", s.deps.audio.Run, s.logger))
	}
	sup.Add(thread.New("detection", detect.Run, s.logger))
	sup.Add(thread.New("render", render.Run, s.logger))

	if err := sup.Start(ctx); err != nil {
		video.DeallocateAll(s.deps.factory, frames.Slots()...)
		return fmt.Errorf("start threads: %w", err)
	}

	s.id = uuid.NewString()
	s.started = time.Now()
	s.supervisor = sup
	s.render = render
	s.detect = detect
	s.frames = frames
	s.cameras = cameras
	s.state = Started

	s.logger.Info("stream started",
		"id", s.id,
		"fps", s.cfg.FPS,
		"resolution", res.String(),
		"threads", len(sup.Threads()),
	)
	return nil
}

// Stop stops every thread in order and waits for them. Threads that already
// crashed are not joined again. A caller arriving while another Stop is in
// progress waits for the same join. Stopping a stopped stream is a no-op.
func (s *Stream) Stop() error {
	s.mu.Lock()
	switch s.state {
	case Stopped:
		s.mu.Unlock()
		return nil
	case Stopping:
		s.mu.Unlock()
		return s.Join()
	}
	s.state = Stopping
	sup := s.supervisor
	s.mu.Unlock()

	s.logger.Info("stream stopping", "id", s.ID())
	sup.Stop()
	return s.Join()
}

// Join blocks until every thread has returned, then releases the shared
// buffers. It returns the errors of crashed threads.
func (s *Stream) Join() error {
	s.mu.Lock()
	sup := s.supervisor
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	sup.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Stopped {
		video.DeallocateAll(s.deps.factory, s.frames.Slots()...)
		s.state = Stopped
		s.logger.Info("stream stopped", "id", s.id, "uptime", time.Since(s.started).Round(time.Millisecond))
	}
	return sup.Err()
}

// Done is closed once every thread of the current run has returned. It is
// nil before the first Start.
func (s *Stream) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.supervisor == nil {
		return nil
	}
	return s.supervisor.Done()
}

// Err returns the errors of crashed threads of the current run.
func (s *Stream) Err() error {
	s.mu.Lock()
	sup := s.supervisor
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Err()
}

// Cameras returns the virtual cameras rendered on the last tick.
func (s *Stream) Cameras() []virtualcam.Camera {
	s.mu.Lock()
	render := s.render
	s.mu.Unlock()
	if render == nil {
		return nil
	}
	return render.Cameras()
}

// Stats returns a snapshot of the pipeline.
func (s *Stream) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{ID: s.id, State: s.state.String()}
	if s.supervisor == nil {
		return st
	}
	if s.state != Stopped {
		st.Uptime = time.Since(s.started).Round(time.Millisecond)
	}
	for _, t := range s.supervisor.Threads() {
		ts := ThreadStatus{Name: t.Name(), Status: t.Status().String()}
		if err := t.Err(); err != nil {
			ts.Error = err.Error()
		}
		st.Threads = append(st.Threads, ts)
	}
	st.Render = s.render.Stats()
	st.Detection = s.detect.Stats()
	if s.deps.audio != nil {
		as := s.deps.audio.Stats()
		st.Audio = &as
	}
	return st
}
