package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-steno/pkg/audio"
	"github.com/teslashibe/go-steno/pkg/buffer"
	"github.com/teslashibe/go-steno/pkg/classifier"
	"github.com/teslashibe/go-steno/pkg/geometry"
	"github.com/teslashibe/go-steno/pkg/pacing"
	"github.com/teslashibe/go-steno/pkg/queue"
	"github.com/teslashibe/go-steno/pkg/virtualcam"
)

// RenderConfig holds render loop settings.
type RenderConfig struct {
	// FPS is the output frame rate.
	FPS int

	// Resolution is the camera resolution the pipeline was configured for.
	// A camera delivering anything else is fatal.
	Resolution Dim3

	// FOV is the fisheye field of view in radians.
	FOV float64

	// Threshold is the classifier range threshold in radians.
	Threshold float64

	// Labels draws camera labels on the display.
	Labels bool
}

// RenderDeps are the collaborators of the render loop. Positions, Audio and
// AudioSink are optional.
type RenderDeps struct {
	Stream       Stream
	Dewarper     Dewarper
	Factory      ObjectFactory
	Synchronizer Synchronizer
	Consumer     ImageConsumer
	Cameras      *virtualcam.Manager

	// Detections is filled by the detection loop.
	Detections *queue.SPSC[[]geometry.AngleRect]

	// Frames holds the camera frames. The camera writes into its write slot,
	// this loop renders the latest published slot and the detection loop
	// consumes it. Its slots must already be allocated at Resolution.
	Frames *buffer.TripleBuffer[Image]

	Positions PositionReader
	Audio     interface{ TryRead() (*audio.Chunk, bool) }
	AudioSink audio.Sink
}

// RenderStats are counters of the render loop.
type RenderStats struct {
	Frames          uint64       `json:"frames"`
	SkippedFrames   uint64       `json:"skipped_frames"`
	DuplicateFrames uint64       `json:"duplicate_frames"`
	DetectionSets   uint64       `json:"detection_sets"`
	AudioChunks     uint64       `json:"audio_chunks"`
	AudioDropped    uint64       `json:"audio_dropped"`
	Cameras         int          `json:"cameras"`
	Speakers        int          `json:"speakers"`
	Pacing          pacing.Stats `json:"pacing"`
}

// RenderLoop is the video thread: it fuses detections with acoustic
// positions, moves the virtual cameras, dewarps and composes their views,
// hands the display to the consumer, and paces itself to the output frame
// rate.
type RenderLoop struct {
	cfg    RenderConfig
	deps   RenderDeps
	logger *slog.Logger

	pacer   *pacing.Controller
	display *DisplayBuilder
	media   *audio.Synchronizer

	positions []geometry.SourcePosition
	targets   []virtualcam.Target

	frames      atomic.Uint64
	skipped     atomic.Uint64
	duplicates  atomic.Uint64
	detections  atomic.Uint64
	audioChunks atomic.Uint64
	audioDrops  atomic.Uint64

	mu       sync.Mutex
	snapshot []virtualcam.Camera
	pacing   pacing.Stats
}

// NewRenderLoop validates the configuration and collaborators.
func NewRenderLoop(cfg RenderConfig, deps RenderDeps, logger *slog.Logger) (*RenderLoop, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch {
	case deps.Stream == nil, deps.Dewarper == nil, deps.Factory == nil,
		deps.Synchronizer == nil, deps.Consumer == nil, deps.Cameras == nil,
		deps.Detections == nil, deps.Frames == nil:
		return nil, fmt.Errorf("%w: render loop collaborators must not be nil", ErrInvalidConfig)
	case cfg.Resolution.Size() <= 0:
		return nil, fmt.Errorf("%w: resolution %v", ErrInvalidConfig, cfg.Resolution)
	}
	if err := classifier.ValidateThreshold(cfg.Threshold); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	pacer, err := pacing.NewController(cfg.FPS)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	display, err := NewDisplayBuilder(DisplayDim, deps.Cameras.Config().AspectRatio, cfg.Labels)
	if err != nil {
		return nil, err
	}
	if cfg.FOV <= 0 {
		cfg.FOV = math.Pi
	}

	return &RenderLoop{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		pacer:   pacer,
		display: display,
		media:   audio.NewSynchronizer(uint64(pacer.Target())*1000, audio.DefaultMaxPending),
	}, nil
}

// Run renders until ctx is done. A camera resolution other than the
// configured one, or a failure of a collaborator other than device sync,
// ends the loop with an error.
func (r *RenderLoop) Run(ctx context.Context) error {
	res := r.deps.Stream.Resolution()
	if res != r.cfg.Resolution {
		return fmt.Errorf("%w: configured %v, camera delivers %v", ErrResolutionMismatch, r.cfg.Resolution, res)
	}
	lens := NewFisheye(res, r.cfg.FOV)

	var heap HeapObjectFactory
	displays := buffer.NewDualBuffer(NewImage(r.display.Dim()), NewImage(r.display.Dim()))
	if err := AllocateAll(heap, displays.Slots()...); err != nil {
		return fmt.Errorf("allocate display: %w", err)
	}
	for _, d := range displays.Slots() {
		r.display.Clear(d)
	}

	vcImages := make([]Image, MaxVirtualCameras)
	vcPtrs := make([]*Image, len(vcImages))
	for i := range vcImages {
		vcImages[i] = NewImage(r.display.MaxVirtualCameraDim())
		vcPtrs[i] = &vcImages[i]
	}
	if err := AllocateAll(r.deps.Factory, vcPtrs...); err != nil {
		return fmt.Errorf("allocate views: %w", err)
	}
	defer DeallocateAll(r.deps.Factory, vcPtrs...)
	views := make([]Image, 0, MaxVirtualCameras)

	// Prefetch so the first tick has something to render.
	if _, err := r.capture(ctx); err != nil {
		return err
	}

	r.logger.Info("render loop started",
		"fps", r.cfg.FPS,
		"resolution", res.String(),
		"display", r.display.Dim().String(),
	)
	defer func() {
		r.logger.Info("render loop stopped", "frames", r.frames.Load(), "skipped", r.skipped.Load())
	}()

	r.pacer.Start()
	var elapsed time.Duration
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := r.tick(ctx, elapsed, lens, displays, vcImages, views); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		actual, err := r.pacer.Wait(ctx)
		if err != nil {
			return nil
		}
		elapsed = actual

		r.mu.Lock()
		r.pacing = r.pacer.Stats()
		r.mu.Unlock()
	}
}

func (r *RenderLoop) tick(ctx context.Context, elapsed time.Duration, lens Fisheye,
	displays *buffer.DualBuffer[Image], vcImages, views []Image) error {

	if r.deps.Positions != nil {
		if p, ok := r.deps.Positions.TryRead(); ok {
			r.positions = append(r.positions[:0], p...)
		}
	}
	if rects, ok := r.deps.Detections.DrainLatest(); ok {
		r.detections.Add(1)
		r.deps.Cameras.UpdateGoals(r.fuse(rects))
	}
	r.deps.Cameras.Update(elapsed)
	cams := r.deps.Cameras.Cameras()

	if err := r.deps.Synchronizer.Sync(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.skipped.Add(1)
		r.logger.Warn("device sync failed, skipping frame", "error", err)
		r.publish(cams)
		return nil
	}

	if _, err := r.capture(ctx); err != nil {
		return err
	}
	frame := r.deps.Frames.Latest()

	r.renderAudio(ctx)

	n := min(len(cams), MaxVirtualCameras)
	if n > 0 {
		dim := r.display.VirtualCameraDim(n)
		views = views[:0]
		for i := 0; i < n; i++ {
			view := vcImages[i].View(dim.Width, dim.Height)
			params := NewDewarpingParameters(cams[i].Current, lens, dim)
			if err := r.deps.Dewarper.Dewarp(ctx, frame, &view, params); err != nil {
				return fmt.Errorf("dewarp camera %s: %w", cams[i].ID, err)
			}
			views = append(views, view)
		}

		display := displays.Current()
		r.display.Clear(display)
		r.display.Compose(display, views, cams[:n])
		display.Timestamp = frame.Timestamp
		if err := r.deps.Consumer.Consume(display); err != nil {
			return fmt.Errorf("consume display: %w", err)
		}
		displays.Swap()
	}

	r.frames.Add(1)
	r.publish(cams)
	return nil
}

// fuse classifies the latest acoustic positions against the detections and
// marks every detection a source fell into as speaking. Positions are
// consumed: a later detection set without a new batch has no speakers.
func (r *RenderLoop) fuse(rects []geometry.AngleRect) []virtualcam.Target {
	speaking := classifier.Matched(classifier.Classify(r.positions, rects, r.cfg.Threshold))
	r.positions = r.positions[:0]

	r.targets = r.targets[:0]
	for i, rect := range rects {
		r.targets = append(r.targets, virtualcam.Target{Rect: rect, Speaking: speaking[i]})
	}
	return r.targets
}

// capture reads the next camera frame straight into the write slot of the
// frame buffer. A new frame is published, which hands it to the detection
// loop and makes it the frame this loop renders; the payload is never
// copied. Without a new frame the last published slot is rendered again.
func (r *RenderLoop) capture(ctx context.Context) (bool, error) {
	next := r.deps.Frames.WriteSlot()
	fresh, err := r.deps.Stream.Read(ctx, next)
	if err != nil {
		return false, fmt.Errorf("read camera: %w", err)
	}
	if !fresh {
		r.duplicates.Add(1)
		return false, nil
	}
	if err := r.deps.Factory.CopyHostToDevice(next); err != nil {
		return false, fmt.Errorf("copy frame to device: %w", err)
	}
	r.deps.Frames.Publish()
	return true, nil
}

// renderAudio moves assembled chunks into the media synchronizer and writes
// the ones that belong to this frame.
func (r *RenderLoop) renderAudio(ctx context.Context) {
	if r.deps.Audio == nil {
		return
	}
	for {
		c, ok := r.deps.Audio.TryRead()
		if !ok {
			break
		}
		r.media.Push(c)
	}
	r.audioDrops.Store(r.media.Dropped())
	for _, c := range r.media.Frame() {
		r.audioChunks.Add(1)
		if r.deps.AudioSink == nil {
			continue
		}
		if err := r.deps.AudioSink.Write(ctx, c); err != nil && !errors.Is(err, audio.ErrClosed) {
			r.logger.Warn("audio sink write failed", "sink", r.deps.AudioSink.Name(), "error", err)
		}
	}
}

func (r *RenderLoop) publish(cams []virtualcam.Camera) {
	r.mu.Lock()
	r.snapshot = cams
	r.mu.Unlock()
}

// Cameras returns the cameras rendered on the last tick.
func (r *RenderLoop) Cameras() []virtualcam.Camera {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]virtualcam.Camera(nil), r.snapshot...)
}

// Stats returns the render counters. It is safe to call from any goroutine.
func (r *RenderLoop) Stats() RenderStats {
	r.mu.Lock()
	cams := r.snapshot
	p := r.pacing
	r.mu.Unlock()

	speakers := 0
	for _, c := range cams {
		if c.Speaking {
			speakers++
		}
	}
	return RenderStats{
		Frames:          r.frames.Load(),
		SkippedFrames:   r.skipped.Load(),
		DuplicateFrames: r.duplicates.Load(),
		DetectionSets:   r.detections.Load(),
		AudioChunks:     r.audioChunks.Load(),
		AudioDropped:    r.audioDrops.Load(),
		Cameras:         len(cams),
		Speakers:        speakers,
		Pacing:          p,
	}
}
