package video

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-steno/pkg/buffer"
	"github.com/teslashibe/go-steno/pkg/geometry"
	"github.com/teslashibe/go-steno/pkg/pacing"
	"github.com/teslashibe/go-steno/pkg/queue"
)

// DetectionConfig holds detection loop settings.
type DetectionConfig struct {
	// Interval is the pause between two detections.
	// Default: 0 (detect as fast as frames arrive)
	Interval time.Duration

	// Idle is the poll period while no new frame is published.
	// Default: 5ms
	Idle time.Duration
}

// DetectionStats are counters of the detection loop.
type DetectionStats struct {
	Runs       uint64        `json:"runs"`
	Objects    uint64        `json:"objects"`
	Dropped    uint64        `json:"dropped"`
	LastTookMs int64         `json:"last_took_ms"`
	Interval   time.Duration `json:"interval"`
}

// DetectionLoop is the detection thread: it takes the newest published
// camera frame, runs the detector on it and queues the rectangles for the
// render loop.
type DetectionLoop struct {
	cfg      DetectionConfig
	frames   *buffer.TripleBuffer[Image]
	detector Detector
	out      *queue.SPSC[[]geometry.AngleRect]
	logger   *slog.Logger

	runs     atomic.Uint64
	objects  atomic.Uint64
	dropped  atomic.Uint64
	lastTook atomic.Int64
}

// NewDetectionLoop creates a detection loop consuming frames and producing
// into out.
func NewDetectionLoop(cfg DetectionConfig, frames *buffer.TripleBuffer[Image], detector Detector,
	out *queue.SPSC[[]geometry.AngleRect], logger *slog.Logger) (*DetectionLoop, error) {
	if frames == nil || detector == nil || out == nil {
		return nil, fmt.Errorf("%w: detection loop collaborators must not be nil", ErrInvalidConfig)
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("%w: detection interval must not be negative", ErrInvalidConfig)
	}
	if cfg.Idle <= 0 {
		cfg.Idle = 5 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DetectionLoop{cfg: cfg, frames: frames, detector: detector, out: out, logger: logger}, nil
}

// Run detects until ctx is done. A detector error ends the loop.
func (d *DetectionLoop) Run(ctx context.Context) error {
	d.logger.Info("detection loop started", "interval", d.cfg.Interval)
	defer func() {
		d.logger.Info("detection loop stopped", "runs", d.runs.Load())
	}()

	for ctx.Err() == nil {
		if !d.frames.Swap() {
			if err := pacing.Sleep(ctx, d.cfg.Idle); err != nil {
				return nil
			}
			continue
		}

		start := time.Now()
		rects, err := d.detector.Detect(ctx, d.frames.Current())
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("detect: %w", err)
		}
		d.lastTook.Store(time.Since(start).Milliseconds())
		d.runs.Add(1)
		d.objects.Add(uint64(len(rects)))

		if !d.out.TryEnqueue(rects) {
			d.dropped.Add(1)
			d.logger.Debug("detection queue full, dropping result")
		}

		if d.cfg.Interval > 0 {
			if err := pacing.Sleep(ctx, d.cfg.Interval); err != nil {
				return nil
			}
		}
	}
	return nil
}

// Stats returns the detection counters.
func (d *DetectionLoop) Stats() DetectionStats {
	return DetectionStats{
		Runs:       d.runs.Load(),
		Objects:    d.objects.Load(),
		Dropped:    d.dropped.Load(),
		LastTookMs: d.lastTook.Load(),
		Interval:   d.cfg.Interval,
	}
}
