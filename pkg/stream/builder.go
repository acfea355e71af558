package stream

import (
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-steno/pkg/audio"
	"github.com/teslashibe/go-steno/pkg/position"
	"github.com/teslashibe/go-steno/pkg/video"
	"github.com/teslashibe/go-steno/pkg/virtualcam"
)

// Builder collects the collaborators of a Stream. The camera and the
// detector are required; everything else has a default or is optional.
type Builder struct {
	cfg    Config
	deps   collaborators
	logger *slog.Logger
}

// NewBuilder starts a Builder for cfg.
func NewBuilder(cfg Config, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		cfg:    cfg,
		logger: logger,
		deps:   collaborators{virtualCam: virtualcam.DefaultConfig()},
	}
}

// WithCamera sets the camera stream.
func (b *Builder) WithCamera(s video.Stream) *Builder {
	b.deps.camera = s
	return b
}

// WithDetector sets the object detector.
func (b *Builder) WithDetector(d video.Detector) *Builder {
	b.deps.detector = d
	return b
}

// WithDewarper replaces the default polar dewarper.
func (b *Builder) WithDewarper(d video.Dewarper) *Builder {
	b.deps.dewarper = d
	return b
}

// WithDevice sets the object factory and synchronizer of the compute
// device. The default is host memory with nothing to wait for.
func (b *Builder) WithDevice(f video.ObjectFactory, s video.Synchronizer) *Builder {
	b.deps.factory = f
	b.deps.sync = s
	return b
}

// WithConsumer sets where composed displays go.
func (b *Builder) WithConsumer(c video.ImageConsumer) *Builder {
	b.deps.consumer = c
	return b
}

// WithPositions sets the acoustic position source.
func (b *Builder) WithPositions(p position.Source) *Builder {
	b.deps.positions = p
	return b
}

// WithAudio sets the audio source and the sink its chunks are written to.
// The sink may be nil.
func (b *Builder) WithAudio(src audio.Source, sink audio.Sink) *Builder {
	b.deps.audio = src
	b.deps.audioSink = sink
	return b
}

// WithVirtualCameras sets the virtual camera configuration.
func (b *Builder) WithVirtualCameras(cfg virtualcam.Config) *Builder {
	b.deps.virtualCam = cfg
	return b
}

// Build validates the configuration and returns a stopped Stream.
func (b *Builder) Build() (*Stream, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}
	if err := b.deps.virtualCam.Validate(); err != nil {
		return nil, err
	}
	if b.deps.camera == nil {
		return nil, fmt.Errorf("%w: camera", ErrMissingCollaborator)
	}
	if b.deps.detector == nil {
		return nil, fmt.Errorf("%w: detector", ErrMissingCollaborator)
	}
	if res := b.deps.camera.Resolution(); res != b.cfg.Resolution {
		return nil, fmt.Errorf("%w: configured %v, camera delivers %v", video.ErrResolutionMismatch, b.cfg.Resolution, res)
	}

	deps := b.deps
	if deps.dewarper == nil {
		deps.dewarper = video.PolarDewarper{}
	}
	if deps.factory == nil {
		deps.factory = video.HeapObjectFactory{}
	}
	if deps.sync == nil {
		deps.sync = video.NopSynchronizer{}
	}
	if deps.consumer == nil {
		deps.consumer = video.ConsumerFunc(func(*video.Image) error { return nil })
	}

	return &Stream{
		cfg:    b.cfg,
		deps:   deps,
		logger: b.logger.With("component", "stream"),
		state:  Stopped,
	}, nil
}
