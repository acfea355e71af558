package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/teslashibe/go-steno/internal/config"
	"github.com/teslashibe/go-steno/pkg/audio"
	"github.com/teslashibe/go-steno/pkg/audio/playback"
	"github.com/teslashibe/go-steno/pkg/audio/webrtcsink"
	"github.com/teslashibe/go-steno/pkg/detection"
	"github.com/teslashibe/go-steno/pkg/dewarp"
	"github.com/teslashibe/go-steno/pkg/geometry"
	"github.com/teslashibe/go-steno/pkg/position"
	"github.com/teslashibe/go-steno/pkg/stream"
	"github.com/teslashibe/go-steno/pkg/video"
	"github.com/teslashibe/go-steno/pkg/video/capture"
	"github.com/teslashibe/go-steno/pkg/web"
)

// run builds the pipeline from cfg and runs it until ctx is done or a
// thread crashes.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) (err error) {
	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if cerr := closers[i].Close(); cerr != nil {
				logger.Warn("close failed", "error", cerr)
			}
		}
	}()

	camera, err := openCamera(cfg, logger)
	if err != nil {
		return err
	}
	closers = append(closers, camera)

	detector, err := openDetector(cfg)
	if err != nil {
		return err
	}
	if c, ok := detector.(io.Closer); ok {
		closers = append(closers, c)
	}

	remapper := dewarp.New(dewarp.DefaultCacheSize)
	closers = append(closers, remapper)

	positions, err := position.NewSource(cfg.Positions, logger)
	if err != nil {
		return fmt.Errorf("position source: %w", err)
	}
	audioSrc, err := audio.NewSource(cfg.Audio, logger.With("component", "audio"))
	if err != nil {
		return fmt.Errorf("audio source: %w", err)
	}

	sink, rtc, err := openSinks(cfg, audioSrc.Format(), logger)
	if err != nil {
		return err
	}
	if sink != nil {
		closers = append(closers, sink)
	}

	var srv *web.Server
	consumer := video.ConsumerFunc(func(img *video.Image) error {
		if srv == nil {
			return nil
		}
		return srv.Consume(img)
	})

	b := stream.NewBuilder(cfg.Stream(), logger).
		WithCamera(camera).
		WithDetector(detector).
		WithDewarper(remapper).
		WithConsumer(consumer).
		WithPositions(positions).
		WithAudio(audioSrc, sink).
		WithVirtualCameras(cfg.VirtualCameras)
	st, err := b.Build()
	if err != nil {
		return err
	}

	if cfg.Web.Enabled {
		var offers web.OfferHandler
		if rtc != nil {
			offers = rtc
		}
		srv = web.NewServer(web.Config{
			Port:           cfg.Web.Port,
			StatusInterval: cfg.Web.StatusInterval,
			JPEGQuality:    cfg.Web.JPEGQuality,
		}, st, offers, logger)
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("web server stopped", "error", err)
			}
		}()
	}

	if mock, ok := positions.(*position.MockSource); ok && cfg.Mock {
		go feedPositions(ctx, mock)
	}

	if err := st.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return st.Stop()
	case <-st.Done():
		return st.Join()
	}
}

func openCamera(cfg *config.Config, logger *slog.Logger) (video.Stream, error) {
	if cfg.Mock {
		return video.NewMockStream(cfg.Video.Resolution), nil
	}
	cam, err := capture.Open(cfg.Camera, logger.With("component", "camera"))
	if err != nil {
		return nil, err
	}
	return cam, nil
}

func openDetector(cfg *config.Config) (video.Detector, error) {
	if cfg.Mock {
		return &video.MockDetector{Rects: mockRects}, nil
	}
	d, err := detection.New(cfg.Detection)
	if err != nil {
		return nil, fmt.Errorf("detector: %w", err)
	}
	return d, nil
}

// openSinks opens the configured audio outputs. It returns the combined
// sink, or nil when no output is enabled, and the WebRTC sink when enabled.
func openSinks(cfg *config.Config, format audio.Format, logger *slog.Logger) (audio.Sink, *webrtcsink.Sink, error) {
	var (
		sinks []audio.Sink
		rtc   *webrtcsink.Sink
		errs  []error
	)
	if cfg.Output.Playback {
		p, err := playback.New(cfg.Output.PlaybackOptions, format, logger.With("component", "playback"))
		if err != nil {
			errs = append(errs, fmt.Errorf("playback: %w", err))
		} else {
			sinks = append(sinks, p)
		}
	}
	if cfg.Output.WebRTC {
		s, err := webrtcsink.New(cfg.Output.WebRTCOptions, format, logger.With("component", "webrtc"))
		if err != nil {
			errs = append(errs, fmt.Errorf("webrtc: %w", err))
		} else {
			rtc = s
			sinks = append(sinks, s)
		}
	}
	if cfg.Output.RawFile != "" {
		f, err := audio.NewRawFileSink(cfg.Output.RawFile, logger.With("component", "rawfile"))
		if err != nil {
			errs = append(errs, err)
		} else {
			sinks = append(sinks, f)
		}
	}

	if err := errors.Join(errs...); err != nil {
		for _, s := range sinks {
			s.Close()
		}
		return nil, nil, err
	}
	if len(sinks) == 0 {
		return nil, nil, nil
	}
	return audio.NewMultiSink(sinks...), rtc, nil
}

// mockRects are two people sitting across the table from the rig.
var mockRects = []geometry.AngleRect{
	{Azimuth: -math.Pi / 2, Elevation: 0.45, AzimuthSpan: 0.35, ElevationSpan: 0.5, Label: "person", Confidence: 0.9},
	{Azimuth: math.Pi / 2, Elevation: 0.40, AzimuthSpan: 0.35, ElevationSpan: 0.5, Label: "person", Confidence: 0.9},
}

// feedPositions makes the mock speakers take turns.
func feedPositions(ctx context.Context, src *position.MockSource) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			speaker := mockRects[int(now.Sub(start)/(4*time.Second))%len(mockRects)]
			src.Push(geometry.SourcePosition{
				Azimuth:   speaker.Azimuth,
				Elevation: speaker.Elevation,
				Energy:    0.8,
				Timestamp: uint64(now.Sub(start).Microseconds()),
			})
		}
	}
}
