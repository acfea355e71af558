package stream

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-steno/pkg/audio"
	"github.com/teslashibe/go-steno/pkg/geometry"
	"github.com/teslashibe/go-steno/pkg/position"
	"github.com/teslashibe/go-steno/pkg/thread"
	"github.com/teslashibe/go-steno/pkg/video"
)

var testRes = video.Dim3{Width: 64, Height: 64, Channels: 3}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FPS = 50
	cfg.Resolution = testRes
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func joinWithin(t *testing.T, s *Stream, d time.Duration) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Join() }()
	select {
	case err := <-done:
		return err
	case <-time.After(d):
		t.Fatal("stream did not stop in time")
		return nil
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"zero fps", func(c *Config) { c.FPS = 0 }, true},
		{"no resolution", func(c *Config) { c.Resolution = video.Dim3{} }, true},
		{"gray camera", func(c *Config) { c.Resolution.Channels = 1 }, true},
		{"zero fov", func(c *Config) { c.FOV = 0 }, true},
		{"negative threshold", func(c *Config) { c.Threshold = -0.1 }, true},
		{"nan threshold", func(c *Config) { c.Threshold = math.NaN() }, true},
		{"empty queue", func(c *Config) { c.DetectionQueue = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, video.ErrInvalidConfig) {
				t.Errorf("error %v is not ErrInvalidConfig", err)
			}
		})
	}
}

func TestChunkDuration(t *testing.T) {
	tests := []struct {
		fps  int
		want time.Duration
	}{
		{20, 50 * time.Millisecond},
		{30, 33 * time.Millisecond},
		{60, 16 * time.Millisecond},
		{0, 0},
	}
	for _, tt := range tests {
		if got := ChunkDuration(tt.fps); got != tt.want {
			t.Errorf("ChunkDuration(%d) = %v, want %v", tt.fps, got, tt.want)
		}
	}
}

func TestBuilder_Build(t *testing.T) {
	cam := video.NewMockStream(testRes)
	det := &video.MockDetector{}

	if _, err := NewBuilder(testConfig(), nil).WithDetector(det).Build(); !errors.Is(err, ErrMissingCollaborator) {
		t.Errorf("missing camera: error = %v", err)
	}
	if _, err := NewBuilder(testConfig(), nil).WithCamera(cam).Build(); !errors.Is(err, ErrMissingCollaborator) {
		t.Errorf("missing detector: error = %v", err)
	}

	cfg := testConfig()
	cfg.Resolution = video.Dim3{Width: 128, Height: 128, Channels: 3}
	if _, err := NewBuilder(cfg, nil).WithCamera(cam).WithDetector(det).Build(); !errors.Is(err, video.ErrResolutionMismatch) {
		t.Errorf("resolution mismatch: error = %v", err)
	}

	s, err := NewBuilder(testConfig(), nil).WithCamera(cam).WithDetector(det).Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if s.State() != Stopped {
		t.Errorf("State() = %v, want stopped", s.State())
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() on a stopped stream = %v", err)
	}
}

func TestStream_Lifecycle(t *testing.T) {
	acfg := audio.DefaultConfig()
	acfg.Backend = audio.BackendMock
	acfg.ChunkDuration = ChunkDuration(50)
	src, err := audio.NewMockSource(acfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	positions := position.NewMockSource(4)
	positions.Push(geometry.SourcePosition{Azimuth: 0, Elevation: 0.5, Energy: 1})

	consumer := &video.RecordingConsumer{}
	s, err := NewBuilder(testConfig(), nil).
		WithCamera(video.NewMockStream(testRes)).
		WithDetector(&video.MockDetector{Rects: []geometry.AngleRect{{
			Azimuth: 0, Elevation: 0.5, AzimuthSpan: 0.4, ElevationSpan: 0.5,
		}}}).
		WithConsumer(consumer).
		WithPositions(positions).
		WithAudio(src, audio.NewMockSink()).
		Build()
	if err != nil {
		t.Fatal(err)
	}

	for run := 0; run < 2; run++ {
		if err := s.Start(t.Context()); err != nil {
			t.Fatalf("run %d: Start() error = %v", run, err)
		}
		if s.State() != Started {
			t.Errorf("run %d: State() = %v, want started", run, s.State())
		}
		if err := s.Start(t.Context()); !errors.Is(err, ErrInvalidState) {
			t.Errorf("run %d: second Start() error = %v, want ErrInvalidState", run, err)
		}

		waitFor(t, 3*time.Second, func() bool { return len(s.Cameras()) == 1 && consumer.Frames() > 0 })

		st := s.Stats()
		if st.ID == "" || st.State != "started" {
			t.Errorf("run %d: Stats() = %+v", run, st)
		}
		if len(st.Threads) != 4 {
			t.Errorf("run %d: %d threads, want 4", run, len(st.Threads))
		}
		if st.Audio == nil || st.Audio.Backend != "mock" {
			t.Errorf("run %d: audio stats = %+v", run, st.Audio)
		}

		if err := s.Stop(); err != nil {
			t.Fatalf("run %d: Stop() error = %v", run, err)
		}
		if s.State() != Stopped {
			t.Errorf("run %d: State() after Stop = %v", run, s.State())
		}
		for _, ts := range s.Stats().Threads {
			if ts.Status != thread.Stopped.String() {
				t.Errorf("run %d: thread %s is %s", run, ts.Name, ts.Status)
			}
		}
	}
}

// sentinelStream fills every byte of a frame with the frame number, so a
// frame that was only partly written is detectable.
type sentinelStream struct {
	n atomic.Uint64
}

func (s *sentinelStream) Resolution() video.Dim3 { return testRes }

func (s *sentinelStream) Read(_ context.Context, dst *video.Image) (bool, error) {
	n := byte(s.n.Add(1))
	for i := range dst.HostData {
		dst.HostData[i] = n
	}
	dst.Timestamp = uint64(n)
	return true, nil
}

func (s *sentinelStream) Close() error { return nil }

func uniform(b []byte) bool {
	for _, v := range b {
		if v != b[0] {
			return false
		}
	}
	return true
}

// checksumFactory checks every camera-sized image for a partial write when
// it is released.
type checksumFactory struct {
	video.HeapObjectFactory
	released atomic.Int64
	torn     atomic.Int64
}

func (f *checksumFactory) Deallocate(img *video.Image) {
	if img.Dim3 == testRes {
		f.released.Add(1)
		if !uniform(img.HostData) {
			f.torn.Add(1)
		}
	}
	f.HeapObjectFactory.Deallocate(img)
}

func TestStream_CrashStopsEverything(t *testing.T) {
	var torn atomic.Int64
	factory := &checksumFactory{}
	det := &video.MockDetector{}
	det.DetectFunc = func(_ context.Context, img *video.Image) ([]geometry.AngleRect, error) {
		if !uniform(img.HostData) {
			torn.Add(1)
		}
		if det.Calls() >= 5 {
			panic("detector failure")
		}
		return nil, nil
	}

	s, err := NewBuilder(testConfig(), nil).
		WithCamera(&sentinelStream{}).
		WithDetector(det).
		WithDevice(factory, video.NopSynchronizer{}).
		WithPositions(position.NewMockSource(4)).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(t.Context()); err != nil {
		t.Fatal(err)
	}

	err = joinWithin(t, s, 3*time.Second)
	var crash *thread.CrashError
	if !errors.As(err, &crash) || crash.Thread != "detection" {
		t.Fatalf("Join() error = %v, want a detection crash", err)
	}
	if s.State() != Stopped {
		t.Errorf("State() = %v, want stopped", s.State())
	}

	for _, ts := range s.Stats().Threads {
		want := thread.Stopped.String()
		if ts.Name == "detection" {
			want = thread.Crashed.String()
		}
		if ts.Status != want {
			t.Errorf("thread %s is %s, want %s", ts.Name, ts.Status, want)
		}
	}
	if torn.Load() != 0 {
		t.Errorf("detector saw %d partly written frames", torn.Load())
	}
	// The three frame slots are the only camera-sized images.
	if got := factory.released.Load(); got != 3 {
		t.Errorf("released %d camera frames, want 3", got)
	}
	if factory.torn.Load() != 0 {
		t.Errorf("%d frames were left mid-write", factory.torn.Load())
	}

	if err := s.Stop(); err != nil {
		t.Errorf("Stop() after a crash = %v", err)
	}
}

func TestStream_CameraFailureIsFatal(t *testing.T) {
	cam := video.NewMockStream(testRes)
	s, err := NewBuilder(testConfig(), nil).
		WithCamera(cam).
		WithDetector(&video.MockDetector{}).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return s.Stats().Render.Frames > 0 })

	boom := errors.New("usb unplugged")
	cam.FailWith(boom)
	if err := joinWithin(t, s, 3*time.Second); !errors.Is(err, boom) {
		t.Errorf("Join() error = %v, want %v", err, boom)
	}
}

func TestStream_ConcurrentStopWaitsForJoin(t *testing.T) {
	var returned atomic.Bool
	det := &video.MockDetector{}
	det.DetectFunc = func(ctx context.Context, _ *video.Image) ([]geometry.AngleRect, error) {
		<-ctx.Done()
		time.Sleep(200 * time.Millisecond)
		returned.Store(true)
		return nil, nil
	}

	s, err := NewBuilder(testConfig(), nil).
		WithCamera(video.NewMockStream(testRes)).
		WithDetector(det).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return det.Calls() > 0 })

	first := make(chan error, 1)
	go func() { first <- s.Stop() }()
	waitFor(t, 2*time.Second, func() bool { return s.State() == Stopping })

	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() = %v", err)
	}
	if !returned.Load() || s.State() != Stopped {
		t.Errorf("second Stop() returned before the threads were joined: state %v", s.State())
	}
	if err := <-first; err != nil {
		t.Errorf("first Stop() = %v", err)
	}
}
