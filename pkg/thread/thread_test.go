package thread

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitLoop(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func TestStatus_String(t *testing.T) {
	tests := []struct {
		s    Status
		want string
	}{
		{Stopped, "stopped"},
		{Running, "running"},
		{Crashed, "crashed"},
		{Status(9), "status(9)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestThread_StartStopJoin(t *testing.T) {
	th := New("render", waitLoop, nil)
	if th.Status() != Stopped {
		t.Fatalf("initial status = %v", th.Status())
	}
	th.Join() // never started: returns immediately

	if err := th.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if th.Status() != Running {
		t.Errorf("status = %v, want running", th.Status())
	}
	if err := th.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}

	th.Stop()
	th.Join()
	if th.Status() != Stopped || th.Err() != nil {
		t.Errorf("after stop: status = %v err = %v", th.Status(), th.Err())
	}
}

func TestThread_ContextErrorIsCleanStop(t *testing.T) {
	th := New("audio", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, nil)
	_ = th.Start(context.Background())
	th.Stop()
	th.Join()
	if th.Status() != Stopped {
		t.Errorf("status = %v, want stopped", th.Status())
	}
}

func TestThread_PanicIsCrash(t *testing.T) {
	var cleaned atomic.Bool
	th := New("detection", func(ctx context.Context) error {
		defer cleaned.Store(true)
		panic("boom")
	}, nil)

	_ = th.Start(context.Background())
	th.Join()

	if !cleaned.Load() {
		t.Error("deferred cleanup must run before Join returns")
	}
	if th.Status() != Crashed {
		t.Fatalf("status = %v, want crashed", th.Status())
	}
	var crash *CrashError
	if !errors.As(th.Err(), &crash) {
		t.Fatalf("Err() = %v, want *CrashError", th.Err())
	}
	if crash.Value != "boom" || crash.Thread != "detection" || len(crash.Stack) == 0 {
		t.Errorf("crash = %+v", crash)
	}
}

func TestThread_PanicWithErrorUnwraps(t *testing.T) {
	sentinel := errors.New("device lost")
	th := New("render", func(context.Context) error { panic(sentinel) }, nil)
	_ = th.Start(context.Background())
	th.Join()
	if !errors.Is(th.Err(), sentinel) {
		t.Errorf("Err() = %v, want wrapping %v", th.Err(), sentinel)
	}
}

func TestThread_ErrorIsCrash(t *testing.T) {
	sentinel := errors.New("resolution mismatch")
	th := New("render", func(context.Context) error { return sentinel }, nil)
	_ = th.Start(context.Background())
	th.Join()
	if th.Status() != Crashed || !errors.Is(th.Err(), sentinel) {
		t.Errorf("status = %v err = %v", th.Status(), th.Err())
	}
}

func TestSupervisor_Empty(t *testing.T) {
	if err := NewSupervisor(nil).Start(context.Background()); !errors.Is(err, ErrNoThreads) {
		t.Errorf("Start() = %v, want ErrNoThreads", err)
	}
}

func TestSupervisor_CrashStopsEveryone(t *testing.T) {
	sup := NewSupervisor(nil)
	healthy := []*Thread{
		New("position", waitLoop, nil),
		New("audio", waitLoop, nil),
		New("render", waitLoop, nil),
	}
	for _, th := range healthy {
		sup.Add(th)
	}

	trigger := make(chan struct{})
	crasher := New("detection", func(ctx context.Context) error {
		select {
		case <-trigger:
			panic("detector exploded")
		case <-ctx.Done():
			return nil
		}
	}, nil)
	sup.Add(crasher)

	var callbacks atomic.Int32
	sup.OnCrash(func(ev Event) {
		if ev.Thread == "detection" {
			callbacks.Add(1)
		}
	})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	close(trigger)

	select {
	case <-sup.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop the pipeline after a crash")
	}

	for _, th := range healthy {
		if th.Status() != Stopped {
			t.Errorf("%s status = %v, want stopped", th.Name(), th.Status())
		}
	}
	if crasher.Status() != Crashed {
		t.Errorf("crasher status = %v", crasher.Status())
	}
	if callbacks.Load() != 1 {
		t.Errorf("OnCrash called %d times, want 1", callbacks.Load())
	}
	if len(sup.Crashes()) != 1 || sup.Err() == nil {
		t.Errorf("Crashes() = %+v, Err() = %v", sup.Crashes(), sup.Err())
	}

	sup.Stop() // skips the crashed thread, returns promptly
}

func TestSupervisor_StopOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) Func {
		return func(ctx context.Context) error {
			<-ctx.Done()
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	sup := NewSupervisor(nil)
	names := []string{"position", "audio", "detection", "render"}
	for _, n := range names {
		sup.Add(New(n, record(n), nil))
	}
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sup.Stop()
	sup.Wait()

	if len(order) != len(names) {
		t.Fatalf("order = %v", order)
	}
	for i := range names {
		if order[i] != names[i] {
			t.Fatalf("stop order = %v, want %v", order, names)
		}
	}
	if sup.Err() != nil {
		t.Errorf("clean stop should have no errors, got %v", sup.Err())
	}
}

func TestSupervisor_PartialStartFailure(t *testing.T) {
	busy := New("detection", waitLoop, nil)
	if err := busy.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		busy.Stop()
		busy.Join()
	}()

	sup := NewSupervisor(nil)
	position := New("position", waitLoop, nil)
	audio := New("audio", waitLoop, nil)
	render := New("render", waitLoop, nil)
	for _, th := range []*Thread{position, audio, busy, render} {
		sup.Add(th)
	}

	if err := sup.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("Start() = %v, want ErrAlreadyStarted", err)
	}
	select {
	case <-sup.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor never finished after a failed start")
	}

	for _, th := range []*Thread{position, audio} {
		if th.Status() != Stopped {
			t.Errorf("%s status = %v, want stopped", th.Name(), th.Status())
		}
	}
	if busy.Status() != Running {
		t.Errorf("thread started elsewhere should keep running, got %v", busy.Status())
	}
	select {
	case <-render.Done():
		t.Error("render should never have started")
	default:
	}
}
