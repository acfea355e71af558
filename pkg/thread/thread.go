// Package thread runs pipeline loops as supervised goroutines. A loop that
// panics or fails is recorded as crashed and reported to its supervisor,
// which stops the others.
package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Status is the lifecycle state of a thread.
type Status int32

const (
	Stopped Status = iota
	Running
	Crashed
)

func (s Status) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Crashed:
		return "crashed"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("thread already started")

// CrashError records a panic recovered from a thread body.
type CrashError struct {
	Thread string
	Value  any
	Stack  []byte
}

func (e *CrashError) Error() string {
	return fmt.Sprintf("thread %s panicked: %v", e.Thread, e.Value)
}

// Unwrap exposes a panicked error value to errors.Is and errors.As.
func (e *CrashError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// Func is a thread body. It must return when ctx is done. Returning a non-nil
// error other than the context's own marks the thread crashed.
type Func func(ctx context.Context) error

// Event is a status change delivered to the supervisor.
type Event struct {
	Thread string
	Status Status
	Err    error
}

// Thread is one supervised goroutine.
type Thread struct {
	name   string
	fn     Func
	logger *slog.Logger

	status atomic.Int32
	events chan<- Event

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// New creates a stopped thread running fn.
func New(name string, fn Func, logger *slog.Logger) *Thread {
	if logger == nil {
		logger = slog.Default()
	}
	return &Thread{
		name:   name,
		fn:     fn,
		logger: logger.With("thread", name),
		done:   make(chan struct{}),
	}
}

// Name returns the thread name.
func (t *Thread) Name() string {
	return t.name
}

// Status returns the current status.
func (t *Thread) Status() Status {
	return Status(t.status.Load())
}

// Err returns the error that crashed the thread, if any.
func (t *Thread) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Start launches the body in a new goroutine.
func (t *Thread) Start(ctx context.Context) error {
	return t.start(ctx, nil)
}

// start launches the body. A non-nil events channel receives the thread's
// status changes; it is only attached when the thread actually starts.
func (t *Thread) start(ctx context.Context, events chan<- Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return fmt.Errorf("%s: %w", t.name, ErrAlreadyStarted)
	}
	t.started = true
	if events != nil {
		t.events = events
	}

	ctx, t.cancel = context.WithCancel(ctx)
	t.setStatus(Running, nil)
	t.logger.Debug("thread started")

	go t.loop(ctx)
	return nil
}

func (t *Thread) loop(ctx context.Context) {
	err := t.call(ctx)
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}

	t.mu.Lock()
	t.err = err
	t.mu.Unlock()

	status := Stopped
	if err != nil {
		status = Crashed
		attrs := []any{"error", err}
		var crash *CrashError
		if errors.As(err, &crash) {
			attrs = append(attrs, "stack", string(crash.Stack))
		}
		t.logger.Error("thread crashed", attrs...)
	} else {
		t.logger.Debug("thread stopped")
	}

	// Joiners observe the final status, and the body's deferred cleanup has
	// already run by now.
	t.status.Store(int32(status))
	close(t.done)
	if t.events != nil {
		t.events <- Event{Thread: t.name, Status: status, Err: err}
	}
}

func (t *Thread) call(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &CrashError{Thread: t.name, Value: r, Stack: debug.Stack()}
		}
	}()
	return t.fn(ctx)
}

func (t *Thread) setStatus(s Status, err error) {
	t.status.Store(int32(s))
	if t.events != nil {
		t.events <- Event{Thread: t.name, Status: s, Err: err}
	}
}

// Stop asks the body to return. It does not wait; use Join.
func (t *Thread) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Join blocks until the body has returned. Joining a thread that was never
// started returns immediately.
func (t *Thread) Join() {
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if !started {
		return
	}
	<-t.done
}

// Done is closed once the body has returned.
func (t *Thread) Done() <-chan struct{} {
	return t.done
}
