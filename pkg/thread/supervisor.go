package thread

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrNoThreads is returned when a supervisor is started empty.
var ErrNoThreads = errors.New("supervisor has no threads")

// Supervisor owns a set of threads and stops all of them as soon as one
// crashes. Status changes arrive on a single channel consumed by one
// goroutine.
type Supervisor struct {
	logger  *slog.Logger
	threads []*Thread
	events  chan Event
	onCrash []func(Event)

	stopOnce sync.Once
	done     chan struct{}

	mu      sync.Mutex
	crashes []Event
}

// NewSupervisor creates a supervisor. Threads are stopped in the order they
// are added.
func NewSupervisor(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		logger: logger.With("component", "supervisor"),
		done:   make(chan struct{}),
	}
}

// Add registers a thread. It must be called before Start.
func (s *Supervisor) Add(t *Thread) {
	s.threads = append(s.threads, t)
}

// OnCrash registers a callback run on the supervisor goroutine for every
// crash, before the remaining threads are stopped.
func (s *Supervisor) OnCrash(fn func(Event)) {
	s.onCrash = append(s.onCrash, fn)
}

// Threads returns the registered threads in stop order.
func (s *Supervisor) Threads() []*Thread {
	return s.threads
}

// Start launches every thread and the supervising goroutine. If a thread
// fails to start, the ones already running are stopped and Done closes once
// they have returned.
func (s *Supervisor) Start(ctx context.Context) error {
	if len(s.threads) == 0 {
		return ErrNoThreads
	}

	// Each thread emits at most a start and a terminal event.
	s.events = make(chan Event, 2*len(s.threads))
	started := 0
	var err error
	for _, t := range s.threads {
		if err = t.start(ctx, s.events); err != nil {
			break
		}
		started++
	}
	go s.watch(started)

	if err != nil {
		for _, t := range s.threads[:started] {
			t.Stop()
		}
		return err
	}
	return nil
}

// watch consumes status changes until every started thread has returned.
func (s *Supervisor) watch(remaining int) {
	defer close(s.done)

	if remaining == 0 {
		return
	}
	for ev := range s.events {
		switch ev.Status {
		case Running:
			continue
		case Crashed:
			s.mu.Lock()
			s.crashes = append(s.crashes, ev)
			s.mu.Unlock()

			s.logger.Error("thread crashed, stopping pipeline", "thread", ev.Thread, "error", ev.Err)
			for _, fn := range s.onCrash {
				fn(ev)
			}
			// Joining here would deadlock: terminal events of the other
			// threads are consumed by this loop.
			s.cancelAll()
		}
		remaining--
		if remaining == 0 {
			return
		}
	}
}

func (s *Supervisor) cancelAll() {
	for _, t := range s.threads {
		t.Stop()
	}
}

// Stop stops the threads in order. Crashed threads have already returned and
// are not joined again.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		for _, t := range s.threads {
			if t.Status() == Crashed {
				continue
			}
			t.Stop()
			t.Join()
		}
	})
}

// Wait blocks until every thread has returned.
func (s *Supervisor) Wait() {
	<-s.done
}

// Done is closed once every thread has returned.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Crashes returns the crash events observed so far.
func (s *Supervisor) Crashes() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.crashes...)
}

// Err joins the errors of every crashed thread.
func (s *Supervisor) Err() error {
	var errs []error
	for _, ev := range s.Crashes() {
		errs = append(errs, ev.Err)
	}
	return errors.Join(errs...)
}
