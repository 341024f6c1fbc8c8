// Package sched provides a cancellable periodic ticker with an injectable
// clock, so components can run timer-driven work that shuts down
// deterministically and can be driven by a fake clock in tests.
package sched

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Clock abstracts time for the ticker. The real implementation delegates to
// the time package; tests use FakeClock to advance time manually.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
	Sleep(ctx context.Context, d time.Duration)
}

// Ticker is the subset of time.Ticker the scheduler needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock delegates to the time package.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

// Sleep blocks for d or until ctx is cancelled, whichever comes first.
func (RealClock) Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// Task runs fn on a fixed interval until Stop is called. Each tick is
// fire-and-forget: a panicking tick is recovered and logged, and the task
// continues on its fixed period. There is no catch-up for missed ticks.
type Task struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
	clock    Clock
	logger   *slog.Logger

	mu       sync.Mutex
	stopped  bool
	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewTask creates a periodic task. A zero or negative interval disables the
// task: Start and Stop become no-ops.
func NewTask(name string, interval time.Duration, clock Clock, logger *slog.Logger, fn func(ctx context.Context)) *Task {
	return &Task{
		name:     name,
		interval: interval,
		fn:       fn,
		clock:    clock,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the tick loop in its own goroutine. A second Start, or a
// Start after Stop, is a no-op.
func (t *Task) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.cancel != nil {
		return
	}
	if t.interval <= 0 {
		t.stopped = true
		close(t.done)
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	go t.loop(loopCtx)
}

func (t *Task) loop(ctx context.Context) {
	defer close(t.done)
	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			t.runOnce(ctx)
		}
	}
}

// runOnce executes one tick, converting a panic into a logged error so a
// failing tick never kills the loop.
func (t *Task) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("sched: tick panicked", "task", t.name, "panic", r)
		}
	}()
	t.fn(ctx)
}

// Stop cancels the tick loop and waits for the in-flight tick, if any, to
// finish. Safe to call multiple times and before Start.
func (t *Task) Stop() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.stopped = true
		cancel := t.cancel
		t.mu.Unlock()

		if cancel == nil {
			// Disabled or never started; make sure done is closed.
			select {
			case <-t.done:
			default:
				close(t.done)
			}
			return
		}
		cancel()
		<-t.done
	})
}
