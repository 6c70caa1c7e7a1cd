package collector

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PeriodicTask runs fn every interval on its own goroutine. Cycles of one
// task never overlap: ticks that arrive while a cycle is running are
// coalesced into at most one pending run.
//
// A paused task ignores both timer ticks and manual Tick calls. A cycle is
// admitted under the task lock; after Stop returns no further cycle is
// admitted. A cycle admitted earlier is left to finish with a context that
// Stop does not cancel, and Done waits for it.
type PeriodicTask struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
	logger   *zap.Logger

	mu       sync.Mutex
	paused   bool
	resuming bool
	inCycle  bool
	running  bool
	stopped  bool
	cancel   context.CancelFunc

	kick  chan struct{}
	reset chan struct{}
	done  chan struct{}
}

func NewPeriodicTask(name string, interval time.Duration, paused bool, fn func(ctx context.Context), logger *zap.Logger) *PeriodicTask {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PeriodicTask{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger.With(zap.String("task", name)),
		paused:   paused,
		kick:     make(chan struct{}, 1),
		reset:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (t *PeriodicTask) Start(parent context.Context) {
	t.mu.Lock()
	if t.running || t.stopped {
		t.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	t.cancel = cancel
	t.running = true
	t.mu.Unlock()

	go t.run(ctx)
}

// Stop disables the timer. It does not wait for an in-flight cycle; use
// Done for that.
func (t *PeriodicTask) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	if t.inCycle {
		t.logger.Debug("stopping with a cycle in flight")
	}
	if t.cancel != nil {
		t.cancel()
	}
	if !t.running {
		close(t.done)
	}
}

func (t *PeriodicTask) Pause() {
	t.mu.Lock()
	t.paused = true
	t.resuming = false
	t.mu.Unlock()
}

// Resume unpauses the task and restarts its period from now. The task
// loop applies it, so a timer tick already pending when Resume is called
// is dropped rather than run.
func (t *PeriodicTask) Resume() {
	t.mu.Lock()
	if !t.paused {
		t.mu.Unlock()
		return
	}
	t.resuming = true
	t.mu.Unlock()

	select {
	case t.reset <- struct{}{}:
	default:
	}
}

// Tick requests an immediate cycle.
func (t *PeriodicTask) Tick() {
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

func (t *PeriodicTask) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// Done is closed once the task has stopped and any in-flight cycle has
// returned.
func (t *PeriodicTask) Done() <-chan struct{} {
	return t.done
}

func (t *PeriodicTask) run(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	cycleCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.reset:
			t.applyResume(ticker)
		case <-ticker.C:
			// the period restarts at resume, so this tick is stale
			if t.applyResume(ticker) {
				continue
			}
			t.fire(cycleCtx)
		case <-t.kick:
			t.applyResume(ticker)
			t.fire(cycleCtx)
		}
	}
}

// applyResume unpauses a task with a pending Resume and reports whether it
// did.
func (t *PeriodicTask) applyResume(ticker *time.Ticker) bool {
	t.mu.Lock()
	if !t.resuming {
		t.mu.Unlock()
		return false
	}
	t.resuming = false
	t.paused = false
	t.mu.Unlock()

	ticker.Reset(t.interval)
	return true
}

func (t *PeriodicTask) fire(ctx context.Context) {
	t.mu.Lock()
	if t.paused || t.stopped {
		t.mu.Unlock()
		return
	}
	t.inCycle = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.inCycle = false
		t.mu.Unlock()
	}()

	start := time.Now()
	t.fn(ctx)
	t.logger.Debug("cycle finished", zap.Duration("elapsed", time.Since(start)))
}
