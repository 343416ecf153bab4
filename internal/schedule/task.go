// Package schedule runs functions on a fixed period until stopped.
package schedule

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Task repeatedly invokes a function: once after an initial delay, then every
// period. Stopping is cooperative: a run already in progress completes, only
// the following runs are suppressed.
type Task struct {
	fn     func(ctx context.Context)
	delay  time.Duration
	period time.Duration

	stopped  atomic.Bool
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	runs     atomic.Int64
}

// Start launches fn on its own goroutine. A period of zero or less runs fn
// once. Cancelling ctx stops the task as well.
func Start(ctx context.Context, delay, period time.Duration, fn func(ctx context.Context)) *Task {
	t := &Task{
		fn:       fn,
		delay:    delay,
		period:   period,
		stopChan: make(chan struct{}),
	}
	t.wg.Add(1)
	go t.loop(ctx)
	return t
}

func (t *Task) loop(ctx context.Context) {
	defer t.wg.Done()

	if t.delay < 0 {
		t.delay = 0
	}
	timer := time.NewTimer(t.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-t.stopChan:
		return
	case <-timer.C:
	}
	if !t.invoke(ctx) || t.period <= 0 {
		return
	}

	ticker := time.NewTicker(t.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopChan:
			return
		case <-ticker.C:
			if !t.invoke(ctx) {
				return
			}
		}
	}
}

// invoke runs fn unless the stop flag was raised since the last tick.
func (t *Task) invoke(ctx context.Context) bool {
	if t.stopped.Load() {
		return false
	}
	t.runs.Add(1)
	t.fn(ctx)
	return true
}

// Stop prevents further runs. It does not wait for a run in progress.
func (t *Task) Stop() {
	if t == nil {
		return
	}
	t.stopOnce.Do(func() {
		t.stopped.Store(true)
		close(t.stopChan)
	})
}

// Stopped reports whether Stop was called.
func (t *Task) Stopped() bool {
	return t != nil && t.stopped.Load()
}

// Wait blocks until the task goroutine has exited.
func (t *Task) Wait() {
	if t == nil {
		return
	}
	t.wg.Wait()
}

// Runs returns how many times fn has been invoked.
func (t *Task) Runs() int64 {
	return t.runs.Load()
}
