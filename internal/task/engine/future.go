package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Future is the cancellable platform handle for one submitted job.
//
// It satisfies handle.Canceler.
type Future struct {
	job Job

	state       atomic.Int32
	interrupted atomic.Bool

	mu         sync.Mutex
	timer      *time.Timer
	cancelRun  context.CancelFunc
	enqueuedAt time.Time

	done     chan struct{}
	doneOnce sync.Once

	dropOnce sync.Once
	onCancel func()
}

func newFuture(job Job, st FutureState) *Future {
	f := &Future{job: job, done: make(chan struct{})}
	f.state.Store(int32(st))
	return f
}

func (f *Future) ID() string   { return f.job.ID }
func (f *Future) Name() string { return f.job.Name }

func (f *Future) State() FutureState { return FutureState(f.state.Load()) }

// Done is closed once the job can no longer run: finished, cancelled or dropped.
func (f *Future) Done() <-chan struct{} { return f.done }

// Interrupted reports whether Cancel(true) hit the job while it was running.
func (f *Future) Interrupted() bool { return f.interrupted.Load() }

// Cancel stops the job if it has not started yet. If it is running and
// interrupt is true, its context is cancelled. Idempotent.
func (f *Future) Cancel(interrupt bool) {
	for {
		st := FutureState(f.state.Load())
		switch st {
		case FutureWaiting, FutureQueued:
			if !f.state.CompareAndSwap(int32(st), int32(FutureCancelled)) {
				continue
			}
			if st == FutureWaiting {
				f.stopTimer()
			}
			if f.onCancel != nil {
				f.onCancel()
			}
			f.close()
			if f.job.OnCancel != nil {
				f.job.OnCancel()
			}
			return
		case FutureRunning:
			if !interrupt {
				return
			}
			f.mu.Lock()
			cancel := f.cancelRun
			f.mu.Unlock()
			if cancel != nil && f.interrupted.CompareAndSwap(false, true) {
				cancel()
			}
			return
		default:
			return
		}
	}
}

func (f *Future) stopTimer() {
	f.mu.Lock()
	t := f.timer
	f.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

// claim moves a queued job to running. cancel is installed first so an
// interrupting Cancel can never observe running without a cancel func.
func (f *Future) claim(cancel context.CancelFunc) bool {
	f.mu.Lock()
	f.cancelRun = cancel
	f.mu.Unlock()
	return f.state.CompareAndSwap(int32(FutureQueued), int32(FutureRunning))
}

func (f *Future) finish() {
	f.state.Store(int32(FutureFinished))
	f.close()
}

// drop marks an accepted job as abandoned and notifies its submitter.
func (f *Future) drop(from FutureState, reason error) bool {
	if !f.state.CompareAndSwap(int32(from), int32(FutureDropped)) {
		return false
	}
	f.close()
	f.dropOnce.Do(func() {
		if f.job.OnDrop != nil {
			f.job.OnDrop(reason)
		}
	})
	return true
}

func (f *Future) close() {
	f.doneOnce.Do(func() { close(f.done) })
}
