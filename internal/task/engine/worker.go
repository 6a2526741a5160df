package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "schedkit/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan *Future) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case f, ok := <-queue:
			if !ok {
				return
			}
			s.inFlight.Add(1)
			s.execOne(ctx, f)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, f *Future) {
	start := time.Now()
	f.mu.Lock()
	enq := f.enqueuedAt
	f.mu.Unlock()
	queueDelay := time.Duration(0)
	if !enq.IsZero() {
		queueDelay = max(start.Sub(enq), 0)
	}

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	if cfg.MaxQueueDelay > 0 && queueDelay > cfg.MaxQueueDelay {
		s.dropFuture(f, FutureQueued, fmt.Errorf("%w (%s)", ErrStale, queueDelay))
		return
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if cfg.DefaultTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cfg.DefaultTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	if !f.claim(cancel) {
		// Cancelled while queued.
		return
	}

	s.log.Trace("job.started", logx.String("task", f.job.Name), logx.String("id", f.job.ID), logx.Duration("queue_delay", queueDelay))
	func() {
		// Keep one bad job from killing the worker.
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("job.panic", logx.String("task", f.job.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		f.job.Run(runCtx)
	}()
	f.finish()

	dur := time.Since(start)
	outcome := "finished"
	if f.Interrupted() {
		outcome = "interrupted"
	}
	s.record(HistoryItem{
		ID:          f.job.ID,
		Name:        f.job.Name,
		Started:     start,
		QueueDelay:  queueDelay,
		Duration:    dur,
		Outcome:     outcome,
		Interrupted: f.Interrupted(),
	})
	s.log.Trace("job.completed", logx.String("task", f.job.Name), logx.Duration("dur", dur), logx.String("outcome", outcome))
}
