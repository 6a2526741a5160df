package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"schedkit/internal/eventbus"
	logx "schedkit/pkg/logx"
)

func newStarted(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), eventbus.New())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitDone(t *testing.T, f *Future) {
	t.Helper()
	select {
	case <-f.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("future %s still %s", f.ID(), f.State())
	}
}

func TestSubmitRunsJob(t *testing.T) {
	t.Parallel()
	s := newStarted(t, Config{Workers: 1})
	var ran atomic.Bool
	f, err := s.Submit(Job{Name: "a", Run: func(context.Context) { ran.Store(true) }})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitDone(t, f)
	if !ran.Load() {
		t.Fatal("job did not run")
	}
	if f.State() != FutureFinished {
		t.Fatalf("state = %s, want finished", f.State())
	}
}

func TestSubmitRejectsWhenDisabledOrStopped(t *testing.T) {
	t.Parallel()
	off := New(Config{}, logx.Nop(), nil)
	if _, err := off.Submit(Job{Run: func(context.Context) {}}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled Submit err = %v", err)
	}
	idle := New(Config{Enabled: true}, logx.Nop(), nil)
	if _, err := idle.Submit(Job{Run: func(context.Context) {}}); !errors.Is(err, ErrStopped) {
		t.Fatalf("not-started Submit err = %v", err)
	}
	if _, err := idle.Submit(Job{}); !errors.Is(err, ErrNoRun) {
		t.Fatalf("nil Run err = %v", err)
	}
}

func TestCancelBeforeTimerFires(t *testing.T) {
	t.Parallel()
	s := newStarted(t, Config{Workers: 1})
	var ran atomic.Bool
	f, err := s.SubmitAfter(Job{Name: "later", Run: func(context.Context) { ran.Store(true) }}, time.Hour)
	if err != nil {
		t.Fatalf("SubmitAfter: %v", err)
	}
	f.Cancel(true)
	f.Cancel(true)
	waitDone(t, f)
	if f.State() != FutureCancelled {
		t.Fatalf("state = %s, want cancelled", f.State())
	}
	if ran.Load() {
		t.Fatal("cancelled job ran")
	}
	if got := s.Snapshot().Cancelled; got != 1 {
		t.Fatalf("cancelled counter = %d, want 1", got)
	}
}

func TestCancelInterruptsRunningJob(t *testing.T) {
	t.Parallel()
	s := newStarted(t, Config{Workers: 1})
	started := make(chan struct{})
	f, err := s.Submit(Job{Name: "long", Run: func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started
	f.Cancel(false)
	if f.Interrupted() {
		t.Fatal("non-interrupting cancel interrupted the job")
	}
	f.Cancel(true)
	waitDone(t, f)
	if !f.Interrupted() {
		t.Fatal("job was not interrupted")
	}
}

func TestCancelQueuedJobIsSkipped(t *testing.T) {
	t.Parallel()
	s := newStarted(t, Config{Workers: 1})
	block := make(chan struct{})
	first, err := s.Submit(Job{Name: "blocker", Run: func(context.Context) { <-block }})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	var ran atomic.Bool
	second, err := s.Submit(Job{Name: "skipped", Run: func(context.Context) { ran.Store(true) }})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	second.Cancel(true)
	close(block)
	waitDone(t, first)
	waitDone(t, second)
	// Give the worker a moment to dequeue the cancelled job.
	time.Sleep(20 * time.Millisecond)
	if ran.Load() {
		t.Fatal("cancelled queued job ran")
	}
}

func TestOnCancelOnlyBeforeStart(t *testing.T) {
	t.Parallel()
	s := newStarted(t, Config{Workers: 1})

	var waitingCancels atomic.Int32
	waiting, err := s.SubmitAfter(Job{Name: "later", Run: func(context.Context) {}, OnCancel: func() { waitingCancels.Add(1) }}, time.Hour)
	if err != nil {
		t.Fatalf("SubmitAfter: %v", err)
	}
	waiting.Cancel(true)
	waiting.Cancel(true)
	if n := waitingCancels.Load(); n != 1 {
		t.Fatalf("OnCancel calls = %d, want 1", n)
	}

	started := make(chan struct{})
	var runningCancels atomic.Int32
	running, err := s.Submit(Job{Name: "long", Run: func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}, OnCancel: func() { runningCancels.Add(1) }})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started
	running.Cancel(true)
	waitDone(t, running)
	if n := runningCancels.Load(); n != 0 {
		t.Fatalf("OnCancel on running job called %d times", n)
	}
}

func TestSubmitRacingStopNeverStrandsJobs(t *testing.T) {
	t.Parallel()
	for round := 0; round < 20; round++ {
		s := New(Config{Enabled: true, Workers: 1, QueueSize: 1024}, logx.Nop(), nil)
		s.Start(context.Background())

		var (
			mu   sync.Mutex
			futs []*Future
			wg   sync.WaitGroup
		)
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 200; i++ {
					f, err := s.Submit(Job{Name: "burst", Run: func(context.Context) {}})
					if err != nil {
						return
					}
					mu.Lock()
					futs = append(futs, f)
					mu.Unlock()
				}
			}()
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		s.Stop(ctx)
		cancel()
		wg.Wait()

		for _, f := range futs {
			waitDone(t, f)
		}
	}
}

func TestStopDropsQueuedJobs(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Workers: 1, QueueSize: 4}, logx.Nop(), nil)
	s.Start(context.Background())

	block := make(chan struct{})
	started := make(chan struct{})
	if _, err := s.Submit(Job{Name: "blocker", Run: func(ctx context.Context) {
		close(started)
		select {
		case <-block:
		case <-ctx.Done():
		}
	}}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started

	var drops atomic.Int32
	var reason atomic.Value
	f, err := s.Submit(Job{Name: "queued", Run: func(context.Context) {}, OnDrop: func(err error) {
		drops.Add(1)
		reason.Store(err)
	}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	close(block)

	waitDone(t, f)
	if f.State() != FutureDropped {
		t.Fatalf("state = %s, want dropped", f.State())
	}
	if drops.Load() != 1 {
		t.Fatalf("OnDrop calls = %d, want 1", drops.Load())
	}
	if err, _ := reason.Load().(error); !errors.Is(err, ErrStopped) {
		t.Fatalf("drop reason = %v, want ErrStopped", err)
	}
}

func TestQueueFull(t *testing.T) {
	t.Parallel()
	s := newStarted(t, Config{Workers: 1, QueueSize: 1})
	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	if _, err := s.Submit(Job{Name: "blocker", Run: func(context.Context) { close(started); <-block }}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started
	if _, err := s.Submit(Job{Name: "fills", Run: func(context.Context) {}}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := s.Submit(Job{Name: "overflow", Run: func(context.Context) {}}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if got := s.Snapshot().DroppedQueueFull; got != 1 {
		t.Fatalf("DroppedQueueFull = %d, want 1", got)
	}
}

func TestPanickingJobKeepsWorkerAlive(t *testing.T) {
	t.Parallel()
	s := newStarted(t, Config{Workers: 1})
	f, err := s.Submit(Job{Name: "panics", Run: func(context.Context) { panic("x") }})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitDone(t, f)
	var ran atomic.Bool
	g, err := s.Submit(Job{Name: "after", Run: func(context.Context) { ran.Store(true) }})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitDone(t, g)
	if !ran.Load() {
		t.Fatal("worker did not survive panic")
	}
}
