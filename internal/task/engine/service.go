package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"schedkit/internal/eventbus"
	rtsup "schedkit/internal/runtime/supervisor"
	logx "schedkit/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	q        chan *Future
	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}

	inFlight atomic.Int32

	hmu     sync.Mutex
	history []HistoryItem

	idSeq atomic.Uint64

	submitted        atomic.Uint64
	cancelled        atomic.Uint64
	dropped          atomic.Uint64
	droppedQueueFull atomic.Uint64
	droppedStale     atomic.Uint64
	droppedStopped   atomic.Uint64

	lastDropWarnAt atomic.Int64
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Service{cfg: cfg.withDefaults(), log: log, bus: bus}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply updates the config. Worker/queue size changes restart the pool.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.stopCh != nil && s.stopDone == nil
	s.mu.Unlock()

	if !running {
		return
	}
	if prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize || !cfg.Enabled {
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start launches the worker pool. Idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	if s.stopCh != nil {
		done := s.stopDone
		s.mu.Unlock()
		if done == nil {
			return
		}
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
		if s.stopCh != nil {
			s.mu.Unlock()
			return
		}
	}

	cfg := s.cfg
	s.q = make(chan *Future, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.stopDone = nil
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log.With(logx.String("comp", "engine.sup"))))
	queue, stopCh, sup := s.q, s.stopCh, s.sup
	s.mu.Unlock()

	for i := 0; i < cfg.Workers; i++ {
		idx := i
		sup.GoRestart(fmt.Sprintf("worker.%d", idx), func(c context.Context) error {
			s.worker(c, stopCh, queue)
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}

	s.log.Info("task engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cap(queue)))
}

// Stop stops the workers. Jobs still queued are dropped with ErrStopped.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup, queue := s.sup, s.q
	s.mu.Unlock()

	sup.Cancel()
	go func() {
		_ = sup.Wait(context.Background())
		s.mu.Lock()
		s.q = nil
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
		s.drain(queue)
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("task engine stopped")
	case <-ctx.Done():
		s.log.Warn("task engine stop timed out", logx.Err(ctx.Err()))
	}
}

func (s *Service) drain(queue chan *Future) {
	for {
		select {
		case f := <-queue:
			s.dropFuture(f, FutureQueued, ErrStopped)
		default:
			return
		}
	}
}

// Submit queues job for immediate execution without blocking.
func (s *Service) Submit(job Job) (*Future, error) {
	f, err := s.prepare(job, FutureQueued)
	if err != nil {
		return nil, err
	}
	if err := s.enqueue(f); err != nil {
		if errors.Is(err, ErrQueueFull) {
			s.droppedQueueFull.Add(1)
			s.dropped.Add(1)
			s.warnDrop(job, err)
		}
		return nil, err
	}
	s.submitted.Add(1)
	return f, nil
}

// SubmitAfter queues job once delay has elapsed. Cancelling the returned
// Future before then stops the timer. If the queue is full when the timer
// fires, the job is dropped and job.OnDrop is called.
func (s *Service) SubmitAfter(job Job, delay time.Duration) (*Future, error) {
	if delay <= 0 {
		return s.Submit(job)
	}
	f, err := s.prepare(job, FutureWaiting)
	if err != nil {
		return nil, err
	}
	if _, err := s.queue(); err != nil {
		return nil, err
	}
	s.submitted.Add(1)
	f.mu.Lock()
	f.timer = time.AfterFunc(delay, func() { s.fire(f) })
	f.mu.Unlock()
	return f, nil
}

func (s *Service) fire(f *Future) {
	if !f.state.CompareAndSwap(int32(FutureWaiting), int32(FutureQueued)) {
		return
	}
	if err := s.enqueue(f); err != nil {
		s.dropFuture(f, FutureQueued, err)
	}
}

// enqueue sends f without blocking. The send happens under s.mu so a
// concurrent Stop either rejects f or finds it in the queue it drains.
func (s *Service) enqueue(f *Future) error {
	f.mu.Lock()
	f.enqueuedAt = time.Now()
	f.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	q, err := s.queueLocked()
	if err != nil {
		return err
	}
	select {
	case q <- f:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) prepare(job Job, st FutureState) (*Future, error) {
	if job.Run == nil {
		return nil, ErrNoRun
	}
	job.Name = strings.TrimSpace(job.Name)
	if job.Name == "" {
		job.Name = "task"
	}
	if strings.TrimSpace(job.ID) == "" {
		job.ID = s.newJobID(time.Now())
	}
	f := newFuture(job, st)
	f.onCancel = func() { s.cancelled.Add(1) }
	return f, nil
}

func (s *Service) queue() (chan *Future, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queueLocked()
}

func (s *Service) queueLocked() (chan *Future, error) {
	if !s.cfg.Enabled {
		return nil, ErrDisabled
	}
	if s.q == nil || s.stopCh == nil {
		return nil, ErrStopped
	}
	if s.stopDone != nil {
		return nil, ErrStopping
	}
	return s.q, nil
}

func (s *Service) dropFuture(f *Future, from FutureState, reason error) {
	if !f.drop(from, reason) {
		return
	}
	s.dropped.Add(1)
	switch {
	case errors.Is(reason, ErrQueueFull):
		s.droppedQueueFull.Add(1)
	case errors.Is(reason, ErrStale):
		s.droppedStale.Add(1)
	default:
		s.droppedStopped.Add(1)
	}
	s.record(HistoryItem{ID: f.job.ID, Name: f.job.Name, Started: time.Now(), Outcome: "dropped:" + reason.Error()})
	s.warnDrop(f.job, reason)
}

func (s *Service) warnDrop(job Job, reason error) {
	s.bus.Publish(eventbus.Event{Type: eventbus.TaskDropped, Data: DropEvent{ID: job.ID, Name: job.Name, Reason: reason.Error()}})

	now := time.Now().UnixNano()
	prev := s.lastDropWarnAt.Load()
	if prev != 0 && now-prev < int64(warnThrottleEvery) {
		return
	}
	if !s.lastDropWarnAt.CompareAndSwap(prev, now) {
		return
	}
	s.log.Warn("task dropped", logx.String("task", job.Name), logx.String("id", job.ID), logx.Err(reason), logx.Uint64("dropped", s.dropped.Load()))
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	q := s.q
	s.mu.Unlock()

	s.hmu.Lock()
	h := make([]HistoryItem, len(s.history))
	copy(h, s.history)
	s.hmu.Unlock()

	snap := Snapshot{
		Enabled:          cfg.Enabled,
		Workers:          cfg.Workers,
		InFlight:         int(s.inFlight.Load()),
		Submitted:        s.submitted.Load(),
		Cancelled:        s.cancelled.Load(),
		Dropped:          s.dropped.Load(),
		DroppedQueueFull: s.droppedQueueFull.Load(),
		DroppedStale:     s.droppedStale.Load(),
		DroppedStopped:   s.droppedStopped.Load(),
		DefaultTimeout:   cfg.DefaultTimeout,
		MaxQueueDelay:    cfg.MaxQueueDelay,
		History:          h,
	}
	if q != nil {
		snap.QueueLen = len(q)
		snap.QueueCap = cap(q)
	}
	return snap
}

func (s *Service) newJobID(now time.Time) string {
	return fmt.Sprintf("job-%x-%x", now.UnixNano(), s.idSeq.Add(1))
}
