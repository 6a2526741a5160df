// Package report turns task failures into log lines, bus events, run records
// and counters.
package report

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"schedkit/internal/eventbus"
	"schedkit/internal/storage"
	"schedkit/internal/task/handle"
	logx "schedkit/pkg/logx"
)

// FailedEvent is the payload of eventbus.TaskFailed.
type FailedEvent struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Error string `json:"error"`
	Panic bool   `json:"panic"`
}

// Counters are exact even when logging is throttled.
type Counters struct {
	Reported    uint64
	Errors      uint64
	Panics      uint64
	Suppressed  uint64 // log lines skipped by the limiter
	StoreErrors uint64
}

type Option func(r *Reporter)

// WithLimit sets the log rate. A non-positive limit disables throttling.
func WithLimit(every time.Duration, burst int) Option {
	return func(r *Reporter) {
		if every <= 0 {
			r.lim = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		r.lim = rate.NewLimiter(rate.Every(every), burst)
	}
}

// WithStoreTimeout bounds each run-record write.
func WithStoreTimeout(d time.Duration) Option {
	return func(r *Reporter) {
		if d > 0 {
			r.storeTimeout = d
		}
	}
}

// Reporter implements handle.Reporter.
type Reporter struct {
	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store

	lim          *rate.Limiter
	storeTimeout time.Duration

	reported    atomic.Uint64
	errs        atomic.Uint64
	panics      atomic.Uint64
	suppressed  atomic.Uint64
	pending     atomic.Uint64 // suppressed since the last logged line
	storeErrors atomic.Uint64
}

var _ handle.Reporter = (*Reporter)(nil)

// New builds a Reporter. bus and store may be nil.
func New(log logx.Logger, bus eventbus.Bus, store storage.Store, opts ...Option) *Reporter {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	r := &Reporter{
		log:          log,
		bus:          bus,
		store:        store,
		lim:          rate.NewLimiter(rate.Every(time.Second), 10),
		storeTimeout: 2 * time.Second,
	}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	return r
}

func (r *Reporter) Report(f handle.Failure) {
	r.reported.Add(1)
	isPanic := f.Panic != nil
	if isPanic {
		r.panics.Add(1)
	} else {
		r.errs.Add(1)
	}

	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	r.bus.Publish(eventbus.Event{
		Type: eventbus.TaskFailed,
		Time: time.Now(),
		Data: FailedEvent{ID: f.ID, Name: f.Name, Error: msg, Panic: isPanic},
	})

	r.logFailure(f, isPanic)
	r.persist(f, msg, isPanic)
}

func (r *Reporter) logFailure(f handle.Failure, isPanic bool) {
	if r.lim != nil && !r.lim.Allow() {
		r.suppressed.Add(1)
		r.pending.Add(1)
		return
	}
	fields := []logx.Field{logx.String("task", f.Name), logx.String("id", f.ID), logx.Err(f.Err)}
	if n := r.pending.Swap(0); n > 0 {
		fields = append(fields, logx.Uint64("suppressed", n))
	}
	if isPanic {
		fields = append(fields, logx.Any("panic", f.Panic), logx.Stack(string(f.Stack)))
		r.log.Error("task panicked", fields...)
		return
	}
	if errors.Is(f.Err, context.Canceled) {
		r.log.Info("task cancelled", fields...)
		return
	}
	r.log.Warn("task failed", fields...)
}

func (r *Reporter) persist(f handle.Failure, msg string, isPanic bool) {
	if r.store == nil {
		return
	}
	outcome := storage.OutcomeError
	if isPanic {
		outcome = storage.OutcomePanic
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.storeTimeout)
	defer cancel()
	err := r.store.AppendRun(ctx, storage.RunRecord{
		ID:      f.ID,
		Name:    f.Name,
		At:      time.Now(),
		Outcome: outcome,
		Error:   msg,
	})
	if err != nil {
		r.storeErrors.Add(1)
		r.log.Debug("failure record not stored", logx.String("id", f.ID), logx.Err(err))
	}
}

func (r *Reporter) Counters() Counters {
	return Counters{
		Reported:    r.reported.Load(),
		Errors:      r.errs.Load(),
		Panics:      r.panics.Load(),
		Suppressed:  r.suppressed.Load(),
		StoreErrors: r.storeErrors.Load(),
	}
}
