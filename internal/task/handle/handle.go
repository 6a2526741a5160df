package handle

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
)

// Handle tracks one scheduled unit of work.
//
// Zero value is not usable; construct with New.
type Handle struct {
	id   string
	name string
	work Work
	rep  Reporter

	ran atomic.Bool

	parent slot[Owner]
	future slot[Canceler]
}

// New creates a handle already linked to owner. It has no side effects:
// the caller adds the handle to owner itself.
func New(work Work, owner Owner, opts ...Option) *Handle {
	h := &Handle{work: work, rep: Discard}
	for _, o := range opts {
		if o != nil {
			o(h)
		}
	}
	h.parent.init(stateLinked, owner)
	h.future.init(stateEmpty, nil)
	return h
}

func (h *Handle) ID() string   { return h.id }
func (h *Handle) Name() string { return h.name }

// Run is the execution entry point. It runs the work at most once, reports
// any failure, and then retires both slots.
//
// Run never panics because of the work and never returns its error.
func (h *Handle) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	defer h.finish()
	if !h.ran.CompareAndSwap(false, true) {
		return
	}
	h.exec(ctx)
}

func (h *Handle) exec(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			h.report(Failure{
				ID:    h.id,
				Name:  h.name,
				Err:   fmt.Errorf("panic: %v", p),
				Panic: p,
				Stack: debug.Stack(),
			})
		}
	}()
	if h.work == nil {
		return
	}
	if err := h.work(ctx); err != nil {
		h.report(Failure{ID: h.id, Name: h.name, Err: err})
	}
}

// report shields Run from a misbehaving reporter.
func (h *Handle) report(f Failure) {
	defer func() { _ = recover() }()
	h.rep.Report(f)
}

// finish runs after the work, including after a failure.
func (h *Handle) finish() {
	// Done races with Dispose here. The loser sees a terminal value and abstains.
	p := h.parent.load()
	if !p.state.terminal() {
		if h.parent.cas(p, stateDone, nil) && p.ref != nil {
			p.ref.Delete(h)
		}
	}

	for {
		f := h.future.load()
		if f.state.terminal() {
			return
		}
		// f is empty or holds a platform handle; neither needs cancelling now.
		if h.future.cas(f, stateDone, nil) {
			return
		}
	}
}

// SetFuture attaches the platform handle obtained after submission.
//
// If Run already retired the slot, c is forgotten. If the handle was disposed
// first, c is cancelled immediately. A later SetFuture replaces an earlier
// live value without cancelling it.
func (h *Handle) SetFuture(c Canceler) {
	if c == nil {
		return
	}
	for {
		f := h.future.load()
		switch f.state {
		case stateDone:
			return
		case stateDisposed:
			c.Cancel(true)
			return
		}
		if h.future.cas(f, stateLinked, c) {
			return
		}
	}
}

// Dispose cancels the attached platform handle (if any) and unlinks the
// handle from its owner. It is idempotent and safe from any goroutine,
// including from inside the owner while it disposes its members.
func (h *Handle) Dispose() {
	for {
		f := h.future.load()
		if f.state.terminal() {
			break
		}
		if h.future.cas(f, stateDisposed, nil) {
			if f.state == stateLinked && f.ref != nil {
				f.ref.Cancel(true)
			}
			break
		}
	}

	for {
		p := h.parent.load()
		if p.state.terminal() {
			break
		}
		if h.parent.cas(p, stateDisposed, nil) {
			if p.ref != nil {
				p.ref.Delete(h)
			}
			break
		}
	}
}

// IsDisposed reports whether Dispose claimed either slot.
func (h *Handle) IsDisposed() bool {
	return h.parent.load().state == stateDisposed || h.future.load().state == stateDisposed
}

// IsDone reports whether both slots are terminal.
func (h *Handle) IsDone() bool {
	return h.parent.load().state.terminal() && h.future.load().state.terminal()
}

func (h *Handle) String() string {
	return fmt.Sprintf("handle{id=%s name=%s parent=%s future=%s}",
		h.id, h.name, h.parent.load().state, h.future.load().state)
}
