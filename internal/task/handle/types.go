package handle

import (
	"context"
	"fmt"
)

// Work is the unit of work wrapped by a Handle.
//
// A returned error (or a panic) is a work failure: it is reported, never
// propagated to the goroutine that called Run.
type Work func(ctx context.Context) error

// Owner is the collection that tracks live handles.
//
// Delete is called at most once per handle, either by Run (normal completion)
// or by Dispose, whichever claims the parent slot first.
type Owner interface {
	Delete(h *Handle) bool
}

// Canceler is the platform handle for a submitted task (a timer, a queued
// executor job, a cron entry...).
//
// Cancel is called at most once per attached value. interrupt asks the
// platform to stop work that is already running.
type Canceler interface {
	Cancel(interrupt bool)
}

// CancelFunc adapts a function to Canceler.
type CancelFunc func(interrupt bool)

func (f CancelFunc) Cancel(interrupt bool) {
	if f != nil {
		f(interrupt)
	}
}

// Failure describes a work failure observed during Run.
type Failure struct {
	ID   string
	Name string

	// Err is the returned error, or a synthesized error for panics.
	Err error

	// Panic is the recovered value (nil unless the work panicked).
	Panic any
	Stack []byte
}

func (f Failure) Error() string {
	if f.Name == "" {
		return fmt.Sprintf("task %s: %v", f.ID, f.Err)
	}
	return fmt.Sprintf("task %s (%s): %v", f.Name, f.ID, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Reporter receives work failures.
type Reporter interface {
	Report(f Failure)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(f Failure)

func (fn ReporterFunc) Report(f Failure) {
	if fn != nil {
		fn(f)
	}
}

// Discard drops every failure.
var Discard Reporter = ReporterFunc(func(Failure) {})

// Option configures a Handle at construction.
type Option func(h *Handle)

// WithName sets a human-readable name used in failure reports.
func WithName(name string) Option {
	return func(h *Handle) { h.name = name }
}

// WithID sets the handle identifier. Callers usually pass a uuid.
func WithID(id string) Option {
	return func(h *Handle) { h.id = id }
}

// WithReporter routes work failures to r. A nil r is ignored.
func WithReporter(r Reporter) Option {
	return func(h *Handle) {
		if r != nil {
			h.rep = r
		}
	}
}
