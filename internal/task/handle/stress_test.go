package handle

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
)

// Every interleaving of Run, SetFuture and Dispose must remove the handle
// exactly once and cancel the attached platform handle at most once.
func TestStressAllOperations(t *testing.T) {
	t.Parallel()

	iters := 3000
	if testing.Short() {
		iters = 300
	}

	for i := 0; i < iters; i++ {
		owner := &countingOwner{}
		c := &countingCanceler{}
		rep := &collectingReporter{}
		fail := i%3 == 0
		h := New(func(context.Context) error {
			runtime.Gosched()
			if fail {
				return errors.New("fail")
			}
			return nil
		}, owner, WithReporter(rep))

		var wg sync.WaitGroup
		start := make(chan struct{})
		ops := []func(){
			func() { h.Run(context.Background()) },
			func() { h.SetFuture(c) },
			func() { h.Dispose() },
			func() { h.Dispose() },
		}
		// Rotate start order so each op gets a chance to lead.
		for j := range ops {
			op := ops[(i+j)%len(ops)]
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				op()
			}()
		}
		close(start)
		wg.Wait()

		if got := owner.deletes.Load(); got != 1 {
			t.Fatalf("iter %d: owner deletes = %d, want 1", i, got)
		}
		if got := c.cancels.Load(); got > 1 {
			t.Fatalf("iter %d: cancels = %d, want <= 1", i, got)
		}
		// A disposed future slot means the attached handle must have been cancelled,
		// either by Dispose (attached first) or by SetFuture (disposed first).
		if h.future.load().state == stateDisposed && c.cancels.Load() != 1 {
			t.Fatalf("iter %d: future disposed but handle not cancelled", i)
		}
		if !h.IsDone() {
			t.Fatalf("iter %d: handle not retired: %s", i, h)
		}
		wantFailures := 0
		if fail {
			wantFailures = 1
		}
		if rep.len() != wantFailures {
			t.Fatalf("iter %d: failures = %d, want %d", i, rep.len(), wantFailures)
		}
	}
}
