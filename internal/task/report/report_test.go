package report

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"schedkit/internal/eventbus"
	"schedkit/internal/storage"
	"schedkit/internal/task/handle"
	logx "schedkit/pkg/logx"
)

type memStore struct {
	mu   sync.Mutex
	runs []storage.RunRecord
	err  error
}

func (m *memStore) AppendRun(_ context.Context, r storage.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.runs = append(m.runs, r)
	return nil
}

func (m *memStore) RecentRuns(context.Context, int) ([]storage.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.RunRecord(nil), m.runs...), nil
}

func (m *memStore) Close() error { return nil }

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestReportFanOut(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4, eventbus.TaskFailed)
	defer unsub()
	st := &memStore{}
	var out syncBuffer
	r := New(logx.NewWriter(&out, "debug"), bus, st)

	r.Report(handle.Failure{ID: "1", Name: "backup", Err: errors.New("disk full")})

	select {
	case ev := <-ch:
		fe, ok := ev.Data.(FailedEvent)
		if !ok || fe.Name != "backup" || fe.Error != "disk full" || fe.Panic {
			t.Fatalf("event = %+v", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no task.failed event")
	}
	runs, _ := st.RecentRuns(context.Background(), 0)
	if len(runs) != 1 || runs[0].Outcome != storage.OutcomeError || runs[0].Error != "disk full" {
		t.Fatalf("runs = %+v", runs)
	}
	if !strings.Contains(out.String(), "task failed") {
		t.Fatalf("log output = %q", out.String())
	}
	if c := r.Counters(); c.Reported != 1 || c.Errors != 1 || c.Panics != 0 {
		t.Fatalf("counters = %+v", c)
	}
}

func TestReportPanic(t *testing.T) {
	t.Parallel()
	st := &memStore{}
	var out syncBuffer
	r := New(logx.NewWriter(&out, "debug"), nil, st)

	r.Report(handle.Failure{ID: "2", Name: "p", Err: errors.New("panic: boom"), Panic: "boom", Stack: []byte("goroutine 1")})

	if c := r.Counters(); c.Panics != 1 || c.Errors != 0 {
		t.Fatalf("counters = %+v", c)
	}
	runs, _ := st.RecentRuns(context.Background(), 0)
	if len(runs) != 1 || runs[0].Outcome != storage.OutcomePanic {
		t.Fatalf("runs = %+v", runs)
	}
	if !strings.Contains(out.String(), "task panicked") {
		t.Fatalf("log output = %q", out.String())
	}
}

func TestReportThrottlesLogsNotCounters(t *testing.T) {
	t.Parallel()
	var out syncBuffer
	r := New(logx.NewWriter(&out, "debug"), nil, nil, WithLimit(time.Hour, 1))
	for i := 0; i < 5; i++ {
		r.Report(handle.Failure{ID: "x", Err: errors.New("e")})
	}
	c := r.Counters()
	if c.Reported != 5 || c.Suppressed != 4 {
		t.Fatalf("counters = %+v", c)
	}
	if n := strings.Count(out.String(), "task failed"); n != 1 {
		t.Fatalf("logged %d lines, want 1", n)
	}
}

func TestReportStoreError(t *testing.T) {
	t.Parallel()
	r := New(logx.Nop(), nil, &memStore{err: storage.ErrClosed})
	r.Report(handle.Failure{ID: "x", Err: errors.New("e")})
	if c := r.Counters(); c.StoreErrors != 1 {
		t.Fatalf("StoreErrors = %d, want 1", c.StoreErrors)
	}
}

func TestReporterDrivesHandle(t *testing.T) {
	t.Parallel()
	r := New(logx.Nop(), nil, nil)
	h := handle.New(func(context.Context) error { return errors.New("bad") }, nil, handle.WithReporter(r), handle.WithName("h"))
	h.Run(context.Background())
	if c := r.Counters(); c.Errors != 1 {
		t.Fatalf("Errors = %d, want 1", c.Errors)
	}
}
