package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"schedkit/internal/eventbus"
	"schedkit/internal/storage"
	"schedkit/internal/task/engine"
	"schedkit/internal/task/handle"
	logx "schedkit/pkg/logx"
)

const storeTimeout = 2 * time.Second

// Schedule runs work as soon as a worker is free.
func (s *Service) Schedule(name string, work handle.Work) (*handle.Handle, error) {
	return s.submit(name, 0, work)
}

// ScheduleAfter runs work once delay has elapsed.
func (s *Service) ScheduleAfter(name string, delay time.Duration, work handle.Work) (*handle.Handle, error) {
	return s.submit(name, delay, work)
}

// ScheduleAt runs work at the given instant. Instants in the past run now.
func (s *Service) ScheduleAt(name string, at time.Time, work handle.Work) (*handle.Handle, error) {
	if at.IsZero() {
		return nil, errors.New("at required")
	}
	return s.submit(name, time.Until(at), work)
}

// submit creates a handle owned by the set, hands it to the engine and
// attaches the returned future. On any failure the handle is disposed.
func (s *Service) submit(name string, delay time.Duration, work handle.Work) (*handle.Handle, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	if work == nil {
		return nil, ErrNoWork
	}
	s.mu.Lock()
	enabled, set := s.cfg.Enabled, s.set
	s.mu.Unlock()
	if !enabled {
		return nil, ErrDisabled
	}
	if s.engine == nil {
		return nil, ErrStopped
	}

	id := uuid.NewString()
	h := handle.New(s.instrument(id, name, work), set,
		handle.WithID(id), handle.WithName(name), handle.WithReporter(s.rep))
	if !set.Add(h) {
		return nil, ErrStopped
	}

	fut, err := s.engine.SubmitAfter(engine.Job{
		ID:   id,
		Name: name,
		Run:  h.Run,
		OnDrop: func(reason error) {
			s.abandon(h, storage.OutcomeDropped, reason.Error())
		},
		OnCancel: func() {
			s.abandon(h, storage.OutcomeDisposed, "cancelled")
		},
	}, delay)
	if err != nil {
		h.Dispose()
		s.reportEnqueueError(name, err)
		return nil, err
	}
	h.SetFuture(fut)

	s.scheduled.Add(1)
	s.bus.Publish(eventbus.Event{Type: eventbus.TaskScheduled, Time: time.Now(), Data: RunEvent{ID: id, Name: name, Delay: max(delay, 0)}})
	return h, nil
}

// instrument publishes lifecycle events around work and records successful
// runs. Failures are recorded by the reporter.
func (s *Service) instrument(id, name string, work handle.Work) handle.Work {
	return func(ctx context.Context) error {
		start := time.Now()
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskStarted, Time: start, Data: RunEvent{ID: id, Name: name}})
		if err := work(ctx); err != nil {
			return err
		}
		took := time.Since(start)
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskFinished, Time: time.Now(), Data: RunEvent{ID: id, Name: name, Took: took}})
		s.appendRun(storage.RunRecord{ID: id, Name: name, At: start, Outcome: storage.OutcomeOK, TookMS: took.Milliseconds()})
		return nil
	}
}

// abandon records a run that never started. The engine calls it at most once
// per job and never after the job was claimed by a worker, so a run that
// started is recorded only by instrument or the reporter.
func (s *Service) abandon(h *handle.Handle, outcome, reason string) {
	h.Dispose()
	s.bus.Publish(eventbus.Event{Type: eventbus.TaskDisposed, Time: time.Now(), Data: RunEvent{ID: h.ID(), Name: h.Name(), Reason: reason}})
	s.appendRun(storage.RunRecord{ID: h.ID(), Name: h.Name(), At: time.Now(), Outcome: outcome, Error: reason})
}

func (s *Service) appendRun(r storage.RunRecord) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.store.AppendRun(ctx, r); err != nil {
		s.log.Debug("run record not stored", logx.String("task", r.Name), logx.Err(err))
	}
}

// Cancel disposes every live handle named name, including a periodic
// registration. It returns how many handles it disposed. Work that is
// already running is interrupted and keeps its own run record.
func (s *Service) Cancel(name string) int {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0
	}
	s.mu.Lock()
	set := s.set
	s.mu.Unlock()

	var victims []*handle.Handle
	set.Each(func(h *handle.Handle) bool {
		if h.Name() == name {
			victims = append(victims, h)
		}
		return true
	})

	n := 0
	for _, h := range victims {
		if h.IsDone() {
			continue
		}
		h.Dispose()
		n++
	}
	s.cancelled.Add(uint64(n))
	if n > 0 {
		s.log.Debug("schedule cancelled", logx.String("name", name), logx.Int("handles", n))
	}
	return n
}

// SchedulePeriodic registers work under name, replacing any earlier periodic
// schedule with the same name. The returned registration handle stays live
// until it is disposed (directly, via Cancel or via Stop).
func (s *Service) SchedulePeriodic(name, spec string, work handle.Work) (*handle.Handle, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	if work == nil {
		return nil, ErrNoWork
	}
	ps, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	if ps.Kind == SpecCron {
		if _, err := s.parser.Parse(ps.Cron); err != nil {
			return nil, fmt.Errorf("invalid cron %q: %w", ps.Cron, err)
		}
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return nil, ErrDisabled
	}
	set := s.set
	s.mu.Unlock()

	d := &periodicDef{name: name, spec: ps, work: work}
	d.reg = handle.New(nil, set,
		handle.WithID(uuid.NewString()), handle.WithName(name), handle.WithReporter(s.rep))
	if !set.Add(d.reg) {
		return nil, ErrStopped
	}
	d.reg.SetFuture(handle.CancelFunc(func(bool) { s.unregister(d) }))

	s.mu.Lock()
	if d.reg.IsDisposed() {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	old := s.defs[name]
	s.defs[name] = d
	if old != nil && s.c != nil && old.entryID != 0 {
		s.c.Remove(old.entryID)
		old.entryID = 0
	}
	var armErr error
	if s.c != nil {
		armErr = s.armLocked(d)
		if armErr == nil {
			fields := []logx.Field{logx.String("name", name), logx.String("id", d.reg.ID()), logx.String("spec", ps.Expr())}
			if next := s.previewNextRunsLocked(d.entryID, 4); next != "" {
				fields = append(fields, logx.String("next", next))
			}
			s.log.Debug("schedule registered", fields...)
		}
	}
	s.mu.Unlock()

	if old != nil {
		old.reg.Dispose()
	}
	if armErr != nil {
		d.reg.Dispose()
		return nil, armErr
	}
	return d.reg, nil
}

// ScheduleDaily runs work every day at HH:MM in the scheduler timezone.
func (s *Service) ScheduleDaily(name, atHHMM string, work handle.Work) (*handle.Handle, error) {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return nil, err
	}
	return s.SchedulePeriodic(name, fmt.Sprintf("cron:%d %d * * *", m, h), work)
}

// ScheduleWeekly runs work every week on weekday at HH:MM.
func (s *Service) ScheduleWeekly(name string, weekday time.Weekday, atHHMM string, work handle.Work) (*handle.Handle, error) {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return nil, err
	}
	return s.SchedulePeriodic(name, fmt.Sprintf("cron:%d %d * * %d", m, h, int(weekday)), work)
}

func (s *Service) unregister(d *periodicDef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	d.entryID = 0
	if s.defs[d.name] == d {
		delete(s.defs, d.name)
	}
}

// armLocked adds d to the running cron. Interval schedules, including
// "@every" descriptors, get a startup spread. Call with s.mu held.
func (s *Service) armLocked(d *periodicDef) error {
	job := cron.FuncJob(func() { s.tick(d) })

	every := d.spec.Every
	if d.spec.Kind == SpecCron && strings.HasPrefix(d.spec.Cron, "@every") {
		every, _ = time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(d.spec.Cron, "@every")))
	}
	if every > 0 {
		loc := s.loc
		if loc == nil {
			loc = time.Local
		}
		sched, jitter := intervalSchedule(every, s.cfg.MaxStartupSpread, time.Now().In(loc), d.name)
		d.startupSpread = jitter
		d.entryID = s.c.Schedule(sched, job)
		return nil
	}

	d.startupSpread = 0
	eid, err := s.c.AddJob(d.spec.Cron, job)
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

// tick spawns one run of a periodic schedule. A tick is skipped while the
// previous run is still pending or running.
func (s *Service) tick(d *periodicDef) {
	if d.reg.IsDisposed() {
		return
	}
	if prev := d.last.Load(); prev != nil && !prev.IsDone() {
		s.log.Debug("schedule tick skipped", logx.String("name", d.name), logx.String("previous", prev.ID()))
		return
	}
	s.ticks.Add(1)
	h, err := s.submit(d.name, 0, d.work)
	if err != nil {
		return
	}
	d.last.Store(h)
}

// previewNextRunsLocked lists upcoming activations of a cron entry for debug
// logs. Call with s.mu held.
func (s *Service) previewNextRunsLocked(id cron.EntryID, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || s.c == nil || id == 0 {
		return ""
	}
	e := s.c.Entry(id)
	if e.Schedule == nil {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = time.Local
	}
	t := time.Now().In(loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = e.Schedule.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.In(loc).Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
