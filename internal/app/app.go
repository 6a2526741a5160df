// Package app wires the scheduler daemon together and drives its lifecycle:
// startup, hot reload of the config file and ordered shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"schedkit/internal/config"
	"schedkit/internal/eventbus"
	"schedkit/internal/jobs"
	"schedkit/internal/observability/debugsrv"
	"schedkit/internal/runtime/supervisor"
	"schedkit/internal/storage"
	"schedkit/internal/task/engine"
	"schedkit/internal/task/report"
	"schedkit/internal/task/scheduler"
	logx "schedkit/pkg/logx"
	"schedkit/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine *engine.Service
	sched  *scheduler.Service
	rep    *report.Reporter
	debug  *debugsrv.Service
	units  *lazyUnits
	notify systemd.Notifier

	mu         sync.Mutex
	registered map[string]config.JobConfig
}

// Status is served by the debug listener.
type Status struct {
	Scheduler  scheduler.Snapshot  `json:"scheduler"`
	Reporter   report.Counters     `json:"reporter"`
	Supervisor supervisor.Counters `json:"supervisor"`
	Jobs       []string            `json:"jobs"`
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := jobs.ValidateAll(cfg.Jobs); err != nil {
		return nil, err
	}

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	repOpts, err := mapReporterOptions(cfg)
	if err != nil {
		return nil, err
	}
	dbgCfg, err := mapDebugConfig(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	engineSvc := engine.New(engCfg, log.With(logx.String("comp", "engine")), bus)
	rep := report.New(log.With(logx.String("comp", "report")), bus, store, repOpts...)
	schedSvc := scheduler.New(schedCfg, scheduler.Deps{
		Engine:   engineSvc,
		Reporter: rep,
		Store:    store,
		Bus:      bus,
		Log:      log.With(logx.String("comp", "scheduler")),
	})

	a := &App{
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		engine:     engineSvc,
		sched:      schedSvc,
		rep:        rep,
		units:      &lazyUnits{log: log.With(logx.String("comp", "systemd"))},
		registered: map[string]config.JobConfig{},
	}
	a.debug = debugsrv.New(dbgCfg, debugsrv.Sources{Status: a.status, Runs: a.recentRuns}, log)
	return a, nil
}

// Done is closed when the app supervisor context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	c := a.sup.Context()
	a.units.setContext(c)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapEngineConfig(cfg); err != nil {
			return err
		}
		if _, err := mapDebugConfig(cfg); err != nil {
			return err
		}
		return jobs.ValidateAll(cfg.Jobs)
	})

	// Engine before scheduler: registering run-on-start jobs submits work.
	if a.engine.Enabled() {
		a.engine.Start(c)
	}
	if a.sched.Enabled() {
		a.sched.Start(c)
		if err := a.registerAll(a.cfgm.Get().Jobs); err != nil {
			a.log.Error("some jobs failed to register", logx.Err(err))
		}
	}
	a.debug.Start(c)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		if err := a.notify.RunWatchdog(c, a.healthy); err != nil {
			a.log.Warn("watchdog notify failed", logx.Err(err))
		}
	})

	if sent, err := a.notify.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("notified systemd: ready")
	}

	a.mu.Lock()
	n := len(a.registered)
	a.mu.Unlock()
	a.log.Info("app started", logx.Int("jobs", n))
	return nil
}

func (a *App) healthy() bool {
	return a.sup != nil && a.sup.Context().Err() == nil
}

// registerAll registers every enabled job and joins the failures.
func (a *App) registerAll(list []config.JobConfig) error {
	var errs []error
	for _, j := range list {
		if j.Disabled {
			continue
		}
		if err := a.registerJob(j); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// registerJob schedules j periodically and/or once right away.
func (a *App) registerJob(j config.JobConfig) error {
	name := strings.TrimSpace(j.Name)
	work, err := jobs.Build(j, jobs.Deps{Log: a.log.With(logx.String("comp", "job")), Units: a.units})
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	if strings.TrimSpace(j.Schedule) != "" {
		if _, err := a.sched.SchedulePeriodic(name, j.Schedule, work); err != nil {
			return fmt.Errorf("job %s: %w", name, err)
		}
	}
	a.mu.Lock()
	a.registered[name] = j
	a.mu.Unlock()

	if j.RunOnStart {
		if _, err := a.sched.Schedule(name, work); err != nil {
			return fmt.Errorf("job %s: run on start: %w", name, err)
		}
	}
	a.log.Debug("job registered", logx.String("name", name), logx.String("kind", j.Kind), logx.String("schedule", j.Schedule))
	return nil
}

// unregisterJob cancels the periodic registration and any pending runs.
func (a *App) unregisterJob(name string) {
	n := a.sched.Cancel(name)
	a.mu.Lock()
	delete(a.registered, name)
	a.mu.Unlock()
	a.log.Debug("job unregistered", logx.String("name", name), logx.Int("handles", n))
}

func (a *App) clearRegistered() {
	a.mu.Lock()
	clear(a.registered)
	a.mu.Unlock()
}

func (a *App) status() any {
	st := Status{
		Scheduler: a.sched.Snapshot(),
		Reporter:  a.rep.Counters(),
	}
	if a.sup != nil {
		st.Supervisor = a.sup.Counters()
	}
	a.mu.Lock()
	for name := range a.registered {
		st.Jobs = append(st.Jobs, name)
	}
	a.mu.Unlock()
	return st
}

func (a *App) recentRuns(ctx context.Context, limit int) (any, error) {
	if a.store == nil {
		return nil, storage.ErrDisabled
	}
	return a.store.RecentRuns(ctx, limit)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := a.notify.Stopping(); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		runStep(ctx, a.log, name, max, fn)
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("engine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("debug", 1*time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("systemd", 1*time.Second, func(context.Context) error { return a.units.Close() })
	step("storage", 1*time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// runStep runs one shutdown step with an upper bound so a stuck component
// can't stall the whole stop. The caller's deadline is never extended.
func runStep(ctx context.Context, log logx.Logger, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	stepCtx := ctx
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, max)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
	}
}
