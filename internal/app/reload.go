package app

import (
	"context"
	"strings"
	"time"

	"schedkit/internal/config"
	logx "schedkit/pkg/logx"
)

func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			newCfg = latest(sub, newCfg)
			a.applyConfig(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// latest drains sub so a burst of saves is applied once.
func latest(sub <-chan *config.Config, cfg *config.Config) *config.Config {
	for {
		select {
		case newer := <-sub:
			if newer != nil {
				cfg = newer
			}
		default:
			return cfg
		}
	}
}

// applyConfig moves the running daemon from oldCfg to newCfg. Storage and
// reporter changes only take effect on restart.
func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	for _, s := range sections {
		if s == "storage" || s == "reporter" {
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}
	if _, err := a.notify.Status("reloading " + strings.Join(sections, ",")); err != nil {
		a.log.Debug("sd_notify status failed", logx.Err(err))
	}

	a.logs.Apply(mapLogConfig(newCfg))

	prevSched := a.sched.Enabled()
	prevEng := a.engine.Enabled()

	if engCfg, err := mapEngineConfig(newCfg); err != nil {
		a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(c, engCfg)
	}
	if schedCfg, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(schedCfg)
	}
	newSched := a.sched.Enabled()
	newEng := a.engine.Enabled()

	// Scheduler first on the way down; engine first on the way up.
	if prevSched && !newSched {
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
		a.clearRegistered()
	}
	if prevEng && !newEng {
		a.log.Info("task engine disabled via config")
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		a.engine.Stop(stopCtx)
		cancel()
	}
	if !prevEng && newEng {
		a.log.Info("task engine enabled via config")
		a.engine.Start(c)
	}
	switch {
	case !prevSched && newSched:
		a.log.Info("scheduler enabled via config")
		a.sched.Start(c)
		if err := a.registerAll(newCfg.Jobs); err != nil {
			a.log.Error("some jobs failed to register", logx.Err(err))
		}
	case newSched:
		a.applyJobDiff(oldCfg, newCfg)
	}

	if dbg, err := mapDebugConfig(newCfg); err != nil {
		a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
	} else {
		a.debug.Reconfigure(c, dbg)
	}

	a.log.Info("config reloaded", fields...)
}

// applyJobDiff re-registers only the jobs whose definition changed.
func (a *App) applyJobDiff(oldCfg, newCfg *config.Config) {
	d := config.DiffJobs(oldCfg.Jobs, newCfg.Jobs)
	if d.Empty() {
		return
	}
	byName := make(map[string]config.JobConfig, len(newCfg.Jobs))
	for _, j := range newCfg.Jobs {
		byName[strings.TrimSpace(j.Name)] = j
	}
	for _, name := range append(append([]string(nil), d.Removed...), d.Changed...) {
		a.unregisterJob(name)
	}
	for _, name := range append(append([]string(nil), d.Added...), d.Changed...) {
		if err := a.registerJob(byName[name]); err != nil {
			a.log.Error("job register failed", logx.String("name", name), logx.Err(err))
		}
	}
	a.log.Info("jobs updated",
		logx.Int("added", len(d.Added)),
		logx.Int("changed", len(d.Changed)),
		logx.Int("removed", len(d.Removed)),
	)
}
