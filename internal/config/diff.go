package config

import (
	"reflect"
	"sort"
	"strings"

	logx "schedkit/pkg/logx"
)

// SummarizeConfigChange returns the changed section names and compact
// structured attrs for the reload log line.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		attrs   []logx.Field
	)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Bool("engine.enabled", EngineEnabled(newCfg)),
			logx.Int("engine.workers", newCfg.Engine.Workers),
			logx.Int("engine.queue_size", newCfg.Engine.QueueSize),
			logx.String("engine.default_timeout", strings.TrimSpace(newCfg.Engine.DefaultTimeout)),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Reporter, newCfg.Reporter) {
		changed = append(changed, "reporter")
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
		}
	}

	if !reflect.DeepEqual(oldCfg.Debug, newCfg.Debug) {
		changed = append(changed, "debug")
		if newCfg.Debug != nil {
			attrs = append(attrs,
				logx.Bool("debug.enabled", newCfg.Debug.Enabled),
				logx.String("debug.addr", DebugAddr(newCfg.Debug)),
			)
		}
	}

	jd := DiffJobs(oldCfg.Jobs, newCfg.Jobs)
	if !jd.Empty() {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Int("jobs.added", len(jd.Added)),
			logx.Int("jobs.changed", len(jd.Changed)),
			logx.Int("jobs.removed", len(jd.Removed)),
		)
	}

	return changed, attrs
}

// EngineEnabled resolves engine.enabled, which defaults to scheduler.enabled.
func EngineEnabled(cfg *Config) bool {
	if cfg.Engine.Enabled != nil {
		return *cfg.Engine.Enabled
	}
	return cfg.Scheduler.Enabled
}

// JobDiff lists job names by what happened to them. Disabled jobs count as
// absent.
type JobDiff struct {
	Added   []string
	Changed []string
	Removed []string
}

func (d JobDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Changed) == 0 && len(d.Removed) == 0
}

// DiffJobs compares two job lists by name and definition hash.
func DiffJobs(oldJobs, newJobs []JobConfig) JobDiff {
	oldH := activeJobHashes(oldJobs)
	newH := activeJobHashes(newJobs)

	var d JobDiff
	for name, h := range newH {
		prev, ok := oldH[name]
		switch {
		case !ok:
			d.Added = append(d.Added, name)
		case prev != h:
			d.Changed = append(d.Changed, name)
		}
	}
	for name := range oldH {
		if _, ok := newH[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Changed)
	sort.Strings(d.Removed)
	return d
}

func activeJobHashes(jobs []JobConfig) map[string]uint64 {
	out := make(map[string]uint64, len(jobs))
	for _, j := range jobs {
		name := strings.TrimSpace(j.Name)
		if name == "" || j.Disabled {
			continue
		}
		out[name] = JobHash(j)
	}
	return out
}
