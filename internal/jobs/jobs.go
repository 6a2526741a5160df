package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"schedkit/internal/config"
	"schedkit/internal/task/handle"
	"schedkit/internal/task/scheduler"
	logx "schedkit/pkg/logx"
	"schedkit/pkg/systemd"
)

const (
	KindExec = "exec"
	KindLog  = "log"
	KindUnit = "unit"
)

// Deps are shared by every built job.
type Deps struct {
	Log logx.Logger
	// Units backs "unit" jobs. Nil means systemctl.
	Units systemd.Units
}

// Validate checks one job declaration.
func Validate(j config.JobConfig) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(j.Name) == "" {
		add("name: required")
	}
	if strings.TrimSpace(j.Schedule) == "" && !j.RunOnStart {
		add("schedule: required unless run_on_start is set")
	}
	if strings.TrimSpace(j.Schedule) != "" {
		if err := scheduler.ValidateSchedule(j.Schedule); err != nil {
			add("schedule: %w", err)
		}
	}

	switch kind(j) {
	case KindExec:
		if strings.TrimSpace(j.Command) == "" {
			add("command: required for exec jobs")
		}
		for _, kv := range j.Env {
			if k, _, ok := strings.Cut(kv, "="); !ok || strings.TrimSpace(k) == "" {
				add("env: %q is not KEY=VALUE", kv)
			}
		}
	case KindLog:
		if strings.TrimSpace(j.Message) == "" {
			add("message: required for log jobs")
		}
		if lvl := strings.TrimSpace(j.Level); lvl != "" && !logx.ValidLevel(lvl) {
			add("level: unknown level %q", lvl)
		}
	case KindUnit:
		if strings.TrimSpace(j.Unit) == "" {
			add("unit: required for unit jobs")
		}
		if _, err := systemd.ParseAction(j.Action); err != nil {
			add("action: %w", err)
		}
	default:
		add("kind: unknown %q (want exec, log or unit)", j.Kind)
	}
	return errors.Join(errs...)
}

// ValidateAll validates every enabled job, prefixing errors with the job.
func ValidateAll(jobs []config.JobConfig) error {
	var errs []error
	for i, j := range jobs {
		if j.Disabled {
			continue
		}
		if err := Validate(j); err != nil {
			errs = append(errs, fmt.Errorf("jobs[%d] (%s): %w", i, j.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Build returns the work for j. The timeout, when set, bounds each run on
// top of whatever the engine applies.
func Build(j config.JobConfig, deps Deps) (handle.Work, error) {
	if err := Validate(j); err != nil {
		return nil, err
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("job", j.Name))

	timeout, _ := config.ParseDurationField("timeout", j.Timeout)

	var work handle.Work
	switch kind(j) {
	case KindExec:
		work = execWork(j, log)
	case KindLog:
		work = logWork(j, log)
	case KindUnit:
		units := deps.Units
		if units == nil {
			units = systemd.Controller{}
		}
		action, _ := systemd.ParseAction(j.Action)
		unit := strings.TrimSpace(j.Unit)
		work = func(ctx context.Context) error {
			if err := units.Do(ctx, action, unit); err != nil {
				return err
			}
			log.Debug("unit action done", logx.String("unit", unit), logx.String("action", string(action)))
			return nil
		}
	}
	return withTimeout(work, timeout), nil
}

func withTimeout(work handle.Work, d time.Duration) handle.Work {
	if d <= 0 {
		return work
	}
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return work(ctx)
	}
}

func kind(j config.JobConfig) string {
	return strings.ToLower(strings.TrimSpace(j.Kind))
}

func logWork(j config.JobConfig, log logx.Logger) handle.Work {
	emit := log.Info
	switch strings.ToLower(strings.TrimSpace(j.Level)) {
	case "trace":
		emit = log.Trace
	case "debug":
		emit = log.Debug
	case "warn", "warning":
		emit = log.Warn
	case "error":
		emit = log.Error
	}
	msg := j.Message
	return func(context.Context) error {
		emit(msg)
		return nil
	}
}
