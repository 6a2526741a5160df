package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"schedkit/internal/storage"
	logx "schedkit/pkg/logx"
)

// Validate checks everything that can be checked without building
// components. Job kinds are validated by the jobs package.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		add(fmt.Errorf("logging.level: unknown level %q", lvl))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add(errors.New("logging.file.path: required when file logging is enabled"))
	}

	if cfg.Engine.Workers < 0 {
		add(errors.New("engine.workers: must be >= 0"))
	}
	if cfg.Engine.QueueSize < 0 {
		add(errors.New("engine.queue_size: must be >= 0"))
	}
	if cfg.Scheduler.Enabled && cfg.Engine.Enabled != nil && !*cfg.Engine.Enabled {
		add(errors.New("engine.enabled: cannot be false while scheduler.enabled is true"))
	}
	if cfg.Engine.HistorySize < 0 {
		add(errors.New("engine.history_size: must be >= 0"))
	}
	_, err := ParseDurationField("engine.default_timeout", cfg.Engine.DefaultTimeout)
	add(err)
	_, err = ParseDurationField("engine.max_queue_delay", cfg.Engine.MaxQueueDelay)
	add(err)

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	_, err = StartupSpread(cfg.Scheduler)
	add(err)

	if r := cfg.Reporter; r != nil {
		_, err = ParseDurationField("reporter.log_every", r.LogEvery)
		add(err)
	}

	if st := cfg.Storage; st != nil {
		if !storage.ValidDriver(st.Driver) {
			add(fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		drv := strings.ToLower(strings.TrimSpace(st.Driver))
		if drv != "" && drv != "none" && strings.TrimSpace(st.Path) == "" {
			add(fmt.Errorf("storage.path: required for driver %q", drv))
		}
		_, err = ParseDurationField("storage.busy_timeout", st.BusyTimeout)
		add(err)
	}

	if d := cfg.Debug; d != nil {
		_, err = ParseDurationField("debug.read_timeout", d.ReadTimeout)
		add(err)
		_, err = ParseDurationField("debug.idle_timeout", d.IdleTimeout)
		add(err)
		if d.Enabled {
			addr := DebugAddr(d)
			if _, _, err := net.SplitHostPort(addr); err != nil {
				add(fmt.Errorf("debug.addr: invalid %q (expected host:port): %w", addr, err))
			} else if !d.AllowInsecure && strings.TrimSpace(d.Token) == "" && !IsLoopbackAddr(addr) {
				add(errors.New("debug.addr: non-loopback bind requires token or allow_insecure"))
			}
		}
	}

	seen := map[string]bool{}
	for i, j := range cfg.Jobs {
		name := strings.TrimSpace(j.Name)
		if name == "" {
			add(fmt.Errorf("jobs[%d].name: required", i))
			continue
		}
		if seen[name] {
			add(fmt.Errorf("jobs[%d].name: duplicate %q", i, name))
		}
		seen[name] = true
		_, err = ParseDurationField(fmt.Sprintf("jobs[%d].timeout", i), j.Timeout)
		add(err)
	}

	return errors.Join(errs...)
}

// StartupSpread decodes scheduler.max_startup_spread. "off" maps to -1.
func StartupSpread(c SchedulerConfig) (time.Duration, error) {
	raw := strings.TrimSpace(c.MaxStartupSpread)
	if strings.EqualFold(raw, "off") {
		return -1, nil
	}
	return ParseDurationField("scheduler.max_startup_spread", raw)
}

// DebugAddr returns debug.addr or its default.
func DebugAddr(d *DebugConfig) string {
	if d == nil || strings.TrimSpace(d.Addr) == "" {
		return "127.0.0.1:6060"
	}
	return strings.TrimSpace(d.Addr)
}

// IsLoopbackAddr reports whether a host:port binds only to loopback. An
// empty host means all interfaces.
func IsLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
