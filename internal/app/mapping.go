package app

import (
	"strings"
	"time"

	"schedkit/internal/config"
	"schedkit/internal/observability/debugsrv"
	"schedkit/internal/storage"
	"schedkit/internal/task/engine"
	"schedkit/internal/task/report"
	"schedkit/internal/task/scheduler"
	logx "schedkit/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapEngineConfig leaves zero sizes to the engine defaults.
func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	defTimeout, err := config.ParseDurationField("engine.default_timeout", cfg.Engine.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	maxQueueDelay, err := config.ParseDurationField("engine.max_queue_delay", cfg.Engine.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Enabled:        config.EngineEnabled(cfg),
		Workers:        cfg.Engine.Workers,
		QueueSize:      cfg.Engine.QueueSize,
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxQueueDelay,
		HistorySize:    cfg.Engine.HistorySize,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	spread, err := config.StartupSpread(cfg.Scheduler)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:          cfg.Scheduler.Enabled,
		Timezone:         strings.TrimSpace(cfg.Scheduler.Timezone),
		MaxStartupSpread: spread,
	}, nil
}

// mapReporterOptions returns nil for an omitted section so the reporter
// keeps its defaults.
func mapReporterOptions(cfg *config.Config) ([]report.Option, error) {
	r := cfg.Reporter
	if r == nil {
		return nil, nil
	}
	every := time.Second
	if strings.TrimSpace(r.LogEvery) != "" {
		d, err := config.ParseDurationField("reporter.log_every", r.LogEvery)
		if err != nil {
			return nil, err
		}
		every = d
	}
	burst := r.LogBurst
	if burst <= 0 {
		burst = 10
	}
	return []report.Option{report.WithLimit(every, burst)}, nil
}

// mapStorageConfig reports enabled=false for an omitted section or the
// "none" driver.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage
	if sc == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
		MaxRows:     sc.MaxRows,
	}, true, nil
}

func mapDebugConfig(cfg *config.Config) (debugsrv.Config, error) {
	d := cfg.Debug
	if d == nil {
		return debugsrv.Config{}, nil
	}
	readTO, err := config.ParseDurationOrDefault("debug.read_timeout", d.ReadTimeout, 5*time.Second)
	if err != nil {
		return debugsrv.Config{}, err
	}
	idleTO, err := config.ParseDurationOrDefault("debug.idle_timeout", d.IdleTimeout, 120*time.Second)
	if err != nil {
		return debugsrv.Config{}, err
	}
	return debugsrv.Config{
		Enabled:       d.Enabled,
		Addr:          config.DebugAddr(d),
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
		Pprof:         d.Pprof,
		ReadTimeout:   readTO,
		IdleTimeout:   idleTO,
	}, nil
}
