package config

import (
	"bytes"
	"encoding/json"
)

// Config is the daemon configuration file (JSON or YAML).
type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Engine controls execution of scheduled runs.
	Engine EngineConfig `json:"engine"`

	// Scheduler controls triggers (one-shot delays, cron, intervals).
	Scheduler SchedulerConfig `json:"scheduler"`

	Reporter *ReporterConfig `json:"reporter,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Debug    *DebugConfig    `json:"debug,omitempty"`

	Jobs []JobConfig `json:"jobs"`
}

// EngineConfig controls the worker pool.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Enabled is a pointer so we can distinguish "omitted" (default to
// scheduler.enabled) from an explicit false.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
type EngineConfig struct {
	Enabled   *bool `json:"enabled,omitempty"`
	Workers   int   `json:"workers,omitempty"`
	QueueSize int   `json:"queue_size,omitempty"`

	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Trigger timezone (IANA name). Empty means local time.
	Timezone string `json:"timezone,omitempty"`

	// MaxStartupSpread caps the random first-run delay of interval jobs.
	// "0s" or empty means the default (30s); "off" disables it.
	MaxStartupSpread string `json:"max_startup_spread,omitempty"`
}

// ReporterConfig throttles failure log lines. Counters and run records are
// never throttled.
type ReporterConfig struct {
	LogEvery string `json:"log_every,omitempty"` // default "1s"; "0s" disables throttling
	LogBurst int    `json:"log_burst,omitempty"` // default 10
}

// StorageConfig controls run history persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./state/schedkit.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	MaxRows     int    `json:"max_rows,omitempty"`
}

// DebugConfig controls the optional status/pprof HTTP listener.
//
// A non-loopback addr requires token or allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default "127.0.0.1:6060"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout string `json:"read_timeout,omitempty"` // default "5s"
	IdleTimeout string `json:"idle_timeout,omitempty"` // default "120s"
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// JobConfig declares one job.
//
// Schedule is a periodic spec (cron, "@every", duration or HH:MM).
// RunOnStart additionally runs the job once when it is registered. A job
// needs at least one of the two.
type JobConfig struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"` // "exec" | "log" | "unit"
	Disabled bool   `json:"disabled,omitempty"`

	Schedule   string `json:"schedule,omitempty"`
	RunOnStart bool   `json:"run_on_start,omitempty"`

	// Timeout bounds a single run. Empty means the engine default.
	Timeout string `json:"timeout,omitempty"`

	// exec
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Dir     string   `json:"dir,omitempty"`
	Env     []string `json:"env,omitempty"` // KEY=VALUE, appended to the daemon env

	// log
	Message string `json:"message,omitempty"`
	Level   string `json:"level,omitempty"`

	// unit
	Unit   string `json:"unit,omitempty"`
	Action string `json:"action,omitempty"` // "start" | "stop" | "restart" | "check"
}

// UnmarshalJSON disallows unknown fields per job so a typo in one entry is
// reported with the job it belongs to.
func (j *JobConfig) UnmarshalJSON(b []byte) error {
	type plain JobConfig
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var p plain
	if err := dec.Decode(&p); err != nil {
		return err
	}
	*j = JobConfig(p)
	return nil
}
