package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"
)

const sampleYAML = `
logging:
  level: debug
  console: true
engine:
  workers: 4
  default_timeout: 30s
scheduler:
  enabled: true
  timezone: UTC
  max_startup_spread: "off"
storage:
  driver: sqlite
  path: ./state/runs.db
jobs:
  - name: backup
    kind: exec
    schedule: "0 3 * * *"
    command: /usr/bin/true
    args: ["--quiet"]
  - name: heartbeat
    kind: log
    schedule: 5m
    message: alive
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("schedkit.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Engine.Workers != 4 || cfg.Scheduler.Timezone != "UTC" || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.Jobs) != 2 || cfg.Jobs[0].Args[0] != "--quiet" {
		t.Fatalf("jobs = %+v", cfg.Jobs)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !EngineEnabled(cfg) {
		t.Fatal("engine.enabled should default to scheduler.enabled")
	}
	if d, _ := StartupSpread(cfg.Scheduler); d != -1 {
		t.Fatalf("StartupSpread = %v, want -1", d)
	}
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, path, body string
	}{
		{"unknown top-level", "c.json", `{"scheduler":{"enabled":true},"telegram":{}}`},
		{"unknown job field", "c.json", `{"jobs":[{"name":"a","kind":"log","cmd":"x"}]}`},
		{"trailing data", "c.json", `{"jobs":[]} {}`},
		{"bad yaml", "c.yml", "jobs: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.path, []byte(tt.body)); err == nil {
				t.Fatal("expected decode error")
			}
		})
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Logging:   LoggingConfig{Level: "loud", File: LoggingFile{Enabled: true}},
		Engine:    EngineConfig{Workers: -1, DefaultTimeout: "soon"},
		Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"},
		Storage:   &StorageConfig{Driver: "file"},
		Debug:     &DebugConfig{Enabled: true, Addr: "0.0.0.0:6060"},
		Jobs:      []JobConfig{{Name: "a"}, {Name: "a"}, {Name: ""}},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"logging.level", "logging.file.path", "engine.workers", "engine.default_timeout", "scheduler.timezone", "storage.path", "debug.addr", "duplicate", "jobs[2].name"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:80":   true,
		"[::1]:6060":     true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.5:6060":  false,
		"nonsense":       false,
	}
	for addr, want := range cases {
		if got := IsLoopbackAddr(addr); got != want {
			t.Fatalf("IsLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestDiffJobs(t *testing.T) {
	t.Parallel()
	oldJobs := []JobConfig{
		{Name: "keep", Kind: "log", Schedule: "1m"},
		{Name: "edit", Kind: "log", Schedule: "1m"},
		{Name: "drop", Kind: "log", Schedule: "1m"},
		{Name: "off", Kind: "log", Schedule: "1m"},
	}
	newJobs := []JobConfig{
		{Name: "keep", Kind: "log", Schedule: "1m"},
		{Name: "edit", Kind: "log", Schedule: "2m"},
		{Name: "new", Kind: "log", Schedule: "1m"},
		{Name: "off", Kind: "log", Schedule: "1m", Disabled: true},
	}
	d := DiffJobs(oldJobs, newJobs)
	if strings.Join(d.Added, ",") != "new" || strings.Join(d.Changed, ",") != "edit" || strings.Join(d.Removed, ",") != "drop,off" {
		t.Fatalf("diff = %+v", d)
	}

	sections, _ := SummarizeConfigChange(&Config{Jobs: oldJobs}, &Config{Jobs: newJobs, Scheduler: SchedulerConfig{Timezone: "UTC"}})
	if strings.Join(sections, ",") != "scheduler,jobs" {
		t.Fatalf("sections = %v", sections)
	}
}

func TestManagerWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "schedkit.json")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write(`{"scheduler":{"enabled":true,"timezone":"UTC"}}`)

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Engine.Workers == 99 {
			return os.ErrInvalid
		}
		return nil
	})
	ch := m.Subscribe(4)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	// Let the watcher attach before touching the file.
	time.Sleep(100 * time.Millisecond)

	write(`{"scheduler":{"enabled":true,"timezone":"UTC"},"engine":{"workers":99}}`)
	time.Sleep(600 * time.Millisecond)
	select {
	case cfg := <-ch:
		t.Fatalf("rejected config published: %+v", cfg)
	default:
	}

	write(`{"scheduler":{"enabled":true,"timezone":"Asia/Jakarta"}}`)
	select {
	case cfg := <-ch:
		if cfg.Scheduler.Timezone != "Asia/Jakarta" {
			t.Fatalf("published tz = %q", cfg.Scheduler.Timezone)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no config published")
	}
	if m.Get().Scheduler.Timezone != "Asia/Jakarta" {
		t.Fatal("published config not committed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
