package app

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"schedkit/internal/config"
	"schedkit/internal/storage"
)

const baseConfig = `
logging:
  level: error
scheduler:
  enabled: true
  max_startup_spread: "off"
storage:
  driver: file
  path: %STATE%
jobs:
  - name: hello
    kind: log
    message: hi
    level: debug
    run_on_start: true
  - name: nightly
    kind: exec
    command: "true"
    schedule: "0 3 * * *"
`

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	body := []byte(strings.ReplaceAll(baseConfig, "%STATE%", filepath.Join(dir, "state")))
	path := filepath.Join(dir, "schedkit.yaml")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func startApp(t *testing.T) *App {
	t.Helper()
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")
	a, err := New(writeConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopUnknown)
	})
	return a
}

func waitRun(t *testing.T, st storage.Store, name, outcome string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		runs, err := st.RecentRuns(context.Background(), 50)
		if err != nil {
			t.Fatalf("RecentRuns: %v", err)
		}
		for _, r := range runs {
			if r.Name == name && r.Outcome == outcome {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no %s run recorded for %s", outcome, name)
}

func periodicNames(a *App) []string {
	var names []string
	for _, p := range a.sched.Snapshot().Periodic {
		names = append(names, p.Name)
	}
	return names
}

func TestAppRunsJobsOnStart(t *testing.T) {
	a := startApp(t)
	waitRun(t, a.store, "hello", storage.OutcomeOK)

	if got := periodicNames(a); !slices.Equal(got, []string{"nightly"}) {
		t.Fatalf("periodic = %v, want [nightly]", got)
	}
	st, ok := a.status().(Status)
	if !ok {
		t.Fatalf("status type %T", a.status())
	}
	slices.Sort(st.Jobs)
	if !slices.Equal(st.Jobs, []string{"hello", "nightly"}) {
		t.Fatalf("status jobs = %v", st.Jobs)
	}
}

func TestApplyConfigUpdatesJobs(t *testing.T) {
	a := startApp(t)
	oldCfg := a.cfgm.Get()

	newCfg := *oldCfg
	newCfg.Jobs = []config.JobConfig{
		oldCfg.Jobs[0],
		{Name: "hourly", Kind: "log", Message: "tick", Schedule: "1h"},
	}
	a.applyConfig(context.Background(), oldCfg, &newCfg)

	if got := periodicNames(a); !slices.Equal(got, []string{"hourly"}) {
		t.Fatalf("periodic = %v, want [hourly]", got)
	}
	a.mu.Lock()
	_, stale := a.registered["nightly"]
	a.mu.Unlock()
	if stale {
		t.Fatal("removed job still registered")
	}
}

func TestApplyConfigTogglesScheduler(t *testing.T) {
	a := startApp(t)
	oldCfg := a.cfgm.Get()

	off := *oldCfg
	off.Scheduler.Enabled = false
	a.applyConfig(context.Background(), oldCfg, &off)
	if snap := a.sched.Snapshot(); snap.Running || len(snap.Periodic) != 0 {
		t.Fatalf("scheduler still running: %+v", snap)
	}

	a.applyConfig(context.Background(), &off, oldCfg)
	if got := periodicNames(a); !slices.Equal(got, []string{"nightly"}) {
		t.Fatalf("periodic after re-enable = %v", got)
	}
}

func TestNewRejectsInvalidJobs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	body := "scheduler:\n  enabled: true\njobs:\n  - name: x\n    kind: exec\n    schedule: 1m\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := New(path); err == nil {
		t.Fatal("New accepted an exec job without command")
	}
}

func TestMapping(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	if opts, err := mapReporterOptions(cfg); err != nil || opts != nil {
		t.Fatalf("reporter options = %v, %v", opts, err)
	}
	cfg.Reporter = &config.ReporterConfig{LogEvery: "0s"}
	if opts, err := mapReporterOptions(cfg); err != nil || len(opts) != 1 {
		t.Fatalf("reporter options = %v, %v", opts, err)
	}

	cfg.Storage = &config.StorageConfig{Driver: "none"}
	if _, enabled, err := mapStorageConfig(cfg); err != nil || enabled {
		t.Fatalf("none driver enabled=%v err=%v", enabled, err)
	}
	cfg.Storage = &config.StorageConfig{Driver: "SQLite", Path: "x.db"}
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil || !enabled || sc.Driver != "sqlite" || sc.BusyTimeout != time.Second {
		t.Fatalf("sqlite mapping = %+v enabled=%v err=%v", sc, enabled, err)
	}

	cfg.Debug = &config.DebugConfig{Enabled: true}
	dc, err := mapDebugConfig(cfg)
	if err != nil || dc.Addr != "127.0.0.1:6060" || dc.ReadTimeout != 5*time.Second {
		t.Fatalf("debug mapping = %+v, %v", dc, err)
	}

	cfg.Scheduler = config.SchedulerConfig{Enabled: true, MaxStartupSpread: "off"}
	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil || schedCfg.MaxStartupSpread >= 0 {
		t.Fatalf("scheduler mapping = %+v, %v", schedCfg, err)
	}
	engCfg, err := mapEngineConfig(cfg)
	if err != nil || !engCfg.Enabled {
		t.Fatalf("engine should default to scheduler.enabled: %+v, %v", engCfg, err)
	}
}
