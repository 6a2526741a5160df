package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "test"))
	log.Debug("hidden")
	log.Warn("disk low", Int("pct", 93), Err(errors.New("boom")), Err(nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec["message"] != "disk low" || rec["level"] != "warn" || rec["comp"] != "test" || rec["pct"] != float64(93) {
		t.Fatalf("record = %v", rec)
	}
	if _, ok := rec["caller"]; !ok {
		t.Fatalf("record has no caller: %v", rec)
	}
	if !log.Enabled(LevelWarn) || log.Enabled(LevelDebug) {
		t.Fatal("Enabled disagrees with level")
	}
}

func TestZeroAndNop(t *testing.T) {
	t.Parallel()
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero logger not IsZero")
	}
	zero.Info("dropped")
	if Nop().IsZero() {
		t.Fatal("Nop reported IsZero")
	}
}

func TestServiceApplyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	svc, log := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("first")

	svc.Apply(Config{Level: "error", File: FileConfig{Enabled: true, Path: path}})
	log.Info("filtered")
	log.Error("second")
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	out := string(b)
	if !strings.Contains(out, "first") || !strings.Contains(out, "second") || strings.Contains(out, "filtered") {
		t.Fatalf("log file = %q", out)
	}
}

func TestValidLevel(t *testing.T) {
	t.Parallel()
	for _, ok := range []string{"", "debug", "INFO", "warning", "trace"} {
		if !ValidLevel(ok) {
			t.Fatalf("ValidLevel(%q) = false", ok)
		}
	}
	if ValidLevel("loud") {
		t.Fatal("ValidLevel accepted loud")
	}
}

func TestConsoleLoggerWritesStdout(t *testing.T) {
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })

	log := NewConsole("warn")
	log.Info("hidden")
	log.Error("init failed", String("config", "x.yaml"))

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "init failed") || !strings.Contains(out, "x.yaml") {
		t.Fatalf("console output = %q", out)
	}
}
