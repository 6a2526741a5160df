package systemd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// fakeSystemctl writes a shell script that records its args and prints state.
// Tests using it stay serial: exec'ing a freshly written file races with
// concurrent forks (ETXTBSY).
func fakeSystemctl(t *testing.T, state string, exit int) (Controller, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	dir := t.TempDir()
	log := filepath.Join(dir, "calls")
	script := "#!/bin/sh\necho \"$@\" >> " + log + "\necho " + state + "\nexit " + string(rune('0'+exit)) + "\n"
	bin := filepath.Join(dir, "systemctl")
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return Controller{Bin: bin}, log
}

func TestParseAction(t *testing.T) {
	t.Parallel()
	if a, err := ParseAction(" Restart "); err != nil || a != ActionRestart {
		t.Fatalf("ParseAction = %q, %v", a, err)
	}
	if a, _ := ParseAction(""); a != ActionCheck {
		t.Fatalf("empty action = %q, want check", a)
	}
	if _, err := ParseAction("reboot"); err == nil {
		t.Fatal("unknown action accepted")
	}
}

func TestControllerCheck(t *testing.T) {
	ctx := context.Background()

	active, _ := fakeSystemctl(t, "active", 0)
	if err := active.Do(ctx, ActionCheck, "nginx.service"); err != nil {
		t.Fatalf("check active: %v", err)
	}

	inactive, _ := fakeSystemctl(t, "inactive", 3)
	if err := inactive.Do(ctx, ActionCheck, "nginx.service"); !errors.Is(err, ErrInactive) {
		t.Fatalf("check inactive err = %v, want ErrInactive", err)
	}
}

func TestControllerRestart(t *testing.T) {
	c, log := fakeSystemctl(t, "", 0)
	if err := c.Do(context.Background(), ActionRestart, "app.service"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	b, err := os.ReadFile(log)
	if err != nil {
		t.Fatalf("read calls: %v", err)
	}
	if got := strings.TrimSpace(string(b)); got != "restart app.service" {
		t.Fatalf("calls = %q", got)
	}

	failing, _ := fakeSystemctl(t, "Unit app.service not found.", 5)
	if err := failing.Do(context.Background(), ActionStart, "app.service"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("start err = %v", err)
	}
	if err := c.Do(context.Background(), ActionStart, " "); err == nil {
		t.Fatal("empty unit accepted")
	}
}

func TestNotifierOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")
	n := Notifier{}
	if sent, err := n.Ready(); sent || err != nil {
		t.Fatalf("Ready = %v, %v; want false, nil", sent, err)
	}
	if d := n.WatchdogInterval(); d != 0 {
		t.Fatalf("WatchdogInterval = %v, want 0", d)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := n.RunWatchdog(ctx, nil); err != nil {
		t.Fatalf("RunWatchdog: %v", err)
	}
}

func TestUnitName(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]string{
		"nginx":         "nginx.service",
		"backup.timer":  "backup.timer",
		" app.service ": "app.service",
		"":              "",
	} {
		if got := unitName(in); got != want {
			t.Fatalf("unitName(%q) = %q, want %q", in, got, want)
		}
	}
}
