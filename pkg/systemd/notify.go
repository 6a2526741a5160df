package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify messages. Outside systemd (no NOTIFY_SOCKET)
// every call is a no-op.
type Notifier struct {
	// UnsetEnv clears NOTIFY_SOCKET after the first message so child
	// processes don't inherit it.
	UnsetEnv bool
}

// Ready reports startup completion. sent is false when not under systemd.
func (n Notifier) Ready() (sent bool, err error) {
	return daemon.SdNotify(n.UnsetEnv, daemon.SdNotifyReady)
}

func (n Notifier) Stopping() (bool, error) {
	return daemon.SdNotify(n.UnsetEnv, daemon.SdNotifyStopping)
}

func (n Notifier) Status(msg string) (bool, error) {
	return daemon.SdNotify(n.UnsetEnv, "STATUS="+msg)
}

// WatchdogInterval returns half the unit's WatchdogSec, or 0 when the
// watchdog is off.
func (n Notifier) WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	return d / 2
}

// RunWatchdog pings the watchdog until ctx is done. healthy gates each ping;
// nil means always healthy.
func (n Notifier) RunWatchdog(ctx context.Context, healthy func() bool) error {
	every := n.WatchdogInterval()
	if every <= 0 {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if healthy != nil && !healthy() {
				continue
			}
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				return err
			}
		}
	}
}
