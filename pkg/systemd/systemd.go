// Package systemd reports service state to systemd through sd_notify.
//
// Every call is a no-op when the process was not started by systemd with
// Type=notify (NOTIFY_SOCKET unset).
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"voxrelay/pkg/logx"
)

// notify is swapped in tests.
var notify = daemon.SdNotify

// Ready tells systemd startup finished.
func Ready() (bool, error) { return notify(false, daemon.SdNotifyReady) }

// Stopping tells systemd shutdown began.
func Stopping() (bool, error) { return notify(false, daemon.SdNotifyStopping) }

// Reloading marks a config reload; call Ready when it is applied.
func Reloading() (bool, error) { return notify(false, daemon.SdNotifyReloading) }

// Status sets the free-form status line shown by systemctl status.
func Status(s string) (bool, error) { return notify(false, "STATUS="+s) }

// WatchdogInterval returns how often to ping, or 0 when the watchdog is off.
// Pings go out at half the configured WATCHDOG_USEC.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	return d / 2
}

// RunWatchdog pings the watchdog every interval until ctx is done. healthy
// gates each ping; a nil healthy always pings.
func RunWatchdog(ctx context.Context, interval time.Duration, healthy func() bool, log logx.Logger) {
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	log.Debug("systemd watchdog enabled", logx.Duration("interval", interval))
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if healthy != nil && !healthy() {
				log.Warn("skipping watchdog ping: unhealthy")
				continue
			}
			if _, err := notify(false, daemon.SdNotifyWatchdog); err != nil {
				log.Warn("watchdog ping failed", logx.Err(err))
			}
		}
	}
}
