// Package systemd reports daemon state to the service manager when the
// process runs under a systemd Type=notify unit. Every call is a no-op
// outside systemd.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "prijswacht/pkg/logx"
)

// NotifyReady signals that startup is complete.
func NotifyReady() bool {
	ok, _ := daemon.SdNotify(false, daemon.SdNotifyReady)
	return ok
}

// NotifyStopping signals that shutdown has begun.
func NotifyStopping() bool {
	ok, _ := daemon.SdNotify(false, daemon.SdNotifyStopping)
	return ok
}

// NotifyStatus updates the status line shown by systemctl status.
func NotifyStatus(status string) {
	_, _ = daemon.SdNotify(false, "STATUS="+status)
}

// WatchdogLoop pings the systemd watchdog at half the unit's configured
// interval until ctx is done. Returns immediately when no watchdog is
// configured, so callers can start it unconditionally.
func WatchdogLoop(ctx context.Context, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log.Info("systemd watchdog enabled", logx.Duration("interval", interval))

	tick := time.NewTicker(interval / 2)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
