// Package systemd wraps sd_notify for readiness, shutdown, and watchdog
// signaling. Every call is a no-op when NOTIFY_SOCKET is unset, so the
// daemon behaves the same outside a systemd unit.
package systemd

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

func NotifyReady() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyReady)
}

func NotifyStopping() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyStopping)
}

func NotifyStatus(status string) (bool, error) {
	return daemon.SdNotify(false, "STATUS="+status)
}

func NotifyWatchdog() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyWatchdog)
}

// WatchdogInterval returns the unit's WatchdogSec, or 0 when the watchdog
// is disabled. Ping at half this interval.
func WatchdogInterval() (time.Duration, error) {
	return daemon.SdWatchdogEnabled(false)
}
