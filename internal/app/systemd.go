package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "ticketwatch/pkg/logx"
)

// sdNotifier reports lifecycle state to systemd when running under a
// Type=notify unit. Outside systemd every call is a no-op.
type sdNotifier struct {
	log    logx.Logger
	notify func(state string) (bool, error)
}

func newSDNotifier(log logx.Logger) *sdNotifier {
	return &sdNotifier{
		log:    log,
		notify: func(state string) (bool, error) { return daemon.SdNotify(false, state) },
	}
}

func (n *sdNotifier) send(state string) {
	ok, err := n.notify(state)
	if err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if ok && state != daemon.SdNotifyWatchdog {
		n.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

func (n *sdNotifier) Ready()    { n.send(daemon.SdNotifyReady) }
func (n *sdNotifier) Stopping() { n.send(daemon.SdNotifyStopping) }
func (n *sdNotifier) Watchdog() { n.send(daemon.SdNotifyWatchdog) }

// WatchdogLoop pings at half the unit's WatchdogSec while healthy returns true.
// It returns immediately when the watchdog is not enabled.
func (n *sdNotifier) WatchdogLoop(ctx context.Context, healthy func() bool) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return nil
	}
	n.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if healthy == nil || healthy() {
				n.Watchdog()
			}
		}
	}
}
