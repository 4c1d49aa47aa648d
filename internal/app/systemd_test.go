package app

import (
	"errors"
	"sync"
	"testing"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "ticketwatch/pkg/logx"
)

func TestSDNotifierStates(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		sent []string
	)
	n := &sdNotifier{log: logx.Nop(), notify: func(state string) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, state)
		return true, nil
	}}
	n.Ready()
	n.Watchdog()
	n.Stopping()

	want := []string{daemon.SdNotifyReady, daemon.SdNotifyWatchdog, daemon.SdNotifyStopping}
	if len(sent) != len(want) {
		t.Fatalf("sent = %q", sent)
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Fatalf("sent[%d] = %q, want %q", i, sent[i], want[i])
		}
	}

	failing := &sdNotifier{log: logx.Nop(), notify: func(string) (bool, error) { return false, errors.New("no socket") }}
	failing.Ready()
}
