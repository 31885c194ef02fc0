package bridge

import (
	"context"
	"log"
	"net"
	"time"

	"github.com/jpillora/backoff"
)

// NetWatcher polls the host's network interfaces and emits came_online /
// went_offline transitions. While the link is down it re-polls on a backoff
// ramp so recovery is noticed quickly without spinning forever.
type NetWatcher struct {
	bridge   *Bridge
	interval time.Duration
	retryMin time.Duration
	logger   *log.Logger

	// linkUp is swapped out in tests.
	linkUp func() (bool, error)
}

func NewNetWatcher(b *Bridge, interval time.Duration, logger *log.Logger) *NetWatcher {
	if logger == nil {
		logger = log.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &NetWatcher{
		bridge:   b,
		interval: interval,
		retryMin: time.Second,
		logger:   logger,
		linkUp:   hasUsableInterface,
	}
}

// Run polls until ctx is cancelled.
func (w *NetWatcher) Run(ctx context.Context) {
	ramp := &backoff.Backoff{
		Min:    w.retryMin,
		Max:    w.interval,
		Factor: 2,
	}

	up, err := w.linkUp()
	if err != nil {
		w.logger.Printf("netwatch: interface scan failed: %v", err)
		up = true
	}

	for {
		delay := w.interval
		if !up {
			delay = ramp.Duration()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		cur, err := w.linkUp()
		if err != nil {
			w.logger.Printf("netwatch: interface scan failed: %v", err)
			continue
		}
		if cur == up {
			continue
		}
		up = cur
		if up {
			ramp.Reset()
			w.bridge.Emit(SignalCameOnline)
		} else {
			w.bridge.Emit(SignalWentOffline)
		}
	}
}

// hasUsableInterface reports whether any non-loopback interface is up,
// running, and holds an address.
func hasUsableInterface() (bool, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagRunning == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil || len(addrs) == 0 {
			continue
		}
		return true, nil
	}
	return false, nil
}
