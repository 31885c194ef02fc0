// Package bridge translates environment signals, network interface changes,
// host resume, explicit recheck requests, into connection manager calls.
// Loss signals act immediately; recovery signals are debounced, because a
// link that just came up usually cannot route packets yet.
package bridge

import (
	"context"
	"log"
	"time"

	"github.com/tradegate/gatewatch/internal/policy"
)

// Signal is one environment event.
type Signal string

const (
	// SignalCameOnline fires when a network interface comes up.
	SignalCameOnline Signal = "came_online"
	// SignalWentOffline fires when the last usable interface goes down.
	SignalWentOffline Signal = "went_offline"
	// SignalResumed fires after the host wakes from suspend.
	SignalResumed Signal = "resumed"
	// SignalRecheck is an explicit user request to verify connectivity now.
	SignalRecheck Signal = "recheck"
)

// Controller is the slice of the connection manager the bridge drives.
type Controller interface {
	RunFullCheck(ctx context.Context) bool
	ManualCheck(ctx context.Context) bool
	MarkOffline()
}

// Bridge serializes signals onto one goroutine so debouncing has a single
// owner.
type Bridge struct {
	ctrl    Controller
	store   policy.Store
	logger  *log.Logger
	settle  time.Duration
	signals chan Signal
}

func New(ctrl Controller, store policy.Store, settle time.Duration, logger *log.Logger) *Bridge {
	if logger == nil {
		logger = log.Default()
	}
	if settle <= 0 {
		settle = time.Second
	}
	return &Bridge{
		ctrl:    ctrl,
		store:   store,
		logger:  logger,
		settle:  settle,
		signals: make(chan Signal, 16),
	}
}

// Emit hands a signal to the bridge. It never blocks; if the buffer is full
// the signal is dropped, which is safe because the periodic check will catch
// up regardless.
func (b *Bridge) Emit(sig Signal) {
	select {
	case b.signals <- sig:
	default:
		b.logger.Printf("bridge: dropped signal %s", sig)
	}
}

// Run consumes signals until ctx is cancelled.
//
// went_offline marks the bot offline at once, unless the bypass policy says
// connectivity is to be assumed. came_online and resumed arm a settle timer;
// bursts of recovery signals collapse into a single check once the timer
// fires. A loss signal disarms any pending settle.
//
// Checks run on their own goroutine, never on the signal loop: a loss signal
// queued behind a slow check would otherwise wait out the full probe timeout
// before MarkOffline fires. The manager's in-flight guard keeps the spawned
// checks from overlapping.
func (b *Bridge) Run(ctx context.Context) {
	settle := time.NewTimer(b.settle)
	if !settle.Stop() {
		<-settle.C
	}
	armed := false

	disarm := func() {
		if armed && !settle.Stop() {
			select {
			case <-settle.C:
			default:
			}
		}
		armed = false
	}

	for {
		select {
		case <-ctx.Done():
			disarm()
			return
		case sig := <-b.signals:
			switch sig {
			case SignalWentOffline:
				disarm()
				if b.bypassed() {
					b.logger.Println("bridge: network loss ignored, bypass active")
					continue
				}
				b.ctrl.MarkOffline()
			case SignalCameOnline, SignalResumed:
				b.logger.Printf("bridge: %s, settling before recheck", sig)
				disarm()
				settle.Reset(b.settle)
				armed = true
			case SignalRecheck:
				go b.ctrl.ManualCheck(ctx)
			}
		case <-settle.C:
			armed = false
			go b.ctrl.RunFullCheck(ctx)
		}
	}
}

// RequestCheck queues an explicit recheck, the signal the API and SIGUSR1
// emit.
func (b *Bridge) RequestCheck() { b.Emit(SignalRecheck) }

func (b *Bridge) bypassed() bool {
	if b.store == nil {
		return false
	}
	pol, err := b.store.Load()
	if err != nil {
		return false
	}
	return pol.BypassChecks
}
