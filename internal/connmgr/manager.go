// Package connmgr owns the connection lifecycle: it runs check cycles,
// applies the persisted policy overrides, and publishes the resulting state.
package connmgr

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/tradegate/gatewatch/internal/conncheck"
	"github.com/tradegate/gatewatch/internal/policy"
	"github.com/tradegate/gatewatch/internal/status"
)

// Notifier receives user-facing connectivity notices. Implementations must
// not block; a nil Notifier disables notices.
type Notifier interface {
	NotifyNetworkProblem(f conncheck.Failure)
	NotifyConnectionRestored()
	NotifyAuthFailure()
	NotifyBypassHint()
}

// Manager coordinates check cycles. At most one cycle runs at a time; a
// request that arrives while one is in flight is rejected, not queued.
type Manager struct {
	checker  *conncheck.Checker
	stages   *conncheck.Stages
	store    policy.Store
	pub      *status.Publisher
	notifier Notifier
	logger   *log.Logger
	interval time.Duration

	mu          sync.Mutex
	checking    bool
	online      bool
	attempts    uint64
	lastChecked time.Time
}

type Options struct {
	Checker  *conncheck.Checker
	Stages   *conncheck.Stages
	Store    policy.Store
	Pub      *status.Publisher
	Notifier Notifier
	Logger   *log.Logger
	Interval time.Duration
}

func New(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	return &Manager{
		checker:  opts.Checker,
		stages:   opts.Stages,
		store:    opts.Store,
		pub:      opts.Pub,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		interval: opts.Interval,
	}
}

// IsOnline reports the current verdict without touching the network.
func (m *Manager) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// RunFullCheck runs one staged cycle: internet, then api, then account. An
// internet or api failure short-circuits and leaves the later stages
// unknown; an account failure is reported but does not take the bot offline.
// If a cycle is already in flight the call is rejected and the current
// verdict returned.
func (m *Manager) RunFullCheck(ctx context.Context) bool {
	m.mu.Lock()
	if m.checking {
		online := m.online
		m.mu.Unlock()
		m.logger.Println("connectivity: check already in flight, skipping")
		return online
	}
	m.checking = true
	m.mu.Unlock()
	m.publish()

	return m.completeCycle(ctx)
}

// completeCycle runs one cycle and applies its verdict. The caller must have
// claimed the in-flight flag. A verdict from a cycle whose generation was
// superseded while in flight (MarkOffline, bypass toggled on) is discarded,
// matching the stale-write guard on the stage record itself.
func (m *Manager) completeCycle(ctx context.Context) bool {
	online, gen := m.runCycle(ctx)

	m.mu.Lock()
	m.checking = false
	if m.stages.Generation() == gen {
		m.online = online
		m.lastChecked = time.Now()
	}
	online = m.online
	m.mu.Unlock()
	m.publish()
	return online
}

func (m *Manager) runCycle(ctx context.Context) (bool, uint64) {
	pol := m.loadPolicy()

	if pol.BypassChecks {
		gen := m.stages.ForceSuccess()
		m.logger.Println("connectivity: bypass active, assuming online")
		return true, gen
	}

	gen := m.stages.BeginCycle()
	m.publish()

	internet := m.checker.CheckInternet(ctx, gen, pol)
	m.publish()
	if internet != conncheck.VerdictSuccess {
		m.logger.Println("connectivity: internet unreachable")
		return false, gen
	}

	api := m.checker.CheckAPIAccess(ctx, gen, pol)
	m.publish()
	if api != conncheck.VerdictSuccess {
		m.logger.Println("connectivity: exchange api unreachable")
		return false, gen
	}

	account := m.checker.CheckAccount(ctx, gen, pol)
	m.publish()
	if account == conncheck.VerdictFailed {
		m.logger.Println("connectivity: account check failed, network is up")
		m.notifyAuthFailure()
	}
	return true, gen
}

// ManualCheck is a user-initiated retry. It counts attempts, announces the
// failure class when the cycle fails, and after repeated failures suggests
// the bypass override as a way to proceed at the user's own risk. A request
// that loses the in-flight claim is rejected outright: it counts no attempt
// and emits no notice for a cycle it never ran.
func (m *Manager) ManualCheck(ctx context.Context) bool {
	m.mu.Lock()
	if m.checking {
		online := m.online
		m.mu.Unlock()
		return online
	}
	m.checking = true
	wasOnline := m.online
	m.attempts++
	attempts := m.attempts
	m.mu.Unlock()
	m.publish()

	online := m.completeCycle(ctx)
	if online {
		m.mu.Lock()
		m.attempts = 0
		m.mu.Unlock()
		if !wasOnline {
			m.notifyRestored()
		}
		m.publish()
		return true
	}

	// Failure notices are noise when the user has deliberately gone offline.
	pol := m.loadPolicy()
	if pol.OfflineMode {
		return false
	}
	failure := conncheck.ClassifyFailure(m.stages.Snapshot())
	m.notifyNetworkProblem(failure)
	if attempts >= 2 && !pol.BypassChecks {
		m.notifyBypassHint()
	}
	return false
}

// EnableOfflineMode persists the flag. The stage record is left untouched:
// offline mode instructs downstream consumers to run on simulated data, it
// does not falsify reachability. The flag is sticky; nothing clears it but
// an explicit DisableOfflineMode.
func (m *Manager) EnableOfflineMode() error {
	if err := m.store.SetOfflineMode(true); err != nil {
		return err
	}
	m.logger.Println("connectivity: offline mode enabled")
	m.publish()
	return nil
}

// DisableOfflineMode persists the flag and runs a fresh full check.
func (m *Manager) DisableOfflineMode(ctx context.Context) error {
	if err := m.store.SetOfflineMode(false); err != nil {
		return err
	}
	m.logger.Println("connectivity: offline mode disabled, rechecking")
	m.RunFullCheck(ctx)
	return nil
}

// ToggleBypass persists the flag. Turning it on forces every stage to
// success synchronously, superseding any in-flight cycle, so the caller sees
// an online bot without a single probe. Turning it off runs a real check
// right away.
func (m *Manager) ToggleBypass(ctx context.Context, enabled bool) error {
	if err := m.store.SetBypassChecks(enabled); err != nil {
		return err
	}
	if enabled {
		m.stages.ForceSuccess()
		m.mu.Lock()
		m.online = true
		m.attempts = 0
		m.lastChecked = time.Now()
		m.mu.Unlock()
		m.logger.Println("connectivity: bypass enabled, forcing online")
		m.publish()
		return nil
	}
	m.logger.Println("connectivity: bypass disabled, rechecking")
	m.RunFullCheck(ctx)
	return nil
}

// ToggleForceDirectAPI persists the flag and re-verifies the api and account
// stages under the new routing, keeping the internet verdict. The partial
// re-check only makes sense when internet is already confirmed; otherwise a
// full cycle would run shortly anyway.
func (m *Manager) ToggleForceDirectAPI(ctx context.Context, enabled bool) error {
	if err := m.store.SetForceDirectAPI(enabled); err != nil {
		return err
	}
	m.logger.Printf("connectivity: force-direct-api set to %v", enabled)

	if m.stages.Snapshot().Internet != conncheck.VerdictSuccess {
		return nil
	}

	m.mu.Lock()
	if m.checking {
		m.mu.Unlock()
		return nil
	}
	m.checking = true
	m.mu.Unlock()
	m.publish()

	pol := m.loadPolicy()
	gen := m.stages.Generation()
	online := true
	if !pol.BypassChecks {
		api := m.checker.CheckAPIAccess(ctx, gen, pol)
		m.publish()
		if api == conncheck.VerdictSuccess {
			m.checker.CheckAccount(ctx, gen, pol)
		} else {
			online = false
		}
	}

	m.mu.Lock()
	m.checking = false
	if m.stages.Generation() == gen {
		m.online = online
		m.lastChecked = time.Now()
	}
	m.mu.Unlock()
	m.publish()
	return nil
}

// MarkOffline records a confirmed connectivity loss reported from outside a
// check cycle, e.g. the network interface watcher. Any in-flight cycle is
// superseded so its late results cannot flip the state back.
func (m *Manager) MarkOffline() {
	m.stages.MarkInternetLost()
	m.mu.Lock()
	wasOnline := m.online
	m.online = false
	m.mu.Unlock()
	m.logger.Println("connectivity: network loss reported")
	if wasOnline {
		m.notifyNetworkProblem(conncheck.FailureInternetDown)
	}
	m.publish()
}

// Run re-verifies connectivity on a fixed interval until ctx is cancelled.
// A tick that lands while a check is in flight is skipped.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			busy := m.checking
			m.mu.Unlock()
			if busy {
				continue
			}
			m.RunFullCheck(ctx)
		}
	}
}

// Snapshot builds the publishable view of the current state.
func (m *Manager) Snapshot() status.Snapshot {
	stages := m.stages.Snapshot()
	m.mu.Lock()
	defer m.mu.Unlock()
	return status.Snapshot{
		Internet:      stages.Internet,
		API:           stages.API,
		Account:       stages.Account,
		IsOnline:      m.online,
		IsChecking:    m.checking,
		Attempts:      m.attempts,
		LastCheckedAt: m.lastChecked,
	}
}

func (m *Manager) publish() {
	if m.pub != nil {
		m.pub.Publish(m.Snapshot())
	}
}

func (m *Manager) loadPolicy() policy.Policy {
	pol, err := m.store.Load()
	if err != nil {
		m.logger.Printf("connectivity: policy load failed, using defaults: %v", err)
		return policy.Policy{}
	}
	return pol
}

func (m *Manager) notifyNetworkProblem(f conncheck.Failure) {
	if m.notifier != nil && f != conncheck.FailureNone {
		m.notifier.NotifyNetworkProblem(f)
	}
}

func (m *Manager) notifyRestored() {
	if m.notifier != nil {
		m.notifier.NotifyConnectionRestored()
	}
}

func (m *Manager) notifyAuthFailure() {
	if m.notifier != nil {
		m.notifier.NotifyAuthFailure()
	}
}

func (m *Manager) notifyBypassHint() {
	if m.notifier != nil {
		m.notifier.NotifyBypassHint()
	}
}
