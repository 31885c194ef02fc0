package connmgr

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tradegate/gatewatch/internal/conncheck"
	"github.com/tradegate/gatewatch/internal/exchange"
	"github.com/tradegate/gatewatch/internal/policy"
	"github.com/tradegate/gatewatch/internal/probe"
	"github.com/tradegate/gatewatch/internal/status"
)

type recordingNotifier struct {
	mu       sync.Mutex
	problems []conncheck.Failure
	restored int
	auth     int
	hints    int
}

func (n *recordingNotifier) NotifyNetworkProblem(f conncheck.Failure) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.problems = append(n.problems, f)
}

func (n *recordingNotifier) NotifyConnectionRestored() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.restored++
}

func (n *recordingNotifier) NotifyAuthFailure() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.auth++
}

func (n *recordingNotifier) NotifyBypassHint() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hints++
}

type fakeAccount struct {
	calls atomic.Int32
	err   error
}

func (f *fakeAccount) HasCredentials() bool { return true }

func (f *fakeAccount) AccountInfo(context.Context) (exchange.AccountSnapshot, error) {
	f.calls.Add(1)
	if f.err != nil {
		return exchange.AccountSnapshot{}, f.err
	}
	return exchange.AccountSnapshot{CanTrade: true}, nil
}

func countingProbe(target string, counter *atomic.Int32, err error) probe.Probe {
	return probe.Probe{
		Target: target,
		Do: func(context.Context) error {
			counter.Add(1)
			return err
		},
	}
}

func countingTransport(name string, counter *atomic.Int32, err error) exchange.Transport {
	return exchange.Transport{
		Name: name,
		Ping: func(context.Context) error {
			counter.Add(1)
			return err
		},
	}
}

func newTestManager(cfg conncheck.Config, n Notifier) (*Manager, *policy.MemoryStore, *status.Publisher) {
	cfg.ProbeTimeout = time.Second
	cfg.AccountRetryDelay = time.Millisecond
	stages := conncheck.NewStages()
	store := policy.NewMemoryStore()
	pub := status.NewPublisher()
	m := New(Options{
		Checker:  conncheck.New(stages, cfg),
		Stages:   stages,
		Store:    store,
		Pub:      pub,
		Notifier: n,
		Logger:   log.New(io.Discard, "", 0),
	})
	return m, store, pub
}

func TestFullCheckHappyPath(t *testing.T) {
	var net, direct atomic.Int32
	acct := &fakeAccount{}
	m, _, pub := newTestManager(conncheck.Config{
		InternetProbes: []probe.Probe{countingProbe("up", &net, nil)},
		Direct:         countingTransport("direct", &direct, nil),
		Account:        acct,
	}, nil)

	if !m.RunFullCheck(context.Background()) {
		t.Fatal("expected online after successful cycle")
	}
	snap := pub.Current()
	if snap.Internet != conncheck.VerdictSuccess || snap.API != conncheck.VerdictSuccess || snap.Account != conncheck.VerdictSuccess {
		t.Fatalf("expected all stages success, got %+v", snap)
	}
	if !snap.IsOnline || snap.IsChecking {
		t.Fatalf("unexpected state flags %+v", snap)
	}
	if snap.LastCheckedAt.IsZero() {
		t.Fatal("expected last-checked timestamp recorded")
	}
	if acct.calls.Load() != 1 {
		t.Fatalf("expected one account call, got %d", acct.calls.Load())
	}
}

func TestInternetFailureShortCircuits(t *testing.T) {
	var net, direct atomic.Int32
	acct := &fakeAccount{}
	m, _, pub := newTestManager(conncheck.Config{
		InternetProbes: []probe.Probe{countingProbe("down", &net, errors.New("down"))},
		Direct:         countingTransport("direct", &direct, nil),
		Account:        acct,
	}, nil)

	if m.RunFullCheck(context.Background()) {
		t.Fatal("expected offline when internet is down")
	}
	if direct.Load() != 0 {
		t.Fatal("api stage must not run after internet failure")
	}
	if acct.calls.Load() != 0 {
		t.Fatal("account stage must not run after internet failure")
	}
	snap := pub.Current()
	if snap.Internet != conncheck.VerdictFailed {
		t.Fatalf("expected internet failed, got %s", snap.Internet)
	}
	if snap.API != conncheck.VerdictUnknown || snap.Account != conncheck.VerdictUnknown {
		t.Fatalf("expected later stages unknown, got %+v", snap)
	}
}

func TestAccountFailureDoesNotTakeBotOffline(t *testing.T) {
	var net, direct atomic.Int32
	acct := &fakeAccount{err: errors.New("invalid key")}
	n := &recordingNotifier{}
	m, _, pub := newTestManager(conncheck.Config{
		InternetProbes:  []probe.Probe{countingProbe("up", &net, nil)},
		Direct:          countingTransport("direct", &direct, nil),
		Account:         acct,
		AccountAttempts: 2,
	}, n)

	if !m.RunFullCheck(context.Background()) {
		t.Fatal("account failure must not take the bot offline")
	}
	snap := pub.Current()
	if snap.Account != conncheck.VerdictFailed {
		t.Fatalf("expected account failed, got %s", snap.Account)
	}
	if !snap.IsOnline {
		t.Fatal("expected online despite account failure")
	}
	if n.auth != 1 {
		t.Fatalf("expected one auth-failure notice, got %d", n.auth)
	}
}

func TestConcurrentCheckRejected(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	m, _, _ := newTestManager(conncheck.Config{
		InternetProbes: []probe.Probe{{
			Target: "slow",
			Do: func(ctx context.Context) error {
				close(started)
				select {
				case <-release:
				case <-ctx.Done():
				}
				return nil
			},
		}},
		Direct: countingTransport("direct", new(atomic.Int32), nil),
	}, nil)

	done := make(chan bool, 1)
	go func() { done <- m.RunFullCheck(context.Background()) }()
	<-started

	// The second request must return immediately with the current verdict
	// instead of queueing behind the in-flight cycle.
	if m.RunFullCheck(context.Background()) {
		t.Fatal("expected rejected check to report the pre-cycle verdict")
	}

	close(release)
	if !<-done {
		t.Fatal("expected the original cycle to finish online")
	}
}

func TestToggleBypassOnForcesOnlineWithoutProbes(t *testing.T) {
	var net, direct atomic.Int32
	m, store, pub := newTestManager(conncheck.Config{
		InternetProbes: []probe.Probe{countingProbe("down", &net, errors.New("down"))},
		Direct:         countingTransport("direct", &direct, errors.New("down")),
	}, nil)

	if err := m.ToggleBypass(context.Background(), true); err != nil {
		t.Fatalf("toggle bypass: %v", err)
	}
	snap := pub.Current()
	if !snap.IsOnline {
		t.Fatal("expected online under bypass")
	}
	if snap.Internet != conncheck.VerdictSuccess || snap.API != conncheck.VerdictSuccess || snap.Account != conncheck.VerdictSuccess {
		t.Fatalf("expected all stages forced to success, got %+v", snap)
	}
	if net.Load() != 0 || direct.Load() != 0 {
		t.Fatal("bypass must not touch the network")
	}
	pol, _ := store.Load()
	if !pol.BypassChecks {
		t.Fatal("expected bypass flag persisted")
	}
}

func TestToggleBypassOffRunsRealCheck(t *testing.T) {
	var net atomic.Int32
	m, store, pub := newTestManager(conncheck.Config{
		InternetProbes: []probe.Probe{countingProbe("down", &net, errors.New("down"))},
	}, nil)

	if err := m.ToggleBypass(context.Background(), true); err != nil {
		t.Fatalf("toggle bypass on: %v", err)
	}
	if err := m.ToggleBypass(context.Background(), false); err != nil {
		t.Fatalf("toggle bypass off: %v", err)
	}
	if n := net.Load(); n != 1 {
		t.Fatalf("expected exactly one check cycle after disabling bypass, got %d probes", n)
	}
	if pub.Current().IsOnline {
		t.Fatal("expected offline once real checks resume against a dead network")
	}
	pol, _ := store.Load()
	if pol.BypassChecks {
		t.Fatal("expected bypass flag cleared")
	}
}

func TestManualCheckSuggestsBypassAfterRepeatedFailures(t *testing.T) {
	var net atomic.Int32
	n := &recordingNotifier{}
	m, _, _ := newTestManager(conncheck.Config{
		InternetProbes: []probe.Probe{countingProbe("down", &net, errors.New("down"))},
	}, n)

	m.ManualCheck(context.Background())
	if n.hints != 0 {
		t.Fatal("bypass hint must not fire on the first failure")
	}
	m.ManualCheck(context.Background())
	if n.hints != 1 {
		t.Fatalf("expected bypass hint after second failure, got %d", n.hints)
	}
	if len(n.problems) != 2 {
		t.Fatalf("expected two problem notices, got %d", len(n.problems))
	}
	for _, f := range n.problems {
		if f != conncheck.FailureInternetDown {
			t.Fatalf("expected internet_down classification, got %s", f)
		}
	}
}

func TestManualCheckRestoredNoticeAndAttemptReset(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	n := &recordingNotifier{}
	m, _, pub := newTestManager(conncheck.Config{
		InternetProbes: []probe.Probe{{
			Target: "flaky",
			Do: func(context.Context) error {
				if fail.Load() {
					return errors.New("down")
				}
				return nil
			},
		}},
		Direct: exchange.Transport{Name: "direct", Ping: func(context.Context) error { return nil }},
	}, n)

	if m.ManualCheck(context.Background()) {
		t.Fatal("expected first manual check to fail")
	}
	fail.Store(false)
	if !m.ManualCheck(context.Background()) {
		t.Fatal("expected second manual check to succeed")
	}
	if n.restored != 1 {
		t.Fatalf("expected one restored notice, got %d", n.restored)
	}
	if got := pub.Current().Attempts; got != 0 {
		t.Fatalf("expected attempts reset after success, got %d", got)
	}
}

func TestOfflineModeIsStickyAndLeavesStagesAlone(t *testing.T) {
	var net atomic.Int32
	m, store, pub := newTestManager(conncheck.Config{
		InternetProbes: []probe.Probe{countingProbe("up", &net, nil)},
		Direct:         exchange.Transport{Name: "direct", Ping: func(context.Context) error { return nil }},
	}, nil)

	m.RunFullCheck(context.Background())
	before := pub.Current()

	if err := m.EnableOfflineMode(); err != nil {
		t.Fatalf("enable offline mode: %v", err)
	}
	after := pub.Current()
	if after.Internet != before.Internet || after.API != before.API || after.Account != before.Account {
		t.Fatalf("enabling offline mode must not alter the stage record: %+v -> %+v", before, after)
	}

	// Checks still run and must not silently clear the flag.
	m.RunFullCheck(context.Background())
	pol, _ := store.Load()
	if !pol.OfflineMode {
		t.Fatal("expected offline flag to survive a full check")
	}

	if err := m.DisableOfflineMode(context.Background()); err != nil {
		t.Fatalf("disable offline mode: %v", err)
	}
	pol, _ = store.Load()
	if pol.OfflineMode {
		t.Fatal("expected offline flag cleared only by explicit disable")
	}
}

func TestOfflineModeSuppressesFailureNotices(t *testing.T) {
	var net atomic.Int32
	n := &recordingNotifier{}
	m, _, _ := newTestManager(conncheck.Config{
		InternetProbes: []probe.Probe{countingProbe("down", &net, errors.New("down"))},
	}, n)

	if err := m.EnableOfflineMode(); err != nil {
		t.Fatalf("enable offline mode: %v", err)
	}
	m.ManualCheck(context.Background())
	m.ManualCheck(context.Background())
	if len(n.problems) != 0 || n.hints != 0 {
		t.Fatalf("no notices expected while offline mode is active, got %+v hints=%d", n.problems, n.hints)
	}
}

func TestToggleForceDirectReverifiesAPIStage(t *testing.T) {
	var direct, fallback atomic.Int32
	var directBlocked atomic.Bool
	m, store, pub := newTestManager(conncheck.Config{
		InternetProbes: []probe.Probe{{Target: "up", Do: func(context.Context) error { return nil }}},
		Direct: exchange.Transport{Name: "direct", Ping: func(context.Context) error {
			direct.Add(1)
			if directBlocked.Load() {
				return errors.New("blocked")
			}
			return nil
		}},
		Fallbacks: []exchange.Transport{countingTransport("proxy", &fallback, nil)},
	}, nil)

	if !m.RunFullCheck(context.Background()) {
		t.Fatal("expected initial cycle online")
	}

	// Direct path dies; with force-direct on, the fallback may not rescue it.
	directBlocked.Store(true)
	if err := m.ToggleForceDirectAPI(context.Background(), true); err != nil {
		t.Fatalf("toggle force-direct: %v", err)
	}
	snap := pub.Current()
	if snap.API != conncheck.VerdictFailed {
		t.Fatalf("expected api failed under force-direct, got %s", snap.API)
	}
	if snap.Internet != conncheck.VerdictSuccess {
		t.Fatalf("expected internet verdict preserved, got %s", snap.Internet)
	}
	if snap.IsOnline {
		t.Fatal("expected offline after api re-check failed")
	}
	if fallback.Load() != 0 {
		t.Fatal("fallback must not be probed under force-direct")
	}
	pol, _ := store.Load()
	if !pol.ForceDirectAPI {
		t.Fatal("expected force-direct flag persisted")
	}
}

func slowProbe(started, release chan struct{}, err error) probe.Probe {
	return probe.Probe{
		Target: "slow",
		Do: func(ctx context.Context) error {
			close(started)
			select {
			case <-release:
			case <-ctx.Done():
			}
			return err
		},
	}
}

func TestMarkOfflineDiscardsInFlightCycleVerdict(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	m, _, pub := newTestManager(conncheck.Config{
		InternetProbes: []probe.Probe{slowProbe(started, release, nil)},
		Direct:         exchange.Transport{Name: "direct", Ping: func(context.Context) error { return nil }},
	}, nil)

	done := make(chan bool, 1)
	go func() { done <- m.RunFullCheck(context.Background()) }()
	<-started

	m.MarkOffline()
	close(release)

	if <-done {
		t.Fatal("superseded cycle must report the superseding offline verdict")
	}
	snap := pub.Current()
	if snap.Internet != conncheck.VerdictFailed {
		t.Fatalf("expected internet failed after network loss, got %s", snap.Internet)
	}
	if snap.IsOnline {
		t.Fatalf("stale cycle verdict must not flip the bot back online: %+v", snap)
	}
}

func TestBypassOnDiscardsInFlightFailingCycle(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	m, _, pub := newTestManager(conncheck.Config{
		InternetProbes: []probe.Probe{slowProbe(started, release, errors.New("down"))},
	}, nil)

	done := make(chan bool, 1)
	go func() { done <- m.RunFullCheck(context.Background()) }()
	<-started

	if err := m.ToggleBypass(context.Background(), true); err != nil {
		t.Fatalf("toggle bypass: %v", err)
	}
	close(release)

	if !<-done {
		t.Fatal("superseded cycle must report the forced online verdict")
	}
	snap := pub.Current()
	if snap.Internet != conncheck.VerdictSuccess || snap.API != conncheck.VerdictSuccess || snap.Account != conncheck.VerdictSuccess {
		t.Fatalf("expected forced success preserved, got %+v", snap)
	}
	if !snap.IsOnline {
		t.Fatalf("stale failing cycle must not take a bypassed bot offline: %+v", snap)
	}
}

func TestRejectedManualCheckCountsNothing(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	n := &recordingNotifier{}
	m, _, _ := newTestManager(conncheck.Config{
		InternetProbes: []probe.Probe{slowProbe(started, release, nil)},
		Direct:         exchange.Transport{Name: "direct", Ping: func(context.Context) error { return nil }},
	}, n)

	done := make(chan bool, 1)
	go func() { done <- m.ManualCheck(context.Background()) }()
	<-started

	if m.ManualCheck(context.Background()) {
		t.Fatal("expected rejected manual check to report the pre-cycle verdict")
	}
	if got := m.Snapshot().Attempts; got != 1 {
		t.Fatalf("rejected manual check must not count an attempt, got %d", got)
	}

	close(release)
	if !<-done {
		t.Fatal("expected the original manual check to succeed")
	}
	if len(n.problems) != 0 || n.hints != 0 {
		t.Fatalf("rejected manual check must not emit notices, got %+v hints=%d", n.problems, n.hints)
	}
}

func TestMarkOfflineSupersedesState(t *testing.T) {
	n := &recordingNotifier{}
	m, _, pub := newTestManager(conncheck.Config{
		InternetProbes: []probe.Probe{{Target: "up", Do: func(context.Context) error { return nil }}},
		Direct:         exchange.Transport{Name: "direct", Ping: func(context.Context) error { return nil }},
	}, n)

	m.RunFullCheck(context.Background())
	m.MarkOffline()

	snap := pub.Current()
	if snap.IsOnline {
		t.Fatal("expected offline after network loss report")
	}
	if snap.Internet != conncheck.VerdictFailed {
		t.Fatalf("expected internet failed, got %s", snap.Internet)
	}
	if len(n.problems) != 1 || n.problems[0] != conncheck.FailureInternetDown {
		t.Fatalf("expected one internet_down notice, got %+v", n.problems)
	}
}
