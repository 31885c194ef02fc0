package conncheck

import (
	"context"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/tradegate/gatewatch/internal/exchange"
	"github.com/tradegate/gatewatch/internal/policy"
	"github.com/tradegate/gatewatch/internal/probe"
)

// Config wires the checker's probe targets and timeouts.
type Config struct {
	// InternetProbes are raced for the internet stage; keep them on
	// unrelated vendors so one outage cannot fail the stage.
	InternetProbes []probe.Probe

	// Direct is the primary exchange transport; Fallbacks are raced when
	// it fails and the force-direct policy is off.
	Direct    exchange.Transport
	Fallbacks []exchange.Transport

	// Account is the authenticated collaborator; nil or credential-less
	// makes the account stage not applicable.
	Account exchange.AccountReader

	ProbeTimeout      time.Duration
	AccountAttempts   int
	AccountRetryDelay time.Duration
}

// Checker runs one stage at a time, writing verdicts into the shared stage
// record. It never returns an error: every probe failure is folded into the
// stage verdict.
type Checker struct {
	cfg    Config
	stages *Stages

	mu   sync.Mutex
	last map[Stage]probe.Result
}

func New(stages *Stages, cfg Config) *Checker {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 6 * time.Second
	}
	if cfg.AccountAttempts <= 0 {
		cfg.AccountAttempts = 2
	}
	if cfg.AccountRetryDelay <= 0 {
		cfg.AccountRetryDelay = time.Second
	}
	return &Checker{
		cfg:    cfg,
		stages: stages,
		last:   make(map[Stage]probe.Result),
	}
}

// CheckInternet races the general-internet endpoints. Any single success
// settles the stage; all must fail for a failed verdict.
func (c *Checker) CheckInternet(ctx context.Context, gen uint64, pol policy.Policy) Verdict {
	if pol.BypassChecks {
		c.stages.Set(gen, StageInternet, VerdictSuccess)
		return VerdictSuccess
	}

	c.stages.Set(gen, StageInternet, VerdictChecking)
	res, ok := probe.Any(ctx, c.cfg.ProbeTimeout, c.cfg.InternetProbes)
	c.record(StageInternet, res)

	v := verdictOf(ok)
	c.stages.Set(gen, StageInternet, v)
	return v
}

// CheckAPIAccess tries the direct exchange transport first, then races the
// fallback transports unless the force-direct policy forbids them.
func (c *Checker) CheckAPIAccess(ctx context.Context, gen uint64, pol policy.Policy) Verdict {
	if pol.BypassChecks {
		c.stages.Set(gen, StageAPI, VerdictSuccess)
		return VerdictSuccess
	}

	c.stages.Set(gen, StageAPI, VerdictChecking)

	res := probe.Run(ctx, transportProbe(c.cfg.Direct), c.cfg.ProbeTimeout)
	ok := res.OK
	if !ok && !pol.ForceDirectAPI && len(c.cfg.Fallbacks) > 0 {
		probes := make([]probe.Probe, 0, len(c.cfg.Fallbacks))
		for _, t := range c.cfg.Fallbacks {
			probes = append(probes, transportProbe(t))
		}
		res, ok = probe.Any(ctx, c.cfg.ProbeTimeout, probes)
	}
	c.record(StageAPI, res)

	v := verdictOf(ok)
	c.stages.Set(gen, StageAPI, v)
	return v
}

// CheckAccount calls the account collaborator with a bounded retry. Missing
// credentials settle the stage at unknown: not applicable is not a failure.
// A placeholder payload counts as failure, since demo data would mask a
// broken credential.
func (c *Checker) CheckAccount(ctx context.Context, gen uint64, pol policy.Policy) Verdict {
	if pol.BypassChecks {
		c.stages.Set(gen, StageAccount, VerdictSuccess)
		return VerdictSuccess
	}

	if c.cfg.Account == nil || !c.cfg.Account.HasCredentials() {
		c.stages.Set(gen, StageAccount, VerdictUnknown)
		return VerdictUnknown
	}

	c.stages.Set(gen, StageAccount, VerdictChecking)

	retry := &backoff.Backoff{
		Min:    c.cfg.AccountRetryDelay,
		Max:    c.cfg.AccountRetryDelay,
		Factor: 1,
	}

	var res probe.Result
	ok := false
	for attempt := 0; attempt < c.cfg.AccountAttempts; attempt++ {
		res = probe.Run(ctx, probe.Probe{
			Target: "account",
			Do: func(ctx context.Context) error {
				snap, err := c.cfg.Account.AccountInfo(ctx)
				if err != nil {
					return err
				}
				if snap.Placeholder {
					return errPlaceholderAccount
				}
				return nil
			},
		}, c.cfg.ProbeTimeout)
		if res.OK {
			ok = true
			break
		}
		if attempt == c.cfg.AccountAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			attempt = c.cfg.AccountAttempts
		case <-time.After(retry.Duration()):
		}
	}
	c.record(StageAccount, res)

	v := verdictOf(ok)
	c.stages.Set(gen, StageAccount, v)
	return v
}

// LastResults returns the most recent probe result per stage, for status
// reporting.
func (c *Checker) LastResults() map[Stage]probe.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[Stage]probe.Result, len(c.last))
	for k, v := range c.last {
		out[k] = v
	}
	return out
}

func (c *Checker) record(stage Stage, res probe.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[stage] = res
}

func transportProbe(t exchange.Transport) probe.Probe {
	return probe.Probe{Target: t.Name, Do: t.Ping}
}

func verdictOf(ok bool) Verdict {
	if ok {
		return VerdictSuccess
	}
	return VerdictFailed
}

type placeholderError struct{}

func (placeholderError) Error() string { return "account returned placeholder data" }

var errPlaceholderAccount = placeholderError{}
