// Package probe issues bounded reachability probes. A probe never lets an
// error escape its boundary: network failures, timeouts, and bad status
// codes all fold into a failed Result.
package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Result captures the outcome of a single probe.
type Result struct {
	Target    string    `json:"target"`
	OK        bool      `json:"ok"`
	LatencyMs int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Func issues one attempt against one target. A non-nil error means failure;
// the caller folds it into a Result and never re-raises it.
type Func func(ctx context.Context) error

// Probe pairs a target label with the attempt function.
type Probe struct {
	Target string
	Do     Func
}

// HTTP builds a probe that GETs url and treats 2xx/3xx as reachable.
func HTTP(client *http.Client, url string) Probe {
	if client == nil {
		client = http.DefaultClient
	}
	return Probe{
		Target: url,
		Do: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 400 {
				return fmt.Errorf("status %d", resp.StatusCode)
			}
			return nil
		},
	}
}

// Run executes one probe with the given timeout and folds the outcome into
// a Result.
func Run(ctx context.Context, p Probe, timeout time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	err := p.Do(ctx)
	res := Result{
		Target:    p.Target,
		OK:        err == nil,
		LatencyMs: time.Since(started).Milliseconds(),
		CheckedAt: time.Now(),
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// Any races the probes and returns the first success, cancelling the losers.
// It returns ok=false only when every probe failed or timed out, or the
// parent context was cancelled. Each probe carries its own timeout, so the
// race settles no later than the per-probe timeout, not the slowest probe.
func Any(ctx context.Context, timeout time.Duration, probes []Probe) (Result, bool) {
	if len(probes) == 0 {
		return Result{Error: "no probes configured", CheckedAt: time.Now()}, false
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan Result, len(probes))
	for _, p := range probes {
		go func(p Probe) {
			results <- Run(raceCtx, p, timeout)
		}(p)
	}

	var last Result
	for i := 0; i < len(probes); i++ {
		select {
		case <-ctx.Done():
			return Result{Error: ctx.Err().Error(), CheckedAt: time.Now()}, false
		case res := <-results:
			if res.OK {
				return res, true
			}
			last = res
		}
	}
	return last, false
}
