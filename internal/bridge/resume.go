package bridge

import (
	"context"
	"log"
	"time"
)

// ResumeWatcher detects host suspend by watching for wall-clock jumps: a
// ticker that fires far later than scheduled means the process was paused,
// and whatever sockets or DNS state existed before the pause is suspect.
type ResumeWatcher struct {
	bridge    *Bridge
	interval  time.Duration
	threshold time.Duration
	logger    *log.Logger
}

func NewResumeWatcher(b *Bridge, logger *log.Logger) *ResumeWatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &ResumeWatcher{
		bridge:    b,
		interval:  5 * time.Second,
		threshold: 10 * time.Second,
		logger:    logger,
	}
}

// Run watches until ctx is cancelled.
func (w *ResumeWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			gap := now.Sub(last) - w.interval
			last = now
			if gap > w.threshold {
				w.logger.Printf("resume: clock jumped %s, assuming suspend", gap.Round(time.Second))
				w.bridge.Emit(SignalResumed)
			}
		}
	}
}
