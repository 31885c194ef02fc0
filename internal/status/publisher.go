// Package status publishes the connection state to the rest of the
// application. Consumers only ever read; the ConnectionManager is the sole
// writer.
package status

import (
	"sync"
	"time"

	"github.com/tradegate/gatewatch/internal/conncheck"
)

// Snapshot is the read-only record consumers observe.
type Snapshot struct {
	Internet      conncheck.Verdict `json:"internet"`
	API           conncheck.Verdict `json:"api"`
	Account       conncheck.Verdict `json:"account"`
	IsOnline      bool              `json:"is_online"`
	IsChecking    bool              `json:"is_checking"`
	Attempts      uint64            `json:"attempts"`
	LastCheckedAt time.Time         `json:"last_checked_at"`
}

// Publisher holds the current snapshot and fans out changes to subscribers.
type Publisher struct {
	mu   sync.RWMutex
	snap Snapshot
	subs []chan Snapshot
}

func NewPublisher() *Publisher {
	return &Publisher{
		snap: Snapshot{
			Internet: conncheck.VerdictUnknown,
			API:      conncheck.VerdictUnknown,
			Account:  conncheck.VerdictUnknown,
		},
	}
}

// Current returns the latest snapshot.
func (p *Publisher) Current() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap
}

// Publish stores the snapshot and notifies subscribers. Slow subscribers
// miss intermediate snapshots rather than blocking the publisher.
func (p *Publisher) Publish(snap Snapshot) {
	p.mu.Lock()
	p.snap = snap
	subs := make([]chan Snapshot, len(p.subs))
	copy(subs, p.subs)
	p.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// Subscribe registers a listener. The current snapshot is delivered first so
// late subscribers do not start blind.
func (p *Publisher) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, 8)
	p.mu.Lock()
	p.subs = append(p.subs, ch)
	ch <- p.snap
	p.mu.Unlock()
	return ch
}
