package status

import (
	"testing"
	"time"

	"github.com/tradegate/gatewatch/internal/conncheck"
)

func TestCurrentStartsUnknown(t *testing.T) {
	p := NewPublisher()
	snap := p.Current()
	if snap.Internet != conncheck.VerdictUnknown || snap.API != conncheck.VerdictUnknown || snap.Account != conncheck.VerdictUnknown {
		t.Fatalf("expected all unknown, got %+v", snap)
	}
	if snap.IsOnline || snap.IsChecking {
		t.Fatalf("expected idle flags, got %+v", snap)
	}
}

func TestSubscribeDeliversCurrentThenUpdates(t *testing.T) {
	p := NewPublisher()
	ch := p.Subscribe()

	first := <-ch
	if first.Internet != conncheck.VerdictUnknown {
		t.Fatalf("expected initial snapshot first, got %+v", first)
	}

	p.Publish(Snapshot{Internet: conncheck.VerdictSuccess, IsOnline: true})
	select {
	case snap := <-ch:
		if snap.Internet != conncheck.VerdictSuccess || !snap.IsOnline {
			t.Fatalf("unexpected update %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatal("expected update delivered")
	}
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	p := NewPublisher()
	p.Subscribe() // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			p.Publish(Snapshot{IsChecking: i%2 == 0})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
	if p.Current().IsChecking {
		t.Fatal("expected last published snapshot retained")
	}
}
