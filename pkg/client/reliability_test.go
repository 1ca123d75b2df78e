package client

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/transitops/stationlink/pkg/protocol"
)

func TestIDGenerator_UniqueWithinSession(t *testing.T) {
	var g idGenerator
	seen := make(map[string]bool)
	for i := 0; i < 10000; i++ {
		id := g.next()
		if id == "" {
			t.Fatal("empty id")
		}
		if seen[id] {
			t.Fatalf("duplicate id %q after %d generations", id, i)
		}
		seen[id] = true
	}
}

func TestMessageCache_BoundedEviction(t *testing.T) {
	c := newMessageCache(3)
	for i := 0; i < 5; i++ {
		c.add(&protocol.Envelope{MessageID: fmt.Sprintf("m%d", i)})
	}

	if got := c.size(); got != 3 {
		t.Fatalf("size = %d, want 3", got)
	}
	for _, id := range []string{"m0", "m1"} {
		if c.seen(id) {
			t.Errorf("%s should have been evicted", id)
		}
	}
	for _, id := range []string{"m2", "m3", "m4"} {
		if !c.seen(id) {
			t.Errorf("%s should be cached", id)
		}
	}
}

func TestMessageCache_FirstCopyWins(t *testing.T) {
	c := newMessageCache(2)
	c.add(&protocol.Envelope{MessageID: "m1", Type: "original"})
	c.add(&protocol.Envelope{MessageID: "m1", Type: "repeat"})
	if got := c.size(); got != 1 {
		t.Errorf("size = %d, want 1", got)
	}
}

func TestRetryLedger_SuccessRemovesEntry(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	ledger := newRetryLedger(3, time.Millisecond,
		func(env *protocol.Envelope) error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts < 2 {
				return errors.New("still down")
			}
			return nil
		},
		func(*protocol.Envelope, int, error) {
			t.Error("onExhausted fired for a recoverable send")
		})

	ledger.record(&protocol.Envelope{MessageID: "m1", Type: "seat_hold"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && ledger.size() > 0 {
		time.Sleep(time.Millisecond)
	}
	if ledger.size() != 0 {
		t.Fatal("entry not removed after successful resend")
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Errorf("resend attempts = %d, want 2", attempts)
	}
}

func TestRetryLedger_ExhaustionDropsAndSurfaces(t *testing.T) {
	exhausted := make(chan int, 1)
	ledger := newRetryLedger(3, time.Millisecond,
		func(env *protocol.Envelope) error { return errors.New("down") },
		func(env *protocol.Envelope, attempts int, err error) {
			exhausted <- attempts
		})

	env := &protocol.Envelope{MessageID: "m1", Type: "seat_hold"}
	ledger.record(env)

	select {
	case attempts := <-exhausted:
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	case <-time.After(time.Second):
		t.Fatal("exhaustion never surfaced")
	}
	if ledger.size() != 0 {
		t.Error("exhausted entry still in ledger")
	}
	if env.RetryCount != 3 {
		t.Errorf("envelope retryCount = %d, want 3", env.RetryCount)
	}
}

func TestRetryLedger_RecordIsIdempotentPerMessage(t *testing.T) {
	ledger := newRetryLedger(3, time.Hour,
		func(*protocol.Envelope) error { return nil },
		func(*protocol.Envelope, int, error) {})
	env := &protocol.Envelope{MessageID: "m1"}
	ledger.record(env)
	ledger.record(env)
	if got := ledger.size(); got != 1 {
		t.Errorf("ledger size = %d, want 1", got)
	}
	ledger.stop()
}

func TestRetryLedger_StopCancelsTimers(t *testing.T) {
	var resends sync.Map
	ledger := newRetryLedger(3, 5*time.Millisecond,
		func(env *protocol.Envelope) error {
			resends.Store(env.MessageID, true)
			return errors.New("down")
		},
		func(*protocol.Envelope, int, error) {})

	ledger.record(&protocol.Envelope{MessageID: "m1"})
	ledger.stop()

	time.Sleep(30 * time.Millisecond)
	if _, ok := resends.Load("m1"); ok {
		t.Error("retry fired after stop")
	}
}
