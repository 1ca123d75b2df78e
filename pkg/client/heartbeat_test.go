package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/transitops/stationlink/pkg/protocol"
)

func TestHeartbeat_ProbesWhileOnline(t *testing.T) {
	h := newHarness(t, func(cfg *Config, h *testHarness) {
		cfg.HeartbeatInterval = 15 * time.Millisecond
		h.nextOpts = func(ft *fakeTransport) { ft.autoPong = true }
	})

	h.client.Connect(context.Background())
	waitFor(t, "connected", func() bool { return h.client.State().online() })

	ft := h.transport()
	waitFor(t, "heartbeats flowing", func() bool {
		return len(ft.sentOfType(protocol.TypeHeartbeat)) >= 2
	})

	for _, env := range ft.sentOfType(protocol.TypeHeartbeat) {
		if env.Priority != heartbeatPriority {
			t.Errorf("heartbeat priority = %d, want %d", env.Priority, heartbeatPriority)
		}
		if !env.Complete() {
			t.Errorf("heartbeat envelope incomplete: %+v", env)
		}
	}

	waitFor(t, "latency sampled", func() bool {
		return !h.client.Metrics().LastHeartbeat.IsZero()
	})
}

func TestHeartbeat_ResponseUpdatesLatencyAndQuality(t *testing.T) {
	h := newHarness(t, func(cfg *Config, h *testHarness) {
		cfg.HeartbeatInterval = 15 * time.Millisecond
		h.nextOpts = func(ft *fakeTransport) { ft.autoPong = true }
	})

	var mu sync.Mutex
	var qualities []string
	h.client.On(EventQualityChanged, func(data any) {
		mu.Lock()
		qualities = append(qualities, data.(string))
		mu.Unlock()
	})

	h.client.Connect(context.Background())
	waitFor(t, "quality classified", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(qualities) > 0
	})

	// The fake answers within microseconds: the link leaves the poor tier.
	mu.Lock()
	first := qualities[0]
	mu.Unlock()
	if first == "poor" {
		t.Errorf("first reported quality tier = %q, want better than poor", first)
	}
	snap := h.client.Metrics()
	if snap.LatencyMs <= 0 {
		t.Errorf("latency = %v, want > 0", snap.LatencyMs)
	}
}

func TestHeartbeat_MissedResponseCountsTowardErrorRate(t *testing.T) {
	h := newHarness(t, func(cfg *Config, h *testHarness) {
		cfg.HeartbeatInterval = 15 * time.Millisecond
		// No autoPong: every probe goes unanswered.
	})

	h.client.Connect(context.Background())
	waitFor(t, "connected", func() bool { return h.client.State().online() })

	waitFor(t, "misses accounted", func() bool {
		return h.client.Metrics().ErrorRate > 0
	})

	// Missed heartbeats alone never tear the connection down.
	if !h.client.State().online() {
		t.Errorf("state = %v; heartbeat misses must not disconnect", h.client.State())
	}
}

func TestHeartbeat_StopsAfterDisconnect(t *testing.T) {
	h := newHarness(t, func(cfg *Config, h *testHarness) {
		cfg.HeartbeatInterval = 10 * time.Millisecond
		h.nextOpts = func(ft *fakeTransport) { ft.autoPong = true }
	})

	h.client.Connect(context.Background())
	waitFor(t, "connected", func() bool { return h.client.State().online() })
	ft := h.transport()
	waitFor(t, "first probe", func() bool {
		return len(ft.sentOfType(protocol.TypeHeartbeat)) >= 1
	})

	h.client.Disconnect("shift over")
	sent := len(ft.sentOfType(protocol.TypeHeartbeat))
	time.Sleep(50 * time.Millisecond)
	if got := len(ft.sentOfType(protocol.TypeHeartbeat)); got != sent {
		t.Errorf("heartbeats continued after disconnect: %d -> %d", sent, got)
	}
}
