package client

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/transitops/stationlink/pkg/protocol"
)

// heartbeatPriority is the wire priority carried by liveness probes.
const heartbeatPriority = 1

// heartbeatMonitor sends periodic liveness probes while the client is online
// and feeds the quality classification. An unanswered probe counts toward
// the error rate; it never tears the connection down by itself.
//
// Probes are written straight to the transport rather than through the
// dispatch queue: despite their low wire priority they must not sit behind
// the delayed tier, or latency sampling would measure our own throttle.
type heartbeatMonitor struct {
	client *Client

	mu      sync.Mutex
	running bool
	done    chan struct{}

	// outstanding probe, nil when answered
	pendingID string
	sentAt    time.Time
}

func newHeartbeatMonitor(c *Client) *heartbeatMonitor {
	return &heartbeatMonitor{client: c}
}

// start launches the probe loop. No-op when already running.
func (h *heartbeatMonitor) start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	h.pendingID = ""
	h.done = make(chan struct{})
	go h.loop(h.done)
}

// stop halts the probe loop synchronously with respect to new ticks.
func (h *heartbeatMonitor) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	h.running = false
	close(h.done)
}

func (h *heartbeatMonitor) loop(done chan struct{}) {
	ticker := time.NewTicker(h.client.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.tick()
		case <-done:
			return
		}
	}
}

// tick accounts for the previous probe and sends the next one.
func (h *heartbeatMonitor) tick() {
	c := h.client
	if !c.State().online() {
		return
	}

	h.mu.Lock()
	missed := h.pendingID != ""
	h.pendingID = ""
	h.mu.Unlock()

	if missed {
		old, now := c.metrics.recordHeartbeatMiss()
		c.emitQualityChange(old, now)
	}

	// Credential may have appeared since the last tick.
	c.retryAuthIfNeeded()

	snapshot, err := json.Marshal(c.metrics.Snapshot())
	if err != nil {
		snapshot = nil
	}
	env := &protocol.Envelope{
		Type:     protocol.TypeHeartbeat,
		Payload:  snapshot,
		Priority: heartbeatPriority,
	}
	c.prepare(env)

	h.mu.Lock()
	h.pendingID = env.MessageID
	h.sentAt = time.Now()
	h.mu.Unlock()

	if err := c.transmit(env); err != nil {
		c.logger.Debug("heartbeat send failed", "error", err)
	}
}

// handleResponse resolves the outstanding probe and updates latency.
func (h *heartbeatMonitor) handleResponse(env *protocol.Envelope) {
	h.mu.Lock()
	if h.pendingID == "" {
		h.mu.Unlock()
		return
	}
	rtt := time.Since(h.sentAt)
	h.pendingID = ""
	h.mu.Unlock()

	old, now := h.client.metrics.recordHeartbeat(rtt)
	h.client.emitQualityChange(old, now)
}
