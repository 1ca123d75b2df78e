package client

import (
	"sync"
	"time"
)

// Quality is the coarse link-health classification derived from latency and
// error rate.
type Quality int

const (
	QualityPoor Quality = iota
	QualityFair
	QualityGood
	QualityExcellent
)

// String returns the string representation of the quality tier.
func (q Quality) String() string {
	switch q {
	case QualityExcellent:
		return "excellent"
	case QualityGood:
		return "good"
	case QualityFair:
		return "fair"
	default:
		return "poor"
	}
}

// classifyQuality maps (latency ms, error rate) onto a quality tier. Pure
// function; thresholds are part of the contract.
func classifyQuality(latencyMs, errorRate float64) Quality {
	switch {
	case latencyMs < 50 && errorRate < 0.01:
		return QualityExcellent
	case latencyMs < 100 && errorRate < 0.05:
		return QualityGood
	case latencyMs < 200 && errorRate < 0.1:
		return QualityFair
	default:
		return QualityPoor
	}
}

// throughputWeight is the EMA smoothing applied to messageThroughput:
// 0.9 of the old value, 0.1 of the new sample.
const throughputWeight = 0.9

// MetricsSnapshot is a point-in-time copy of the connection metrics, safe to
// hand to readers.
type MetricsSnapshot struct {
	LatencyMs            float64       `json:"latencyMs"`
	MessageThroughput    float64       `json:"messageThroughput"`
	ErrorRate            float64       `json:"errorRate"`
	LastHeartbeat        time.Time     `json:"lastHeartbeat"`
	ConnectionQuality    string        `json:"connectionQuality"`
	Uptime               time.Duration `json:"uptime"`
	MessagesSent         uint64        `json:"messagesSent"`
	MessagesReceived     uint64        `json:"messagesReceived"`
	ReconnectionAttempts int           `json:"reconnectionAttempts"`
	LastReconnection     time.Time     `json:"lastReconnection"`
}

// metrics is the single mutable metrics record. Created once per client and
// mutated only by the heartbeat monitor and the send/receive paths.
type metrics struct {
	mu sync.Mutex

	latencyMs         float64
	throughput        float64
	errorRate         float64
	lastHeartbeat     time.Time
	quality           Quality
	messagesSent      uint64
	messagesReceived  uint64
	reconnectAttempts int
	lastReconnection  time.Time

	// Uptime accumulates across connect cycles; onlineSince is zero while
	// offline.
	accumulated time.Duration
	onlineSince time.Time

	// Heartbeat accounting feeding errorRate.
	probesSent   uint64
	probesFailed uint64
}

func newMetrics() *metrics {
	return &metrics{quality: QualityPoor}
}

// recordSent updates the send counter and throughput EMA.
func (m *metrics) recordSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesSent++
	m.throughput = m.throughput*throughputWeight + 1*(1-throughputWeight)
}

// recordReceived updates the receive counter and throughput EMA.
func (m *metrics) recordReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesReceived++
	m.throughput = m.throughput*throughputWeight + 1*(1-throughputWeight)
}

// recordHeartbeat stores a completed probe round trip. Latency is replaced
// directly, not averaged. It returns the previous and new quality tiers so
// the caller can emit a change event.
func (m *metrics) recordHeartbeat(rtt time.Duration) (old, now Quality) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencyMs = float64(rtt) / float64(time.Millisecond)
	m.lastHeartbeat = time.Now()
	m.probesSent++
	return m.reclassify()
}

// recordHeartbeatMiss counts an unanswered probe toward the error rate.
func (m *metrics) recordHeartbeatMiss() (old, now Quality) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probesSent++
	m.probesFailed++
	return m.reclassify()
}

// reclassify recomputes errorRate and quality. Callers hold m.mu.
func (m *metrics) reclassify() (old, now Quality) {
	if m.probesSent > 0 {
		m.errorRate = float64(m.probesFailed) / float64(m.probesSent)
	}
	old = m.quality
	m.quality = classifyQuality(m.latencyMs, m.errorRate)
	return old, m.quality
}

// markOnline starts the uptime clock.
func (m *metrics) markOnline() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.onlineSince.IsZero() {
		m.onlineSince = time.Now()
	}
}

// markOffline stops the uptime clock and accumulates the elapsed span.
func (m *metrics) markOffline() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.onlineSince.IsZero() {
		m.accumulated += time.Since(m.onlineSince)
		m.onlineSince = time.Time{}
	}
}

// recordReconnectAttempt counts a scheduled reconnection.
func (m *metrics) recordReconnectAttempt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnectAttempts++
	m.lastReconnection = time.Now()
}

// Snapshot returns a copy of the current metrics.
func (m *metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	uptime := m.accumulated
	if !m.onlineSince.IsZero() {
		uptime += time.Since(m.onlineSince)
	}
	return MetricsSnapshot{
		LatencyMs:            m.latencyMs,
		MessageThroughput:    m.throughput,
		ErrorRate:            m.errorRate,
		LastHeartbeat:        m.lastHeartbeat,
		ConnectionQuality:    m.quality.String(),
		Uptime:               uptime,
		MessagesSent:         m.messagesSent,
		MessagesReceived:     m.messagesReceived,
		ReconnectionAttempts: m.reconnectAttempts,
		LastReconnection:     m.lastReconnection,
	}
}
