package client

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PromConfig configures the Prometheus collector.
type PromConfig struct {
	// Namespace is the metrics namespace (default: "stationlink").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels
}

// PromOption configures the Prometheus collector.
type PromOption func(*PromConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) PromOption {
	return func(c *PromConfig) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) PromOption {
	return func(c *PromConfig) {
		c.ConstLabels = labels
	}
}

// PromCollector exposes the live connection metrics as Prometheus metrics.
// Register it with a prometheus.Registerer; every scrape reads a fresh
// snapshot.
type PromCollector struct {
	client *Client

	state             *prometheus.Desc
	latency           *prometheus.Desc
	throughput        *prometheus.Desc
	errorRate         *prometheus.Desc
	quality           *prometheus.Desc
	uptime            *prometheus.Desc
	messagesSent      *prometheus.Desc
	messagesReceived  *prometheus.Desc
	reconnectAttempts *prometheus.Desc
}

// NewPromCollector creates a collector over a client's metrics record.
func NewPromCollector(client *Client, opts ...PromOption) *PromCollector {
	cfg := PromConfig{Namespace: "stationlink"}
	for _, opt := range opts {
		opt(&cfg)
	}
	ns := cfg.Namespace
	labels := cfg.ConstLabels

	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(ns, "", name), help, nil, labels)
	}
	return &PromCollector{
		client:            client,
		state:             desc("connection_state", "Current connection state (0=disconnected .. 6=failed)."),
		latency:           desc("latency_ms", "Last heartbeat round-trip time in milliseconds."),
		throughput:        desc("message_throughput", "Exponential moving average of message flow."),
		errorRate:         desc("error_rate", "Heartbeat probe error rate."),
		quality:           desc("connection_quality", "Connection quality tier (0=poor .. 3=excellent)."),
		uptime:            desc("uptime_seconds", "Cumulative connected time in seconds."),
		messagesSent:      desc("messages_sent_total", "Total envelopes transmitted."),
		messagesReceived:  desc("messages_received_total", "Total envelopes received."),
		reconnectAttempts: desc("reconnection_attempts_total", "Total reconnection attempts scheduled."),
	}
}

// Describe implements prometheus.Collector.
func (pc *PromCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- pc.state
	ch <- pc.latency
	ch <- pc.throughput
	ch <- pc.errorRate
	ch <- pc.quality
	ch <- pc.uptime
	ch <- pc.messagesSent
	ch <- pc.messagesReceived
	ch <- pc.reconnectAttempts
}

// Collect implements prometheus.Collector.
func (pc *PromCollector) Collect(ch chan<- prometheus.Metric) {
	snap := pc.client.Metrics()
	state := pc.client.State()

	var qualityValue float64
	switch snap.ConnectionQuality {
	case QualityExcellent.String():
		qualityValue = 3
	case QualityGood.String():
		qualityValue = 2
	case QualityFair.String():
		qualityValue = 1
	}

	ch <- prometheus.MustNewConstMetric(pc.state, prometheus.GaugeValue, float64(state))
	ch <- prometheus.MustNewConstMetric(pc.latency, prometheus.GaugeValue, snap.LatencyMs)
	ch <- prometheus.MustNewConstMetric(pc.throughput, prometheus.GaugeValue, snap.MessageThroughput)
	ch <- prometheus.MustNewConstMetric(pc.errorRate, prometheus.GaugeValue, snap.ErrorRate)
	ch <- prometheus.MustNewConstMetric(pc.quality, prometheus.GaugeValue, qualityValue)
	ch <- prometheus.MustNewConstMetric(pc.uptime, prometheus.GaugeValue, snap.Uptime.Seconds())
	ch <- prometheus.MustNewConstMetric(pc.messagesSent, prometheus.CounterValue, float64(snap.MessagesSent))
	ch <- prometheus.MustNewConstMetric(pc.messagesReceived, prometheus.CounterValue, float64(snap.MessagesReceived))
	ch <- prometheus.MustNewConstMetric(pc.reconnectAttempts, prometheus.CounterValue, float64(snap.ReconnectionAttempts))
}
