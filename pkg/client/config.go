package client

import (
	"fmt"
	"log/slog"
	"time"
)

// TokenSource supplies the bearer credential for authentication. The second
// return reports whether a credential is available; absence is a valid
// "not logged in yet" condition, not an error.
type TokenSource func() (string, bool)

// Config holds configuration for a Client.
type Config struct {
	// StationID scopes the topic namespace. Required.
	StationID string

	// ClientID identifies this client to the server. Default: generated.
	ClientID string

	// Timeouts

	// DialTimeout is the maximum time for the WebSocket handshake.
	// Default: 10 seconds.
	DialTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a message.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// ReadTimeout is the maximum silence tolerated on the channel before
	// the read loop treats the connection as dead.
	// Default: 90 seconds (three heartbeat intervals).
	ReadTimeout time.Duration

	// Heartbeat

	// HeartbeatInterval is the time between liveness probes.
	// Default: 30 seconds.
	HeartbeatInterval time.Duration

	// Reconnection

	// ReconnectBaseDelay is the backoff base. Delay after attempt N is
	// min(ReconnectBaseDelay * 2^N, ReconnectMaxDelay).
	// Default: 1 second.
	ReconnectBaseDelay time.Duration

	// ReconnectMaxDelay bounds the backoff ceiling. Default: 30 seconds.
	ReconnectMaxDelay time.Duration

	// MaxReconnectAttempts caps automatic retries; past the cap the client
	// settles in Failed until a manual Connect resets the counter.
	// Default: 8.
	MaxReconnectAttempts int

	// Dispatch queue

	// QueueThrottle is the inter-message delay while draining the buffered
	// tier. Default: 10ms.
	QueueThrottle time.Duration

	// LowPriorityDelay defers sub-normal priority envelopes so higher
	// priority traffic can overtake them. Default: 100ms.
	LowPriorityDelay time.Duration

	// Reliability

	// MaxSendRetries is the retry budget per failed message; past it the
	// ledger entry is dropped and a send_error event fires. Default: 3.
	MaxSendRetries int

	// SendRetryDelay is the backoff base between resend attempts.
	// Default: 500ms.
	SendRetryDelay time.Duration

	// MessageCacheSize bounds the recently-seen envelope cache used for
	// de-duplication and diagnostics. Default: 512.
	MessageCacheSize int

	// Authentication

	// TokenSource supplies the bearer credential. Nil or a false return
	// means "no credential": the client proceeds unauthenticated on public
	// topics unless RequireAuth is set.
	TokenSource TokenSource

	// RequireAuth, when true, keeps an unauthenticated connection idle and
	// retries authentication on every heartbeat tick until a credential
	// appears. When false the client operates unauthenticated.
	RequireAuth bool

	// Collaborators

	// Discoverer locates candidate servers. Required (see pkg/discovery).
	Discoverer Discoverer

	// NewTransport builds the channel implementation. Default: WebSocket.
	// Tests substitute fakes here.
	NewTransport func(cfg *Config, h TransportHandler) Transport

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults for everything but
// the required StationID and Discoverer.
func DefaultConfig() *Config {
	return &Config{
		DialTimeout:          10 * time.Second,
		WriteTimeout:         10 * time.Second,
		ReadTimeout:          90 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		MaxReconnectAttempts: 8,
		QueueThrottle:        10 * time.Millisecond,
		LowPriorityDelay:     100 * time.Millisecond,
		MaxSendRetries:       3,
		SendRetryDelay:       500 * time.Millisecond,
		MessageCacheSize:     512,
	}
}

// normalize fills zero values with defaults and validates required fields.
func (c *Config) normalize() error {
	if c.StationID == "" {
		return fmt.Errorf("client: StationID is required")
	}
	if c.Discoverer == nil {
		return fmt.Errorf("client: Discoverer is required")
	}

	def := DefaultConfig()
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if c.QueueThrottle <= 0 {
		c.QueueThrottle = def.QueueThrottle
	}
	if c.LowPriorityDelay <= 0 {
		c.LowPriorityDelay = def.LowPriorityDelay
	}
	if c.MaxSendRetries <= 0 {
		c.MaxSendRetries = def.MaxSendRetries
	}
	if c.SendRetryDelay <= 0 {
		c.SendRetryDelay = def.SendRetryDelay
	}
	if c.MessageCacheSize <= 0 {
		c.MessageCacheSize = def.MessageCacheSize
	}
	if c.NewTransport == nil {
		c.NewTransport = func(cfg *Config, h TransportHandler) Transport {
			return newWSTransport(cfg, h)
		}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}
