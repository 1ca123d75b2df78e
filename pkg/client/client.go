package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/transitops/stationlink/pkg/discovery"
	"github.com/transitops/stationlink/pkg/protocol"
)

// tracerName is the OpenTelemetry instrumentation scope.
const tracerName = "stationlink"

// Discoverer locates candidate station servers, ranked ascending by response
// time. See pkg/discovery for the HTTP prober implementation.
type Discoverer interface {
	Discover(ctx context.Context) ([]discovery.Candidate, error)
}

// Client is the real-time synchronization client. One instance per process,
// explicitly constructed and passed to consumers.
type Client struct {
	cfg    *Config
	logger *slog.Logger
	router *protocol.Router
	events *dispatcher
	tracer trace.Tracer

	metrics   *metrics
	ids       idGenerator
	cache     *messageCache
	ledger    *retryLedger
	queue     *dispatchQueue
	heartbeat *heartbeatMonitor

	mu             sync.Mutex
	state          ConnectionState
	transport      Transport
	candidates     []discovery.Candidate // ranked fallback list from the last cycle
	subscriptions  map[string]struct{}
	reconnectTimer *time.Timer
	attempts       int
	manual         bool
	authenticated  bool
}

// New creates a Client. The returned client is Disconnected until Connect is
// called.
func New(cfg *Config) (*Client, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:           cfg,
		logger:        cfg.Logger.With("component", "sync_client", "station", cfg.StationID),
		router:        protocol.NewRouter(cfg.StationID),
		metrics:       newMetrics(),
		subscriptions: make(map[string]struct{}),
		state:         StateDisconnected,
		tracer:        otel.Tracer(tracerName),
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "station-client-" + c.ids.next()
	}
	c.events = newDispatcher(c.logger)
	c.cache = newMessageCache(cfg.MessageCacheSize)
	c.queue = newDispatchQueue(cfg.QueueThrottle, cfg.LowPriorityDelay, c.dispatchSend)
	c.ledger = newRetryLedger(cfg.MaxSendRetries, cfg.SendRetryDelay, c.transmit, c.onRetriesExhausted)
	c.heartbeat = newHeartbeatMonitor(c)
	return c, nil
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Metrics returns a snapshot of the connection metrics.
func (c *Client) Metrics() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// On registers an event handler and returns its id for removal.
func (c *Client) On(event string, h Handler) HandlerID {
	return c.events.on(event, h)
}

// Off removes a previously registered handler.
func (c *Client) Off(event string, id HandlerID) {
	c.events.off(event, id)
}

// Connect starts a connection cycle: discovery, transport dial,
// authentication. It is a no-op when a cycle is already in flight or the
// client is online. A manual Connect resets the reconnection attempt
// counter.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state.active() {
		c.mu.Unlock()
		return nil
	}
	c.manual = false
	c.attempts = 0
	c.stopReconnectTimerLocked()
	c.mu.Unlock()

	return c.connectCycle(ctx)
}

// Disconnect performs a manual close: all timers are halted before the
// transport is released, and no automatic reconnection follows.
func (c *Client) Disconnect(reason string) {
	c.mu.Lock()
	c.manual = true
	c.authenticated = false
	c.stopReconnectTimerLocked()
	transport := c.transport
	c.transport = nil
	c.mu.Unlock()

	// Timers first, socket last: nothing may fire against a torn-down
	// session.
	c.heartbeat.stop()
	c.queue.stop()
	c.ledger.stop()

	if transport != nil {
		transport.Close()
	}
	c.metrics.markOffline()
	c.setState(StateDisconnected)
	c.events.emit(EventDisconnected, reason)
	c.logger.Info("disconnected", "reason", reason)
}

// Send enqueues an application envelope for delivery. Missing metadata (id,
// timestamp, source) is populated here; priority decides the scheduling
// tier. Fails with ErrNotConnected when the client is offline, or ErrClosed
// after a manual Disconnect.
func (c *Client) Send(env *protocol.Envelope) error {
	c.mu.Lock()
	online, manual := c.state.online(), c.manual
	c.mu.Unlock()
	if !online {
		if manual {
			return ErrClosed
		}
		return ErrNotConnected
	}
	c.prepare(env)
	c.queue.enqueue(env)
	return nil
}

// Subscribe asks the server to stream the given entity types. Idempotent;
// the set is replayed automatically after every successful
// (re)authentication.
func (c *Client) Subscribe(entityTypes ...string) error {
	c.mu.Lock()
	added := false
	for _, et := range entityTypes {
		if _, ok := c.subscriptions[et]; !ok {
			c.subscriptions[et] = struct{}{}
			added = true
		}
	}
	online := c.state.online()
	c.mu.Unlock()

	if online && added {
		return c.sendSubscriptions()
	}
	return nil
}

// Candidates returns the ranked candidate list from the most recent
// discovery cycle, kept as a fallback reference after target selection.
func (c *Client) Candidates() []discovery.Candidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]discovery.Candidate, len(c.candidates))
	copy(out, c.candidates)
	return out
}

// Subscriptions returns the entity types the client is subscribed to.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subscriptions))
	for et := range c.subscriptions {
		out = append(out, et)
	}
	sort.Strings(out)
	return out
}

// connectCycle drives one pass of the state machine: Discovering →
// Connecting → Connected → (authentication). Failures land in Failed and
// schedule a retry.
func (c *Client) connectCycle(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "client.connect",
		trace.WithAttributes(
			attribute.String("station.id", c.cfg.StationID),
			attribute.Int("reconnect.attempt", c.reconnectAttempts()),
		))
	defer span.End()

	c.setState(StateDiscovering)
	candidates, err := c.cfg.Discoverer.Discover(ctx)
	if err != nil || len(candidates) == 0 {
		if err == nil {
			err = ErrNoCandidates
		}
		c.logger.Warn("discovery failed", "error", err)
		span.SetStatus(codes.Error, err.Error())
		c.failCycle(err)
		return err
	}

	c.setState(StateConnecting)
	var (
		transport Transport
		active    *discovery.Candidate
	)
	for i := range candidates {
		cand := candidates[i]
		span.AddEvent("dial", trace.WithAttributes(attribute.String("url", cand.URL)))
		t := c.cfg.NewTransport(c.cfg, (*transportHandler)(c))
		if dialErr := t.Open(ctx, cand.URL); dialErr != nil {
			c.logger.Debug("candidate unreachable", "url", cand.URL, "error", dialErr)
			err = dialErr
			continue
		}
		transport, active = t, &cand
		break
	}
	if transport == nil {
		if err == nil {
			err = ErrNoCandidates
		}
		span.SetStatus(codes.Error, err.Error())
		c.failCycle(err)
		return err
	}
	span.SetAttributes(attribute.String("server.url", active.URL))

	c.mu.Lock()
	c.transport = transport
	c.candidates = candidates
	c.attempts = 0
	c.mu.Unlock()

	c.queue.reset()
	c.ledger.reset()
	c.metrics.markOnline()
	c.setState(StateConnected)
	c.events.emit(EventConnected, active.URL)
	c.heartbeat.start()
	c.logger.Info("connected", "url", active.URL, "rtt", active.ResponseTime)

	c.authenticate(ctx)
	return nil
}

// authenticate sends the credential if one is available. A missing
// credential is a valid "not logged in yet" condition: the client stays
// Connected and, unless RequireAuth is set, proceeds on public topics.
func (c *Client) authenticate(ctx context.Context) {
	_, span := c.tracer.Start(ctx, "client.authenticate")
	defer span.End()

	token, ok := c.token()
	if !ok {
		span.AddEvent("no credential")
		if !c.cfg.RequireAuth {
			// Public-topic operation; replay subscriptions now since no
			// auth round trip will do it.
			c.sendSubscriptions()
		}
		return
	}

	payload, _ := json.Marshal(map[string]string{
		"token":     token,
		"clientId":  c.cfg.ClientID,
		"stationId": c.cfg.StationID,
	})
	env := &protocol.Envelope{
		Type:     protocol.TypeAuthenticate,
		Payload:  payload,
		Priority: 9,
	}
	c.prepare(env)
	c.queue.enqueue(env)
}

// retryAuthIfNeeded re-attempts authentication from the heartbeat tick when
// RequireAuth is set and a credential has appeared.
func (c *Client) retryAuthIfNeeded() {
	c.mu.Lock()
	needed := c.cfg.RequireAuth && !c.authenticated && c.state == StateConnected
	c.mu.Unlock()
	if !needed {
		return
	}
	if _, ok := c.token(); ok {
		c.authenticate(context.Background())
	}
}

func (c *Client) token() (string, bool) {
	if c.cfg.TokenSource == nil {
		return "", false
	}
	return c.cfg.TokenSource()
}

// sendSubscriptions replays the subscription set.
func (c *Client) sendSubscriptions() error {
	c.mu.Lock()
	entities := make([]string, 0, len(c.subscriptions))
	for et := range c.subscriptions {
		entities = append(entities, et)
	}
	c.mu.Unlock()
	if len(entities) == 0 {
		return nil
	}
	sort.Strings(entities)

	payload, err := json.Marshal(map[string]any{"entities": entities})
	if err != nil {
		return err
	}
	env := &protocol.Envelope{
		Type:     protocol.TypeSubscribe,
		Payload:  payload,
		Priority: 7,
	}
	c.prepare(env)
	c.queue.enqueue(env)
	return nil
}

// prepare populates the metadata the transmission invariant requires and
// clamps priority into range.
func (c *Client) prepare(env *protocol.Envelope) {
	if env.MessageID == "" {
		env.MessageID = c.ids.next()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now()
	}
	if env.Source == "" {
		env.Source = protocol.SourceClient
	}
	if env.Priority < protocol.MinPriority {
		env.Priority = protocol.MinPriority
	}
	if env.Priority > protocol.MaxPriority {
		env.Priority = protocol.MaxPriority
	}
}

// dispatchSend is the queue's send path: transmit, and on failure hand the
// envelope to the retry ledger.
func (c *Client) dispatchSend(env *protocol.Envelope) {
	if err := c.transmit(env); err != nil {
		c.logger.Debug("send failed, recording for retry",
			"type", env.Type, "id", env.MessageID, "error", err)
		c.ledger.record(env)
	}
}

// transmit writes one envelope to the wire. Envelopes failing the
// completeness invariant are rejected before transmission.
func (c *Client) transmit(env *protocol.Envelope) error {
	if !env.Complete() {
		return protocol.ErrIncompleteEnvelope
	}

	c.mu.Lock()
	transport := c.transport
	online := c.state.online()
	c.mu.Unlock()
	if transport == nil || !online {
		return ErrNotConnected
	}

	data, err := protocol.EncodeFrame(c.router.Outbound(env.Type), env)
	if err != nil {
		return err
	}
	if err := transport.Send(data); err != nil {
		return err
	}
	c.metrics.recordSent()
	c.cache.add(env)
	return nil
}

// onRetriesExhausted surfaces a message dropped from the retry ledger.
func (c *Client) onRetriesExhausted(env *protocol.Envelope, attempts int, err error) {
	c.logger.Warn("message dropped after retries",
		"type", env.Type, "id", env.MessageID, "attempts", attempts, "error", err)
	c.events.emit(EventSendError, SendFailure{
		MessageID: env.MessageID,
		Type:      env.Type,
		Attempts:  attempts,
		Err:       err,
	})
}

// emitQualityChange fires connection_quality_changed on tier transitions.
func (c *Client) emitQualityChange(old, now Quality) {
	if old == now {
		return
	}
	c.logger.Info("connection quality changed", "old", old.String(), "new", now.String())
	c.events.emit(EventQualityChanged, now.String())
}

// setState moves the authoritative state and emits state_changed.
func (c *Client) setState(next ConnectionState) {
	c.mu.Lock()
	if c.state == next {
		c.mu.Unlock()
		return
	}
	old := c.state
	c.state = next
	if next != StateAuthenticated && next != StateConnected {
		c.authenticated = false
	}
	c.mu.Unlock()

	c.logger.Debug("state changed", "old", old.String(), "new", next.String())
	c.events.emit(EventStateChanged, StateChange{Old: old, New: next})
}

// failCycle lands the state machine in Failed and schedules a retry if the
// attempt budget allows.
func (c *Client) failCycle(err error) {
	c.logger.Warn("connection cycle failed", "error", err)
	c.metrics.markOffline()
	c.setState(StateFailed)
	c.scheduleReconnect()
}

// scheduleReconnect arms the backoff timer for the next cycle. Past the
// attempt cap the client stays in Failed until a manual Connect.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.manual {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.mu.Unlock()
		c.logger.Warn("reconnection attempts exhausted",
			"attempts", c.cfg.MaxReconnectAttempts)
		return
	}
	attempt := c.attempts
	c.attempts++
	delay := reconnectDelay(attempt, c.cfg.ReconnectBaseDelay, c.cfg.ReconnectMaxDelay)
	c.metrics.recordReconnectAttempt()
	c.stopReconnectTimerLocked()
	c.reconnectTimer = time.AfterFunc(delay, c.reconnectNow)
	c.mu.Unlock()

	c.setState(StateReconnecting)
	c.logger.Info("reconnect scheduled", "attempt", attempt+1, "delay", delay)
}

// reconnectNow runs when the backoff timer fires.
func (c *Client) reconnectNow() {
	c.mu.Lock()
	manual := c.manual
	c.mu.Unlock()
	if manual {
		return
	}
	c.connectCycle(context.Background())
}

// reconnectAttempts returns the current attempt counter.
func (c *Client) reconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// stopReconnectTimerLocked cancels a pending reconnect. Callers hold c.mu.
func (c *Client) stopReconnectTimerLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// transportHandler adapts *Client to the TransportHandler interface without
// exporting the methods on Client itself.
type transportHandler Client

// HandleMessage decodes one inbound frame and re-emits it as typed events.
// A decode failure drops the single message and keeps the connection open.
func (h *transportHandler) HandleMessage(data []byte) {
	c := (*Client)(h)

	topic, env, err := protocol.DecodeFrame(data)
	if err != nil {
		c.logger.Warn("dropping malformed message", "error", err)
		return
	}
	c.metrics.recordReceived()

	// De-duplication hint: at-least-once delivery may repeat ids.
	if env.MessageID != "" {
		if c.cache.seen(env.MessageID) {
			c.logger.Debug("duplicate message ignored", "id", env.MessageID)
			return
		}
		c.cache.add(env)
	}

	switch env.Type {
	case protocol.TypeHeartbeatResponse:
		c.heartbeat.handleResponse(env)

	case protocol.TypeAuthResult:
		c.handleAuthResult(env)

	default:
		names := c.router.Inbound(topic)
		if len(names) == 0 {
			names = []string{env.Type}
		}
		for _, name := range names {
			c.events.emit(name, env.Payload)
		}
	}
}

// HandleClosed reacts to channel teardown. A nil error is the manual close
// path, already handled by Disconnect. Anything else routes through the
// reconnection scheduler.
func (h *transportHandler) HandleClosed(err error) {
	c := (*Client)(h)
	if err == nil {
		return
	}

	c.mu.Lock()
	if c.manual || c.transport == nil {
		c.mu.Unlock()
		return
	}
	c.transport = nil
	c.mu.Unlock()

	c.logger.Warn("connection lost", "error", err)
	// Heartbeats stop; the queue and ledger keep running so in-flight
	// messages fall into the retry ledger and survive the reconnect.
	c.heartbeat.stop()
	c.metrics.markOffline()
	c.events.emit(EventDisconnected, err.Error())
	c.scheduleReconnect()
}

// handleAuthResult finishes the authentication exchange.
func (c *Client) handleAuthResult(env *protocol.Envelope) {
	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(env.Payload, &result); err != nil {
		c.logger.Warn("malformed auth result", "error", err)
		return
	}

	if result.OK {
		c.mu.Lock()
		c.authenticated = true
		c.mu.Unlock()
		c.setState(StateAuthenticated)
		c.events.emit(EventAuthenticated, env.Payload)
		c.logger.Info("authenticated")
		c.sendSubscriptions()
		return
	}

	// Credential rejected: unlike a missing credential this is an error,
	// and a retryable failure of the cycle.
	c.logger.Error("authentication rejected", "error", result.Error)
	c.events.emit(EventAuthError, result.Error)

	c.mu.Lock()
	transport := c.transport
	c.transport = nil
	c.mu.Unlock()

	c.heartbeat.stop()
	c.queue.stop()
	c.ledger.stop()
	if transport != nil {
		transport.Close()
	}
	c.failCycle(ErrAuthRejected)
}
