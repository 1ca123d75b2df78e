package client

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// Event names emitted to the application. Entity streams additionally emit
// "<entity>_update" for every subscribed entity type.
const (
	EventConnected      = "connected"
	EventDisconnected   = "disconnected"
	EventAuthenticated  = "authenticated"
	EventAuthError      = "auth_error"
	EventStateChanged   = "state_changed"
	EventQualityChanged = "connection_quality_changed"
	EventSendError      = "send_error"
)

// Handler receives the payload of an emitted event.
type Handler func(data any)

// HandlerID identifies a registered handler for removal.
type HandlerID uint64

// StateChange is the payload of state_changed events.
type StateChange struct {
	Old ConnectionState
	New ConnectionState
}

// SendFailure is the payload of send_error events.
type SendFailure struct {
	MessageID string
	Type      string
	Attempts  int
	Err       error
}

// dispatcher is the typed pub/sub surface exposed to the application. A
// handler panic is recovered and logged; remaining handlers still run.
type dispatcher struct {
	mu       sync.RWMutex
	nextID   HandlerID
	handlers map[string]map[HandlerID]Handler
	logger   *slog.Logger
}

func newDispatcher(logger *slog.Logger) *dispatcher {
	return &dispatcher{
		handlers: make(map[string]map[HandlerID]Handler),
		logger:   logger,
	}
}

// on registers a handler and returns its id.
func (d *dispatcher) on(event string, h Handler) HandlerID {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	set, ok := d.handlers[event]
	if !ok {
		set = make(map[HandlerID]Handler)
		d.handlers[event] = set
	}
	set[id] = h
	return id
}

// off removes a handler. Unknown ids are ignored.
func (d *dispatcher) off(event string, id HandlerID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if set, ok := d.handlers[event]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(d.handlers, event)
		}
	}
}

// emit invokes every handler registered for the event.
func (d *dispatcher) emit(event string, data any) {
	d.mu.RLock()
	set := d.handlers[event]
	snapshot := make([]Handler, 0, len(set))
	for _, h := range set {
		snapshot = append(snapshot, h)
	}
	d.mu.RUnlock()

	for _, h := range snapshot {
		d.safeInvoke(event, h, data)
	}
}

func (d *dispatcher) safeInvoke(event string, h Handler, data any) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panic",
				"event", event,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	h(data)
}
