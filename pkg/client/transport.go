package client

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// TransportHandler receives inbound traffic and lifecycle signals from a
// Transport. The transport never retries on its own; all retry policy lives
// above it.
type TransportHandler interface {
	// HandleMessage delivers one raw inbound message.
	HandleMessage(data []byte)

	// HandleClosed reports that the channel is gone. err is nil after a
	// manual Close and non-nil for every other termination.
	HandleClosed(err error)
}

// Transport is the live channel abstraction: one physical connection,
// open/send/close, with low-level errors surfaced to the handler.
type Transport interface {
	// Open dials the address. It fails with *TransportError when the peer
	// is refused or unreachable.
	Open(ctx context.Context, rawURL string) error

	// Send writes one message. It fails with ErrNotConnected when the
	// channel is not open.
	Send(data []byte) error

	// Close tears the channel down. The handler sees HandleClosed(nil).
	Close() error
}

// wsPath is the channel endpoint on the station server.
const wsPath = "/ws/station/"

// wsTransport is the gorilla/websocket Transport.
type wsTransport struct {
	cfg     *Config
	handler TransportHandler

	mu     sync.Mutex // guards conn writes and swaps
	conn   *websocket.Conn
	closed atomic.Bool // manual close in progress
}

func newWSTransport(cfg *Config, h TransportHandler) Transport {
	return &wsTransport{cfg: cfg, handler: h}
}

// Open dials ws://host:port/ws/station/{id} and starts the read pump.
func (t *wsTransport) Open(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}
	scheme := "ws"
	if u.Scheme == "https" || u.Scheme == "wss" {
		scheme = "wss"
	}
	wsURL := scheme + "://" + u.Host + wsPath + t.cfg.StationID

	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.DialTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return &TransportError{Op: "dial", Err: err}
	}

	t.mu.Lock()
	t.conn = conn
	t.closed.Store(false)
	t.mu.Unlock()

	go t.readLoop(conn)
	return nil
}

// Send writes one message with the configured write deadline.
func (t *wsTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil || t.closed.Load() {
		return ErrNotConnected
	}
	t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

// Close performs a manual shutdown: best-effort close frame, then teardown.
func (t *wsTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	alreadyClosed := t.closed.Swap(true)
	t.mu.Unlock()

	if conn == nil || alreadyClosed {
		return nil
	}

	conn.SetWriteDeadline(time.Now().Add(time.Second))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"))
	return conn.Close()
}

// readLoop pumps inbound messages to the handler until the connection dies.
func (t *wsTransport) readLoop(conn *websocket.Conn) {
	for {
		conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			if t.closed.Load() {
				// Manual close; the error is the expected teardown noise.
				t.handler.HandleClosed(nil)
			} else {
				t.handler.HandleClosed(&TransportError{Op: "read", Err: err})
			}
			return
		}
		t.handler.HandleMessage(msg)
	}
}
