package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// recordingHandler captures transport callbacks.
type recordingHandler struct {
	mu       sync.Mutex
	messages [][]byte
	closed   []error
	closedCh chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{closedCh: make(chan error, 1)}
}

func (r *recordingHandler) HandleMessage(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, data)
}

func (r *recordingHandler) HandleClosed(err error) {
	r.mu.Lock()
	r.closed = append(r.closed, err)
	r.mu.Unlock()
	select {
	case r.closedCh <- err:
	default:
	}
}

func (r *recordingHandler) messageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// wsEchoServer upgrades connections, records the request path, echoes every
// inbound message, and can push.
type wsEchoServer struct {
	*httptest.Server

	mu    sync.Mutex
	path  string
	conns []*websocket.Conn
}

func newWSEchoServer(t *testing.T) *wsEchoServer {
	t.Helper()
	s := &wsEchoServer{}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.path = r.URL.Path
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.WriteMessage(mt, msg)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsEchoServer) requestPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

func (s *wsEchoServer) dropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
}

func transportConfig() *Config {
	cfg := DefaultConfig()
	cfg.StationID = "S1"
	cfg.DialTimeout = 2 * time.Second
	cfg.WriteTimeout = 2 * time.Second
	cfg.ReadTimeout = 5 * time.Second
	return cfg
}

func TestWSTransport_OpenSendReceive(t *testing.T) {
	server := newWSEchoServer(t)
	handler := newRecordingHandler()
	transport := newWSTransport(transportConfig(), handler)

	if err := transport.Open(context.Background(), server.URL); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer transport.Close()

	if got := server.requestPath(); got != "/ws/station/S1" {
		t.Errorf("dial path = %q, want /ws/station/S1", got)
	}

	if err := transport.Send([]byte(`{"topic":"t","envelope":{"type":"x"}}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitFor(t, "echo", func() bool { return handler.messageCount() == 1 })
}

func TestWSTransport_OpenRefused(t *testing.T) {
	handler := newRecordingHandler()
	transport := newWSTransport(transportConfig(), handler)

	// A server that is immediately closed leaves a refused port behind.
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	err := transport.Open(context.Background(), url)
	if err == nil {
		t.Fatal("Open against a dead server succeeded")
	}
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "dial" {
		t.Errorf("error = %v, want *TransportError{Op: dial}", err)
	}
}

func TestWSTransport_SendBeforeOpen(t *testing.T) {
	transport := newWSTransport(transportConfig(), newRecordingHandler())
	if err := transport.Send([]byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send before Open = %v, want ErrNotConnected", err)
	}
}

func TestWSTransport_ServerCloseSurfacesError(t *testing.T) {
	server := newWSEchoServer(t)
	handler := newRecordingHandler()
	transport := newWSTransport(transportConfig(), handler)

	if err := transport.Open(context.Background(), server.URL); err != nil {
		t.Fatalf("Open: %v", err)
	}
	server.dropConnections()

	select {
	case err := <-handler.closedCh:
		if err == nil {
			t.Error("server-side close reported as manual")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("close never surfaced")
	}
}

func TestWSTransport_ManualCloseIsClean(t *testing.T) {
	server := newWSEchoServer(t)
	handler := newRecordingHandler()
	transport := newWSTransport(transportConfig(), handler)

	if err := transport.Open(context.Background(), server.URL); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := transport.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-handler.closedCh:
		if err != nil {
			t.Errorf("manual close surfaced error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("close never surfaced")
	}

	if err := transport.Send([]byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send after Close = %v, want ErrNotConnected", err)
	}
}
