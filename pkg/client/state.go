package client

// ConnectionState is the single authoritative connection lifecycle value.
type ConnectionState int

const (
	// StateDisconnected is the initial state and the manual-close terminal.
	StateDisconnected ConnectionState = iota

	// StateDiscovering means a discovery cycle is resolving a target.
	StateDiscovering

	// StateConnecting means the transport dial is in flight.
	StateConnecting

	// StateConnected means the channel is open but not yet authenticated.
	StateConnected

	// StateAuthenticated means the server accepted our credential.
	StateAuthenticated

	// StateReconnecting means a non-manual close occurred and a backoff
	// timer is pending before the next discovery cycle.
	StateReconnecting

	// StateFailed means the last cycle failed; reached terminally only after
	// the reconnection attempt cap is exhausted.
	StateFailed
)

// String returns the string representation of the state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateDiscovering:
		return "discovering"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// active reports whether the state is one where Connect is a no-op rather
// than a fresh cycle.
func (s ConnectionState) active() bool {
	switch s {
	case StateDiscovering, StateConnecting, StateConnected, StateAuthenticated:
		return true
	default:
		return false
	}
}

// online reports whether application traffic may flow.
func (s ConnectionState) online() bool {
	return s == StateConnected || s == StateAuthenticated
}
