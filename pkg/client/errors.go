package client

import (
	"errors"
	"fmt"
)

// Sentinel errors for common client error conditions.
var (
	// ErrNotConnected is returned when a send is attempted outside the
	// Connected/Authenticated states.
	ErrNotConnected = errors.New("client: not connected")

	// ErrClosed is returned when an operation is attempted on a client that
	// was manually disconnected.
	ErrClosed = errors.New("client: closed")

	// ErrRetriesExhausted is reported through the send_error event when a
	// failed message exceeds its retry budget.
	ErrRetriesExhausted = errors.New("client: send retries exhausted")

	// ErrNoCandidates is recorded when discovery produced nothing and the
	// fallback target was unreachable too.
	ErrNoCandidates = errors.New("client: no reachable server candidate")

	// ErrAuthRejected is recorded when the server refused a presented
	// credential. Distinct from having no credential at all, which is not
	// an error.
	ErrAuthRejected = errors.New("client: credential rejected")
)

// TransportError wraps a low-level channel failure with the operation that
// surfaced it.
type TransportError struct {
	Op  string // "dial", "send", "read"
	Err error
}

// Error returns the error message with operation context.
func (e *TransportError) Error() string {
	return fmt.Sprintf("client: transport %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error { return e.Err }
