package protocol

import (
	"encoding/json"
	"fmt"
)

// DecodeError reports a malformed inbound message. It is non-fatal: callers
// log it, drop the single message, and keep the connection open.
type DecodeError struct {
	Err error
}

// Error returns the error message.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: decode: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error { return e.Err }

// Encode serializes an envelope to wire bytes.
func Encode(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %q: %w", env.Type, err)
	}
	return data, nil
}

// Decode parses wire bytes into an envelope. Malformed input yields a
// *DecodeError; an envelope without a type tag is malformed.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if env.Type == "" {
		return nil, &DecodeError{Err: fmt.Errorf("missing type tag")}
	}
	return &env, nil
}
