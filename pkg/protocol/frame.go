package protocol

import (
	"encoding/json"
	"fmt"
)

// Frame is the outermost wire unit: an envelope addressed to a topic within
// the station namespace.
type Frame struct {
	Topic    string    `json:"topic"`
	Envelope *Envelope `json:"envelope"`
}

// EncodeFrame serializes an envelope addressed to a topic.
func EncodeFrame(topic string, env *Envelope) ([]byte, error) {
	data, err := json.Marshal(Frame{Topic: topic, Envelope: env})
	if err != nil {
		return nil, fmt.Errorf("protocol: encode frame %q: %w", env.Type, err)
	}
	return data, nil
}

// DecodeFrame parses a wire frame. Malformed input, a missing envelope, or
// an envelope without a type tag all yield a *DecodeError.
func DecodeFrame(data []byte) (string, *Envelope, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return "", nil, &DecodeError{Err: err}
	}
	if f.Envelope == nil {
		return "", nil, &DecodeError{Err: fmt.Errorf("missing envelope")}
	}
	if f.Envelope.Type == "" {
		return "", nil, &DecodeError{Err: fmt.Errorf("missing type tag")}
	}
	return f.Topic, f.Envelope, nil
}
