package protocol

import (
	"encoding/json"
	"errors"
	"time"
)

// Source identifies where an envelope originated.
type Source string

const (
	SourceClient    Source = "client"
	SourceServer    Source = "server"
	SourceLocalNode Source = "local_node"
)

// Well-known envelope types. Application entity streams use the
// "<entity>_update" convention; anything not listed here routes to the
// generic command topic.
const (
	TypeAuthenticate      = "authenticate"
	TypeAuthResult        = "auth_result"
	TypeHeartbeat         = "heartbeat"
	TypeHeartbeatResponse = "heartbeat_response"
	TypeSubscribe         = "subscribe"
	TypeQueueUpdate       = "queue_update"
	TypeBookingUpdate     = "booking_update"
	TypeFinanceUpdate     = "finance_update"
	TypePassUpdate        = "pass_update"
)

// Priority bounds and tier thresholds.
const (
	MinPriority = 0
	MaxPriority = 10

	// UrgentPriority and above bypass the dispatch queue entirely.
	UrgentPriority = 8

	// NormalPriority up to (but excluding) UrgentPriority is buffered and
	// drained in priority order. Below NormalPriority is the delayed tier.
	NormalPriority = 5
)

// Tier classifies an envelope's scheduling behavior in the dispatch queue.
type Tier uint8

const (
	TierImmediate Tier = iota // sent directly, skipping the queue
	TierBuffered              // sorted buffer, drained one at a time
	TierDelayed               // re-submitted after a short fixed delay
)

// String returns the string representation of the tier.
func (t Tier) String() string {
	switch t {
	case TierImmediate:
		return "Immediate"
	case TierBuffered:
		return "Buffered"
	case TierDelayed:
		return "Delayed"
	default:
		return "Unknown"
	}
}

// TierFor returns the scheduling tier for a priority value.
func TierFor(priority int) Tier {
	switch {
	case priority >= UrgentPriority:
		return TierImmediate
	case priority >= NormalPriority:
		return TierBuffered
	default:
		return TierDelayed
	}
}

// ErrIncompleteEnvelope is returned when an envelope reaches the transmission
// boundary without the fields the wire contract requires.
var ErrIncompleteEnvelope = errors.New("protocol: envelope missing id, timestamp, priority, or source")

// Envelope is the unit of exchange over the sync channel.
type Envelope struct {
	// Type is the semantic tag ("authenticate", "heartbeat", "queue_update").
	Type string `json:"type"`

	// Payload is opaque structured data, shape defined per Type.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Timestamp is the creation time, assigned by the sender if absent.
	Timestamp time.Time `json:"timestamp"`

	// Priority is 0-10; >=8 urgent, 5-7 normal, <5 low.
	Priority int `json:"priority"`

	// MessageID is unique per client session, assigned on send if absent.
	MessageID string `json:"messageId,omitempty"`

	// RetryCount is the number of resend attempts so far. Mutated only by
	// the reliability layer.
	RetryCount int `json:"retryCount,omitempty"`

	// Source is who produced the envelope.
	Source Source `json:"source"`

	// Target optionally unicasts to a specific client id.
	Target string `json:"target,omitempty"`

	// Broadcast optionally requests fan-out to all clients.
	Broadcast bool `json:"broadcast,omitempty"`
}

// Complete reports whether the envelope satisfies the transmission
// invariant: id, timestamp, priority, and source all populated.
func (e *Envelope) Complete() bool {
	return e.MessageID != "" &&
		!e.Timestamp.IsZero() &&
		e.Priority >= MinPriority && e.Priority <= MaxPriority &&
		e.Source != ""
}

// Clone returns a shallow copy. Payload bytes are shared; callers must not
// mutate them.
func (e *Envelope) Clone() *Envelope {
	clone := *e
	return &clone
}
