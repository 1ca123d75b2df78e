package protocol

import "fmt"

// Channel names within a station's topic namespace.
const (
	ChannelAuth      = "auth"
	ChannelHeartbeat = "heartbeat"
	ChannelCommands  = "commands"
	ChannelQueues    = "queues"
	ChannelBookings  = "bookings"
	ChannelFinance   = "finance"
	ChannelPasses    = "passes"
)

// outboundChannels maps envelope types to their destination channel. Types
// not listed route to the generic command channel. Adding a message type is
// a table entry here, never new dispatch logic.
var outboundChannels = map[string]string{
	TypeAuthenticate:      ChannelAuth,
	TypeHeartbeat:         ChannelHeartbeat,
	TypeHeartbeatResponse: ChannelHeartbeat,
	TypeSubscribe:         ChannelCommands,
	TypeQueueUpdate:       ChannelQueues,
	TypeBookingUpdate:     ChannelBookings,
	TypeFinanceUpdate:     ChannelFinance,
	TypePassUpdate:        ChannelPasses,
}

// inboundEvents maps a channel to the event names re-emitted to the
// application for messages arriving on it.
var inboundEvents = map[string][]string{
	ChannelAuth:      {"authenticated", "auth_error"},
	ChannelHeartbeat: {TypeHeartbeatResponse},
	ChannelQueues:    {TypeQueueUpdate},
	ChannelBookings:  {TypeBookingUpdate},
	ChannelFinance:   {TypeFinanceUpdate},
	ChannelPasses:    {TypePassUpdate},
}

// Router maps envelope types to topic paths within a single station's
// namespace and inbound topics back to locally-meaningful event names.
type Router struct {
	stationID string
}

// NewRouter creates a router scoped to a station identifier.
func NewRouter(stationID string) *Router {
	return &Router{stationID: stationID}
}

// StationID returns the station identifier the router is scoped to.
func (r *Router) StationID() string { return r.stationID }

// Outbound returns the destination topic path for an envelope type.
func (r *Router) Outbound(envelopeType string) string {
	channel, ok := outboundChannels[envelopeType]
	if !ok {
		channel = ChannelCommands
	}
	return r.topic(channel)
}

// Inbound returns the event names to re-emit for messages arriving on a
// topic. Unknown topics yield nil; the client falls back to emitting the
// envelope's own type tag.
func (r *Router) Inbound(topic string) []string {
	channel := topic
	if prefix := r.topic(""); len(topic) > len(prefix) && topic[:len(prefix)] == prefix {
		channel = topic[len(prefix):]
	}
	events, ok := inboundEvents[channel]
	if !ok {
		return nil
	}
	out := make([]string, len(events))
	copy(out, events)
	return out
}

func (r *Router) topic(channel string) string {
	return fmt.Sprintf("/station/%s/%s", r.stationID, channel)
}
