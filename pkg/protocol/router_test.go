package protocol

import "testing"

func TestRouter_Outbound(t *testing.T) {
	r := NewRouter("S1")

	cases := []struct {
		typ  string
		want string
	}{
		{TypeAuthenticate, "/station/S1/auth"},
		{TypeHeartbeat, "/station/S1/heartbeat"},
		{TypeQueueUpdate, "/station/S1/queues"},
		{TypeBookingUpdate, "/station/S1/bookings"},
		{"print_receipt", "/station/S1/commands"}, // unknown type -> command channel
	}
	for _, tc := range cases {
		if got := r.Outbound(tc.typ); got != tc.want {
			t.Errorf("Outbound(%q) = %q, want %q", tc.typ, got, tc.want)
		}
	}
}

func TestRouter_Inbound(t *testing.T) {
	r := NewRouter("S1")

	events := r.Inbound("/station/S1/queues")
	if len(events) != 1 || events[0] != TypeQueueUpdate {
		t.Errorf("Inbound(queues) = %v", events)
	}

	// Bare channel names resolve too.
	events = r.Inbound(ChannelAuth)
	if len(events) != 2 {
		t.Errorf("Inbound(auth) = %v", events)
	}

	if events := r.Inbound("/station/S1/unknown"); events != nil {
		t.Errorf("Inbound(unknown) = %v, want nil", events)
	}
}

func TestRouter_InboundReturnsCopy(t *testing.T) {
	r := NewRouter("S1")
	a := r.Inbound(ChannelQueues)
	a[0] = "mutated"
	b := r.Inbound(ChannelQueues)
	if b[0] != TypeQueueUpdate {
		t.Error("Inbound result aliases the routing table")
	}
}
