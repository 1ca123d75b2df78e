// Package client implements the real-time synchronization client for a
// station server.
//
// A Client owns the full connection lifecycle: discovery of a reachable
// station server, a persistent WebSocket channel, authentication, prioritized
// outbound delivery, heartbeat-driven link quality accounting, and automatic
// reconnection with exponential backoff. The rest of the application only
// sees the typed event surface (On/Off) and the enqueue-side Send.
//
// The client is an explicitly constructed, explicitly owned object: pass it
// to consumers rather than reaching for process-global state. Tests inject a
// fake Transport and Discoverer through Config.
package client
