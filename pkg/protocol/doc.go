// Package protocol defines the wire protocol for the station sync channel.
//
// Every message exchanged with a station server is a JSON Envelope: a type
// tag, an opaque payload, delivery metadata (id, timestamp, priority) and
// routing hints. The package also owns the static routing tables that map
// envelope types to outbound topics and inbound topics to the event names
// re-emitted to the application.
//
// # Design Goals
//
//   - Self-describing: every envelope carries its semantic type tag
//   - At-least-once friendly: message ids support de-duplication downstream
//   - Table-driven routing: adding a message type is a table entry, not code
//   - Tolerant decoding: a malformed envelope is an error value, never a panic
package protocol
