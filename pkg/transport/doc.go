// Package transport provides the stream transport between clients and
// device control servers.
//
// The transport handles:
//   - Delimiter framing: every message is terminated by a single reserved
//     byte (form feed) and no length prefix is sent
//   - Port scanning: a device binds the first free port from a base port,
//     so clients try base..base+N-1 until one accepts
//   - Stall detection: a connection that delivers no complete frame within
//     the stall timeout is reported with *FrameError
//   - Quiet mode: a client may ask the device to only send it replies to
//     its own requests rather than every periodic poll
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│      Markup documents          │
//	├────────────────────────────────┤
//	│   Delimiter framing ('\f')     │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// Reads and writes on a ClientConn share one lock. Reads hold it only for
// a short read slice so a writer never waits longer than one slice.
package transport
