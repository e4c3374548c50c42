// Package connection provides the connection lifecycle used by the stream
// client.
//
// A Manager tracks the state of one logical connection to a device:
//
//	Disconnected -> Connecting -> Connected -> Stalled -> Disconnected
//
// Closed is terminal. Connect runs the supplied ConnectFunc (normally a port
// scan through transport.Dial). When it fails the caller waits WaitRetry and
// tries again; the worker keeps doing so for as long as it is enabled.
//
// # Backoff
//
// The default backoff is fixed: every retry waits RetryDelay (1 second).
// Exponential backoff with jitter is available through BackoffConfig:
//
//	actual_delay = base_delay + random(0, base_delay * jitter)
//
// A successful Connect resets the backoff.
package connection
