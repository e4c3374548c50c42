package transport

import (
	"errors"
	"fmt"
	"time"
)

// Transport errors.
var (
	ErrFrameTooLarge      = errors.New("frame too large")
	ErrMessageEmpty       = errors.New("message is empty")
	ErrDelimiterInPayload = errors.New("payload contains frame delimiter")
	ErrNotTerminated      = errors.New("message not terminated by delimiter")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrStalled            = errors.New("no complete frame within stall timeout")
	ErrNoFreePort         = errors.New("no free port")
	ErrServerRunning      = errors.New("server already running")
)

// FrameError reports that a connection stopped producing frames. The
// connection should be dropped and re-established.
type FrameError struct {
	// Stall is the timeout that expired, zero for oversize frames.
	Stall time.Duration

	// Buffered is the number of bytes received without a delimiter.
	Buffered int

	Err error
}

func (e *FrameError) Error() string {
	if e.Stall > 0 {
		return fmt.Sprintf("frame error: %v after %v (%d bytes buffered)", e.Err, e.Stall, e.Buffered)
	}
	return fmt.Sprintf("frame error: %v (%d bytes buffered)", e.Err, e.Buffered)
}

func (e *FrameError) Unwrap() error { return e.Err }

// ConnectError reports that every port in the scan range refused.
type ConnectError struct {
	Host      string
	FirstPort int
	LastPort  int

	// Err is the error from the last attempt.
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("cannot connect to %s ports %d-%d: %v", e.Host, e.FirstPort, e.LastPort, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }
