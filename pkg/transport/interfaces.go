package transport

import (
	"context"
	"net"
	"time"
)

// ClientConnection is the client side of a device connection.
// Implemented by ClientConn.
type ClientConnection interface {
	LocalAddr() net.Addr
	RemoteAddr() net.Addr

	// Send writes one terminated message.
	Send(msg []byte) error

	// ReadFrame returns the next frame or a *FrameError after stall.
	ReadFrame(stall time.Duration) ([]byte, error)

	// SetQuiet asks the device to suppress periodic polls.
	SetQuiet() error

	Close() error
}

// ServerConnection is one client of a device server.
// Implemented by ServerConn.
type ServerConnection interface {
	RemoteAddr() net.Addr
	Send(msg []byte) error
	Quiet() bool
	Close() error
}

// DeviceServer accepts client connections.
// Implemented by Server.
type DeviceServer interface {
	Start(ctx context.Context) error
	Stop() error
	Addr() net.Addr
	ConnectionCount() int
	Broadcast(msg []byte) int
}

// FrameReadWriter provides delimiter-framed I/O.
// Implemented by Framer.
type FrameReadWriter interface {
	ReadFrame() ([]byte, error)
	WriteFrame(payload []byte) error
}

var (
	_ ClientConnection = (*ClientConn)(nil)
	_ ServerConnection = (*ServerConn)(nil)
	_ DeviceServer     = (*Server)(nil)
	_ FrameReadWriter  = (*Framer)(nil)
)
