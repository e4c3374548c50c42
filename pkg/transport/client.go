package transport

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rcedaq/daqlink-go/pkg/log"
)

// Port scan and timing defaults.
const (
	DefaultBasePort     = 8090
	DefaultPortAttempts = 10
	DefaultDialTimeout  = 100 * time.Millisecond
	DefaultReadSlice    = 100 * time.Millisecond
	DefaultStallTimeout = 5 * time.Second
)

// QuietByte asks the device to stop sending periodic polls to this
// connection; replies to its own requests are still sent.
const QuietByte byte = '\a'

// DialConfig configures a port-scanning dial.
type DialConfig struct {
	Host string

	// BasePort is the first port tried (default: 8090).
	BasePort int

	// PortAttempts is the number of consecutive ports tried (default: 10).
	PortAttempts int

	// DialTimeout bounds each attempt (default: 100ms).
	DialTimeout time.Duration

	// ReadSlice bounds a single socket read while holding the
	// connection lock (default: 100ms).
	ReadSlice time.Duration

	// MaxFrameSize bounds buffered bytes without a delimiter.
	MaxFrameSize int

	// Logger for protocol logging (optional).
	Logger log.Logger
}

func (c *DialConfig) applyDefaults() {
	if c.BasePort == 0 {
		c.BasePort = DefaultBasePort
	}
	if c.PortAttempts <= 0 {
		c.PortAttempts = DefaultPortAttempts
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadSlice <= 0 {
		c.ReadSlice = DefaultReadSlice
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
}

// Dial tries ports BasePort..BasePort+PortAttempts-1 in order and returns
// the first connection that succeeds. When every port fails the result is
// a *ConnectError wrapping the last attempt's error.
func Dial(ctx context.Context, cfg DialConfig) (*ClientConn, error) {
	cfg.applyDefaults()

	last := cfg.BasePort + cfg.PortAttempts - 1
	var lastErr error
	for port := cfg.BasePort; port <= last; port++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dialer := &net.Dialer{Timeout: cfg.DialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(port)))
		if err != nil {
			lastErr = err
			continue
		}
		return newClientConn(conn, port, cfg), nil
	}
	return nil, &ConnectError{Host: cfg.Host, FirstPort: cfg.BasePort, LastPort: last, Err: lastErr}
}

// ClientConn is a client connection to a device control server.
type ClientConn struct {
	// mu is held for every read slice and every write.
	mu       sync.Mutex
	conn     net.Conn
	splitter *Splitter
	chunk    []byte
	port     int

	readSlice time.Duration
	logger    log.Logger
	connID    string

	closeCh   chan struct{}
	closeOnce sync.Once
}

func newClientConn(conn net.Conn, port int, cfg DialConfig) *ClientConn {
	c := &ClientConn{
		conn:      conn,
		splitter:  NewSplitter(),
		chunk:     make([]byte, ReadChunkSize),
		port:      port,
		readSlice: cfg.ReadSlice,
		logger:    cfg.Logger,
		connID:    uuid.New().String(),
		closeCh:   make(chan struct{}),
	}
	c.splitter.SetMaxSize(cfg.MaxFrameSize)
	if c.logger != nil {
		c.logger.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: c.connID,
			Layer:        log.LayerTransport,
			Category:     log.CategoryState,
			RemoteAddr:   conn.RemoteAddr().String(),
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityConnection,
				NewState: "CONNECTED",
			},
		})
	}
	return c
}

// Port returns the port the scan connected to.
func (c *ClientConn) Port() int { return c.port }

// ConnID returns the connection's unique identifier.
func (c *ClientConn) ConnID() string { return c.connID }

// LocalAddr returns the local network address.
func (c *ClientConn) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// RemoteAddr returns the remote network address.
func (c *ClientConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Send writes one complete message as produced by the encoders in
// package wire.
func (c *ClientConn) Send(msg []byte) error {
	if err := ValidateMessage(msg); err != nil {
		return err
	}
	if err := c.write(msg); err != nil {
		return err
	}
	if c.logger != nil {
		c.logger.Log(frameEvent(c.connID, msg, log.DirectionOut))
	}
	return nil
}

// SetQuiet asks the device to only send replies to this connection's own
// requests. Devices have no way to leave quiet mode short of reconnecting.
func (c *ClientConn) SetQuiet() error {
	if err := c.write([]byte{QuietByte}); err != nil {
		return err
	}
	if c.logger != nil {
		c.logger.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: c.connID,
			Direction:    log.DirectionOut,
			Layer:        log.LayerTransport,
			Category:     log.CategoryControl,
		})
	}
	return nil
}

func (c *ClientConn) write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}
	_, err := c.conn.Write(p)
	return err
}

// ReadFrame returns the next frame payload. It reads in slices of the
// configured read slice, releasing the connection lock between slices,
// and fails with *FrameError when no complete frame arrived within stall.
// Peer close and socket errors are returned as is.
func (c *ClientConn) ReadFrame(stall time.Duration) ([]byte, error) {
	if stall <= 0 {
		stall = DefaultStallTimeout
	}
	deadline := time.Now().Add(stall)
	for {
		frame, err := c.readOnce()
		if err != nil {
			return nil, err
		}
		if frame != nil {
			if c.logger != nil {
				c.logger.Log(frameEvent(c.connID, frame, log.DirectionIn))
			}
			return frame, nil
		}
		if !time.Now().Before(deadline) {
			c.mu.Lock()
			buffered := c.splitter.Buffered()
			c.mu.Unlock()
			return nil, &FrameError{Stall: stall, Buffered: buffered, Err: ErrStalled}
		}
	}
}

// readOnce performs at most one bounded read under the lock and returns
// a frame if one is complete.
func (c *ClientConn) readOnce() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closeCh:
		return nil, ErrConnectionClosed
	default:
	}

	if frame, ok := c.splitter.Next(); ok {
		return frame, nil
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(c.readSlice))
	n, err := c.conn.Read(c.chunk)
	if n > 0 {
		if _, werr := c.splitter.Write(c.chunk[:n]); werr != nil {
			return nil, &FrameError{Buffered: n, Err: werr}
		}
	}
	if frame, ok := c.splitter.Next(); ok {
		return frame, nil
	}
	if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
		return nil, err
	}
	return nil, nil
}

// Buffered returns the number of received bytes not yet forming a frame.
func (c *ClientConn) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.splitter.Buffered()
}

// Close closes the connection. It is safe to call more than once.
func (c *ClientConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
		if c.logger != nil {
			c.logger.Log(log.Event{
				Timestamp:    time.Now(),
				ConnectionID: c.connID,
				Layer:        log.LayerTransport,
				Category:     log.CategoryState,
				StateChange: &log.StateChangeEvent{
					Entity:   log.StateEntityConnection,
					OldState: "CONNECTED",
					NewState: "DISCONNECTED",
				},
			})
		}
	})
	return err
}
