package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rcedaq/daqlink-go/pkg/log"
	"github.com/rcedaq/daqlink-go/pkg/wire"
)

// DefaultMaxClients is the default number of simultaneous clients.
const DefaultMaxClients = 8

// escapeByte is accepted as an alternative QuietByte.
const escapeByte byte = 27

// ServerConfig configures a device control server.
type ServerConfig struct {
	// Address to listen on. When empty the server binds the first free
	// port from BasePort on Host.
	Address string

	Host         string
	BasePort     int
	PortAttempts int

	// MaxClients limits simultaneous connections (default: 8). Further
	// connections are accepted and closed immediately.
	MaxClients int

	MaxFrameSize int

	// Logger for protocol logging (optional).
	Logger log.Logger

	// Snapshot returns the message sent to every new connection,
	// typically the full structure, config and status (optional).
	Snapshot func() []byte

	OnConnect    func(conn *ServerConn)
	OnDisconnect func(conn *ServerConn)

	// OnMessage is called for every complete frame, without delimiter.
	OnMessage func(conn *ServerConn, payload []byte)

	OnError func(conn *ServerConn, err error)
}

// Server accepts client connections for a device.
type Server struct {
	config   ServerConfig
	listener net.Listener
	port     int

	conns   map[*ServerConn]struct{}
	connsMu sync.RWMutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a new server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.MaxClients < 0 {
		return nil, fmt.Errorf("invalid MaxClients %d", config.MaxClients)
	}
	if config.MaxClients == 0 {
		config.MaxClients = DefaultMaxClients
	}
	if config.BasePort == 0 {
		config.BasePort = DefaultBasePort
	}
	if config.PortAttempts <= 0 {
		config.PortAttempts = DefaultPortAttempts
	}
	if config.MaxFrameSize <= 0 {
		config.MaxFrameSize = DefaultMaxFrameSize
	}
	return &Server{
		config: config,
		conns:  make(map[*ServerConn]struct{}),
	}, nil
}

// ListenFirstFree binds the first free TCP port in base..base+attempts-1.
func ListenFirstFree(host string, base, attempts int) (net.Listener, int, error) {
	var lastErr error
	for port := base; port < base+attempts; port++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return l, port, nil
		}
		lastErr = err
	}
	return nil, 0, fmt.Errorf("%w in %d-%d: %v", ErrNoFreePort, base, base+attempts-1, lastErr)
}

// Start starts listening and accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return ErrServerRunning
	}

	var err error
	if s.config.Address != "" {
		s.listener, err = net.Listen("tcp", s.config.Address)
		if err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
		s.port = s.listener.Addr().(*net.TCPAddr).Port
	} else {
		s.listener, s.port, err = ListenFirstFree(s.config.Host, s.config.BasePort, s.config.PortAttempts)
		if err != nil {
			return err
		}
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop stops the server and closes all connections.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	s.cancel()
	s.listener.Close()

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	return nil
}

// Addr returns the listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// Port returns the bound port.
func (s *Server) Port() int { return s.port }

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// Broadcast sends msg to every connection that is not quiet or that sent
// a frame since the previous broadcast. It returns the number of
// connections written to.
func (s *Server) Broadcast(msg []byte) int {
	if err := ValidateMessage(msg); err != nil {
		return 0
	}
	s.connsMu.RLock()
	targets := make([]*ServerConn, 0, len(s.conns))
	for c := range s.conns {
		pending := c.pending.Swap(false)
		if !c.quiet.Load() || pending {
			targets = append(targets, c)
		}
	}
	s.connsMu.RUnlock()

	sent := 0
	for _, c := range targets {
		if err := c.Send(msg); err != nil {
			s.reportError(c, err)
			continue
		}
		sent++
	}
	return sent
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() {
				s.reportError(nil, fmt.Errorf("accept error: %w", err))
			}
			continue
		}

		if s.ConnectionCount() >= s.config.MaxClients {
			conn.Close()
			s.reportError(nil, fmt.Errorf("rejected %s: %d clients connected", conn.RemoteAddr(), s.config.MaxClients))
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	connID := uuid.New().String()
	writer := NewFrameWriter(conn)
	if s.config.Logger != nil {
		writer.SetLogger(s.config.Logger, connID)
	}
	sconn := &ServerConn{
		conn:    conn,
		writer:  writer,
		server:  s,
		connID:  connID,
		closeCh: make(chan struct{}),
	}

	s.logState(sconn, "", "CONNECTED")

	s.connsMu.Lock()
	s.conns[sconn] = struct{}{}
	s.connsMu.Unlock()

	if s.config.Snapshot != nil {
		if msg := s.config.Snapshot(); len(msg) > 0 {
			if err := sconn.Send(msg); err != nil {
				s.reportError(sconn, fmt.Errorf("snapshot: %w", err))
			}
		}
	}
	if s.config.OnConnect != nil {
		s.config.OnConnect(sconn)
	}

	sconn.readLoop()

	s.connsMu.Lock()
	delete(s.conns, sconn)
	s.connsMu.Unlock()
	sconn.Close()

	s.logState(sconn, "CONNECTED", "DISCONNECTED")
	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(sconn)
	}
}

func (s *Server) reportError(conn *ServerConn, err error) {
	if s.config.OnError != nil {
		s.config.OnError(conn, err)
	}
}

func (s *Server) logState(c *ServerConn, from, to string) {
	if s.config.Logger == nil {
		return
	}
	s.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		LocalRole:    log.RoleDevice,
		RemoteAddr:   c.conn.RemoteAddr().String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: from,
			NewState: to,
		},
	})
}

// ServerConn is one client connection on a Server.
type ServerConn struct {
	conn   net.Conn
	writer *FrameWriter
	server *Server
	connID string

	quiet   atomic.Bool
	pending atomic.Bool

	closeCh   chan struct{}
	closeOnce sync.Once
}

// RemoteAddr returns the client address.
func (c *ServerConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// ConnID returns the unique connection identifier.
func (c *ServerConn) ConnID() string { return c.connID }

// Quiet reports whether the client asked for quiet mode.
func (c *ServerConn) Quiet() bool { return c.quiet.Load() }

// Send writes one terminated message to the client.
func (c *ServerConn) Send(msg []byte) error {
	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}
	return c.writer.WriteMessage(msg)
}

// Close closes the connection.
func (c *ServerConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

// readLoop splits inbound bytes on the delimiter or EOT, handling quiet
// mode bytes anywhere in the stream.
func (c *ServerConn) readLoop() {
	splitter := NewSplitter(wire.Delimiter, EndOfTransmission)
	splitter.SetMaxSize(c.server.config.MaxFrameSize)
	chunk := make([]byte, ReadChunkSize)
	data := make([]byte, 0, ReadChunkSize)

	for {
		n, err := c.conn.Read(chunk)
		data = data[:0]
		for _, b := range chunk[:n] {
			if b == QuietByte || b == escapeByte {
				c.quiet.Store(true)
				continue
			}
			data = append(data, b)
		}
		if _, werr := splitter.Write(data); werr != nil {
			c.server.reportError(c, &FrameError{Err: werr})
			return
		}
		for {
			frame, ok := splitter.Next()
			if !ok {
				break
			}
			c.pending.Store(true)
			if c.server.config.Logger != nil {
				c.server.config.Logger.Log(frameEvent(c.connID, frame, log.DirectionIn))
			}
			if c.server.config.OnMessage != nil {
				c.server.config.OnMessage(c, frame)
			}
		}

		if err != nil {
			select {
			case <-c.closeCh:
			default:
				if c.server.running.Load() && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
					c.server.reportError(c, err)
				}
			}
			return
		}
	}
}
