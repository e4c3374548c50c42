package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rcedaq/daqlink-go/pkg/connection"
	"github.com/rcedaq/daqlink-go/pkg/log"
	"github.com/rcedaq/daqlink-go/pkg/metrics"
	"github.com/rcedaq/daqlink-go/pkg/mirror"
	"github.com/rcedaq/daqlink-go/pkg/model"
	"github.com/rcedaq/daqlink-go/pkg/transport"
	"github.com/rcedaq/daqlink-go/pkg/wire"
)

// Client errors.
var (
	ErrNotConnected   = errors.New("not connected to device")
	ErrAlreadyEnabled = errors.New("client already enabled")
	ErrClosed         = errors.New("client closed")
)

// Stats reports the worker's progress.
type Stats struct {
	State       connection.State
	Port        int
	Processed   uint64
	ParseErrors uint64
	Connection  connection.Stats
}

// Client keeps a Mirror synchronized with one device.
type Client struct {
	config  Config
	logger  *slog.Logger
	plog    log.Logger
	mirror  *mirror.Mirror
	manager *connection.Manager

	// mu guards the lifecycle fields and the current connection.
	mu      sync.RWMutex
	conn    *transport.ClientConn
	enabled bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	processed   atomic.Uint64
	parseErrors atomic.Uint64
}

// New creates a disabled client.
func New(config Config) (*Client, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		config: config,
		logger: config.Logger,
		plog:   log.OrNoop(config.ProtocolLogger),
	}
	c.mirror = mirror.New(mirror.Config{
		PollInterval:   config.PollInterval,
		Logger:         config.Logger,
		ProtocolLogger: config.ProtocolLogger,
	})
	c.manager = connection.NewManager(c.connect, connection.NewFixedBackoff(config.RetryDelay))
	c.manager.SetLogger(config.Logger)
	c.manager.OnStateChange(c.stateChanged)
	c.manager.OnRetry(func(attempt int, delay time.Duration, err error) {
		c.debugLog("port scan failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	})
	return c, nil
}

// Mirror returns the local state.
func (c *Client) Mirror() *mirror.Mirror { return c.mirror }

// Config returns the effective configuration.
func (c *Client) Config() Config { return c.config }

// Enable starts the background worker. The worker runs until Disable is
// called or ctx is done.
func (c *Client) Enable(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.enabled {
		return ErrAlreadyEnabled
	}

	workerCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.enabled = true

	c.wg.Add(1)
	go c.run(workerCtx)
	return nil
}

// Disable stops the worker and waits for it to exit. The mirror keeps its
// values. Enable may be called again afterwards.
func (c *Client) Disable() {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return
	}
	c.enabled = false
	c.cancel()
	conn := c.conn
	c.mu.Unlock()

	// Unblocks a read in progress.
	if conn != nil {
		conn.Close()
	}
	c.wg.Wait()
}

// Close disables the client for good.
func (c *Client) Close() error {
	c.Disable()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.manager.Close()
	return nil
}

// Enabled reports whether the worker is running.
func (c *Client) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// State returns the connection state.
func (c *Client) State() connection.State {
	return c.manager.State()
}

// Stats returns worker counters.
func (c *Client) Stats() Stats {
	st := Stats{
		State:       c.manager.State(),
		Processed:   c.processed.Load(),
		ParseErrors: c.parseErrors.Load(),
		Connection:  c.manager.Stats(),
	}
	c.mu.RLock()
	if c.conn != nil {
		st.Port = c.conn.Port()
	}
	c.mu.RUnlock()
	return st
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()
	c.logWorker("STARTED")
	defer c.logWorker("STOPPED")

	for ctx.Err() == nil {
		if err := c.manager.ConnectLoop(ctx); err != nil {
			break
		}
		c.readLoop(ctx)
	}

	c.dropConn()
	c.manager.Disconnect()
}

// connect is the ConnectFunc of the connection manager.
func (c *Client) connect(ctx context.Context) error {
	conn, err := transport.Dial(ctx, transport.DialConfig{
		Host:         c.config.Host,
		BasePort:     c.config.BasePort,
		PortAttempts: c.config.PortAttempts,
		DialTimeout:  c.config.DialTimeout,
		ReadSlice:    c.config.ReadSlice,
		MaxFrameSize: c.config.MaxFrameSize,
		Logger:       c.config.ProtocolLogger,
	})
	if err != nil {
		metrics.ConnectFailed()
		return err
	}
	if c.config.DeviceQuiet {
		if err := conn.SetQuiet(); err != nil {
			conn.Close()
			return fmt.Errorf("set quiet mode: %w", err)
		}
	}

	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Info("connected to device", "host", c.config.Host, "port", conn.Port())
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return
	}

	if c.config.DeviceQuiet {
		done := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.keepalive(ctx, conn, done)
		}()
		defer wg.Wait()
		defer close(done)
	}

	for ctx.Err() == nil {
		frame, err := conn.ReadFrame(c.config.StallTimeout)
		if err != nil {
			c.dropConn()
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, transport.ErrStalled) {
				metrics.Stalled()
				c.warnLog("connection stalled", "port", conn.Port(), "error", err)
				c.manager.NotifyStalled(err.Error())
			} else {
				c.warnLog("connection lost", "port", conn.Port(), "error", err)
				c.manager.NotifyConnectionLost(err.Error())
			}
			return
		}
		c.handleFrame(conn.ConnID(), frame)
	}
}

// keepalive requests the status of a device-quiet connection until done,
// so a healthy but silent device never trips the stall timer.
func (c *Client) keepalive(ctx context.Context, conn *transport.ClientConn, done <-chan struct{}) {
	ticker := time.NewTicker(c.config.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := conn.Send(wire.EncodeReadStatus()); err != nil {
				c.debugLog("keepalive failed", "port", conn.Port(), "error", err)
				return
			}
			metrics.FrameSent()
		}
	}
}

func (c *Client) handleFrame(connID string, frame []byte) {
	metrics.FrameReceived()

	msg, err := wire.Decode(frame)
	if err != nil {
		c.parseErrors.Add(1)
		metrics.ParseError()
		c.warnLog("dropping malformed message", "size", len(frame), "error", err)
		c.plog.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: connID,
			Direction:    log.DirectionIn,
			Layer:        log.LayerMarkup,
			Category:     log.CategoryError,
			LocalRole:    log.RoleClient,
			Error: &log.ErrorEventData{
				Layer:   log.LayerMarkup,
				Message: err.Error(),
				Context: "decode frame",
			},
		})
		return
	}

	c.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerMarkup,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleClient,
		Message: &log.MessageEvent{
			Sections: msg.Sections,
			Updates:  len(msg.Updates),
			Paths:    msg.Paths(8),
		},
	})

	c.mirror.Apply(msg)

	n := c.processed.Add(1)
	if !c.config.Quiet && c.config.ProgressEvery > 0 && n%uint64(c.config.ProgressEvery) == 0 && c.logger != nil {
		c.logger.Info("processed messages", "count", n)
	}
}

func (c *Client) dropConn() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *Client) stateChanged(from, to connection.State) {
	metrics.SetConnected(to == connection.StateConnected)
	c.plog.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerTransport,
		Category:  log.CategoryState,
		LocalRole: log.RoleClient,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: from.String(),
			NewState: to.String(),
		},
	})
}

func (c *Client) logWorker(state string) {
	c.debugLog("worker "+state, "host", c.config.Host)
	c.plog.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerTransport,
		Category:  log.CategoryState,
		LocalRole: log.RoleClient,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityWorker,
			NewState: state,
		},
	})
}

func (c *Client) debugLog(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

func (c *Client) warnLog(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}

// send writes one encoded message on the current connection.
func (c *Client) send(msg []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Send(msg); err != nil {
		return err
	}
	metrics.FrameSent()
	return nil
}

// GetConfig returns the current configuration value at path.
func (c *Client) GetConfig(path string) (string, error) {
	return c.mirror.Get(wire.CategoryConfig, path)
}

// GetStatus returns the current status value at path.
func (c *Client) GetStatus(path string) (string, error) {
	return c.mirror.Get(wire.CategoryStatus, path)
}

// ReadConfig is the on-demand read of a configuration path. The first
// call registers the path and reports no value.
func (c *Client) ReadConfig(path string) (string, bool) {
	return c.mirror.Read(wire.CategoryConfig, path)
}

// ReadStatus is the on-demand read of a status path.
func (c *Client) ReadStatus(path string) (string, bool) {
	return c.mirror.Read(wire.CategoryStatus, path)
}

// WaitConfig blocks until any configuration value changes and returns the
// value at path.
func (c *Client) WaitConfig(ctx context.Context, path string) (string, error) {
	return c.mirror.WaitForNextChange(ctx, wire.CategoryConfig, path)
}

// WaitStatus blocks until any status value changes and returns the value
// at path.
func (c *Client) WaitStatus(ctx context.Context, path string) (string, error) {
	return c.mirror.WaitForNextChange(ctx, wire.CategoryStatus, path)
}

// WaitConfigInt is WaitConfig for integer values.
func (c *Client) WaitConfigInt(ctx context.Context, path string) (int64, error) {
	return c.mirror.WaitForNextChangeInt(ctx, wire.CategoryConfig, path)
}

// WaitStatusInt is WaitStatus for integer values.
func (c *Client) WaitStatusInt(ctx context.Context, path string) (int64, error) {
	return c.mirror.WaitForNextChangeInt(ctx, wire.CategoryStatus, path)
}

// SendConfig writes a configuration value.
func (c *Client) SendConfig(path, value string) error {
	msg, err := wire.EncodeConfig(path, value)
	if err != nil {
		return err
	}
	return c.send(msg)
}

// SendCommand issues a command. An empty path sends arg as a named
// command such as <SoftReset/>.
func (c *Client) SendCommand(path, arg string) error {
	msg, err := wire.EncodeCommand(path, arg)
	if err != nil {
		return err
	}
	return c.send(msg)
}

// SendRaw writes a complete message, delimiter included.
func (c *Client) SendRaw(msg []byte) error {
	if err := transport.ValidateMessage(msg); err != nil {
		return err
	}
	return c.send(msg)
}

// RequestConfig asks the device to send its full configuration.
func (c *Client) RequestConfig() error { return c.send(wire.EncodeReadConfig()) }

// RequestStatus asks the device to send its full status.
func (c *Client) RequestStatus() error { return c.send(wire.EncodeReadStatus()) }

// HardReset sends the HardReset command.
func (c *Client) HardReset() error { return c.send(wire.EncodeHardReset()) }

// SoftReset sends the SoftReset command.
func (c *Client) SoftReset() error { return c.send(wire.EncodeSoftReset()) }

// SetDefaults sends the SetDefaults command.
func (c *Client) SetDefaults() error { return c.send(wire.EncodeSetDefaults()) }

// OnConfig registers a configuration observer.
func (c *Client) OnConfig(fn mirror.LeafFunc) { c.mirror.Dispatcher().OnConfig(fn) }

// OnStatus registers a status observer.
func (c *Client) OnStatus(fn mirror.LeafFunc) { c.mirror.Dispatcher().OnStatus(fn) }

// OnStructure registers a structure observer.
func (c *Client) OnStructure(fn mirror.StructureFunc) { c.mirror.Dispatcher().OnStructure(fn) }

// OnError registers an observer for device error messages.
func (c *Client) OnError(fn mirror.ErrorFunc) { c.mirror.Dispatcher().OnError(fn) }

// Unread drops the on-demand registration of path in both value
// categories. It fails only when neither category had it registered.
func (c *Client) Unread(path string) error {
	errCfg := c.mirror.Unread(wire.CategoryConfig, path)
	errSt := c.mirror.Unread(wire.CategoryStatus, path)
	if errCfg != nil && errSt != nil {
		return errSt
	}
	return nil
}

// UnreadAll drops every on-demand registration.
func (c *Client) UnreadAll() int { return c.mirror.UnreadAll() }

// Reads lists the on-demand registrations, configuration first.
func (c *Client) Reads() []mirror.ReadInfo {
	return append(c.mirror.Reads(wire.CategoryConfig), c.mirror.Reads(wire.CategoryStatus)...)
}

// OnRead sets the function called when a path registered by a read
// receives a value.
func (c *Client) OnRead(fn func(mirror.ReadInfo)) { c.mirror.OnRead(fn) }

// Find returns the entries with a path segment called name.
func (c *Client) Find(name string) []mirror.Match { return c.mirror.Find(name) }

// Structure returns the variables and commands described by the device.
func (c *Client) Structure() *model.Registry { return c.mirror.Registry() }
