package sim

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rcedaq/daqlink-go/pkg/log"
	"github.com/rcedaq/daqlink-go/pkg/metrics"
	"github.com/rcedaq/daqlink-go/pkg/transport"
)

// DefaultTickInterval is how often a Device advances its System.
const DefaultTickInterval = time.Second

// ErrRunning is returned by Start on a started device.
var ErrRunning = errors.New("device already running")

// Config configures a Device.
type Config struct {
	// Address to listen on, e.g. "127.0.0.1:0". When empty the device
	// binds the first free port from BasePort on Host.
	Address      string
	Host         string
	BasePort     int
	PortAttempts int
	MaxClients   int

	// TickInterval between status updates. Negative disables ticking.
	TickInterval time.Duration

	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

// Device serves a System to stream clients.
type Device struct {
	system *System
	server *transport.Server
	config Config
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewDevice creates a stopped device for system.
func NewDevice(system *System, config Config) (*Device, error) {
	if config.TickInterval == 0 {
		config.TickInterval = DefaultTickInterval
	}
	d := &Device{
		system: system,
		config: config,
		logger: config.Logger,
	}
	server, err := transport.NewServer(transport.ServerConfig{
		Address:      config.Address,
		Host:         config.Host,
		BasePort:     config.BasePort,
		PortAttempts: config.PortAttempts,
		MaxClients:   config.MaxClients,
		Logger:       config.ProtocolLogger,
		Snapshot:     system.Snapshot,
		OnConnect:    d.onConnect,
		OnDisconnect: d.onDisconnect,
		OnMessage:    d.onMessage,
		OnError: func(conn *transport.ServerConn, err error) {
			d.debugLog("connection error", "conn", conn.ConnID(), "error", err)
		},
	})
	if err != nil {
		return nil, err
	}
	d.server = server
	return d, nil
}

// System returns the simulated state.
func (d *Device) System() *System { return d.system }

// Port returns the bound port once started.
func (d *Device) Port() int { return d.server.Port() }

// Addr returns the listener address once started.
func (d *Device) Addr() net.Addr { return d.server.Addr() }

// Clients returns the number of connected clients.
func (d *Device) Clients() int { return d.server.ConnectionCount() }

// Start binds the listener and starts ticking.
func (d *Device) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrRunning
	}
	if err := d.server.Start(ctx); err != nil {
		return err
	}

	tickCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	if d.config.TickInterval > 0 {
		d.wg.Add(1)
		go d.tickLoop(tickCtx)
	}
	if d.logger != nil {
		d.logger.Info("device listening", "port", d.server.Port())
	}
	return nil
}

// Stop closes every connection and stops ticking.
func (d *Device) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()

	d.wg.Wait()
	err := d.server.Stop()
	metrics.SetSimClients(0)
	return err
}

// Tick advances the system once and broadcasts the changes.
func (d *Device) Tick() int {
	frame := d.system.Tick()
	if frame == nil {
		return 0
	}
	return d.broadcast(frame)
}

func (d *Device) tickLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.config.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick()
		}
	}
}

func (d *Device) onMessage(conn *transport.ServerConn, payload []byte) {
	metrics.FrameReceived()
	reply, err := d.system.Handle(payload)
	if err != nil {
		metrics.ParseError()
		d.debugLog("bad request", "conn", conn.ConnID(), "error", err)
	}
	if reply != nil {
		d.broadcast(reply)
	}
}

func (d *Device) broadcast(frame []byte) int {
	n := d.server.Broadcast(frame)
	for range n {
		metrics.FrameSent()
	}
	return n
}

func (d *Device) onConnect(conn *transport.ServerConn) {
	metrics.SetSimClients(d.server.ConnectionCount())
	d.debugLog("client connected", "conn", conn.ConnID(), "remote", conn.RemoteAddr())
}

func (d *Device) onDisconnect(conn *transport.ServerConn) {
	metrics.SetSimClients(d.server.ConnectionCount())
	d.debugLog("client disconnected", "conn", conn.ConnID())
}

func (d *Device) debugLog(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Debug(msg, args...)
	}
}
