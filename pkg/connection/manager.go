package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Connection errors.
var (
	ErrClosed           = errors.New("connection manager closed")
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
)

// State represents the connection state.
type State uint8

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected State = iota

	// StateConnecting indicates a port scan is in progress.
	StateConnecting

	// StateConnected indicates an active connection.
	StateConnected

	// StateStalled indicates no complete frame arrived within the stall
	// timeout. It is left for StateDisconnected immediately.
	StateStalled

	// StateClosed indicates the manager has been closed.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateStalled:
		return "STALLED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnectFunc is called to establish a connection.
type ConnectFunc func(ctx context.Context) error

// StateChangeFunc observes state transitions.
type StateChangeFunc func(from, to State)

// Stats summarises the lifetime of a Manager.
type Stats struct {
	Connects  int
	Failures  int
	Stalls    int
	Losses    int
	LastError error
}

// Manager tracks the lifecycle of one logical device connection.
type Manager struct {
	mu sync.RWMutex

	state     State
	backoff   *Backoff
	connectFn ConnectFunc
	logger    *slog.Logger
	stats     Stats

	onStateChange  []StateChangeFunc
	onConnected    func()
	onDisconnected func(reason string)
	onRetry        func(attempt int, delay time.Duration, err error)
}

// NewManager creates a manager. A nil backoff selects the fixed RetryDelay.
func NewManager(connectFn ConnectFunc, backoff *Backoff) *Manager {
	if backoff == nil {
		backoff = NewBackoff()
	}
	return &Manager{
		state:     StateDisconnected,
		backoff:   backoff,
		connectFn: connectFn,
	}
}

// SetLogger sets the logger for state transitions. Nil disables logging.
func (m *Manager) SetLogger(logger *slog.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected returns true if currently connected.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Stats returns a copy of the lifetime counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// Backoff returns the retry backoff.
func (m *Manager) Backoff() *Backoff {
	return m.backoff
}

// Connect runs the ConnectFunc once.
// On failure the manager returns to StateDisconnected and the error is
// returned unchanged.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		return ErrAlreadyConnected
	case StateClosed:
		m.mu.Unlock()
		return ErrClosed
	}
	from := m.state
	m.state = StateConnecting
	m.mu.Unlock()
	m.notify(from, StateConnecting)

	err := m.connectFn(ctx)

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return ErrClosed
	}
	if err != nil {
		m.state = StateDisconnected
		m.stats.Failures++
		m.stats.LastError = err
		m.mu.Unlock()
		m.notify(StateConnecting, StateDisconnected)
		return err
	}
	m.state = StateConnected
	m.stats.Connects++
	m.backoff.Reset()
	onConnected := m.onConnected
	m.mu.Unlock()

	m.notify(StateConnecting, StateConnected)
	if onConnected != nil {
		onConnected()
	}
	return nil
}

// WaitRetry waits for the next backoff delay after a failed Connect.
func (m *Manager) WaitRetry(ctx context.Context) error {
	if m.State() == StateClosed {
		return ErrClosed
	}
	delay := m.backoff.Next()

	m.mu.RLock()
	onRetry := m.onRetry
	lastErr := m.stats.LastError
	m.mu.RUnlock()
	if onRetry != nil {
		onRetry(m.backoff.Attempts(), delay, lastErr)
	}
	return Sleep(ctx, delay)
}

// ConnectLoop calls Connect until it succeeds, waiting WaitRetry between
// attempts. It only gives up when ctx is done or the manager is closed.
func (m *Manager) ConnectLoop(ctx context.Context) error {
	for {
		err := m.Connect(ctx)
		switch {
		case err == nil, errors.Is(err, ErrAlreadyConnected):
			return nil
		case errors.Is(err, ErrClosed):
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := m.WaitRetry(ctx); err != nil {
			return err
		}
	}
}

// NotifyStalled records a stall: Connected -> Stalled -> Disconnected.
func (m *Manager) NotifyStalled(reason string) {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.state = StateStalled
	m.stats.Stalls++
	m.mu.Unlock()
	m.notify(StateConnected, StateStalled)

	m.mu.Lock()
	if m.state != StateStalled {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	onDisconnected := m.onDisconnected
	m.mu.Unlock()
	m.notify(StateStalled, StateDisconnected)

	if onDisconnected != nil {
		onDisconnected(reason)
	}
}

// NotifyConnectionLost records a lost connection: Connected -> Disconnected.
func (m *Manager) NotifyConnectionLost(reason string) {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	m.stats.Losses++
	onDisconnected := m.onDisconnected
	m.mu.Unlock()
	m.notify(StateConnected, StateDisconnected)

	if onDisconnected != nil {
		onDisconnected(reason)
	}
}

// Disconnect returns a connected manager to StateDisconnected without
// counting a loss. It is used when the worker is disabled.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	m.mu.Unlock()
	m.notify(StateConnected, StateDisconnected)
}

// Close moves the manager to StateClosed. Further Connect calls fail.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	from := m.state
	m.state = StateClosed
	m.mu.Unlock()
	m.notify(from, StateClosed)
}

// OnStateChange adds an observer for state transitions.
// Observers run in registration order.
func (m *Manager) OnStateChange(fn StateChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = append(m.onStateChange, fn)
}

// OnConnected sets a callback for successful connection.
func (m *Manager) OnConnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = fn
}

// OnDisconnected sets a callback for stalls and lost connections.
func (m *Manager) OnDisconnected(fn func(reason string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnected = fn
}

// OnRetry sets a callback invoked before each retry wait.
func (m *Manager) OnRetry(fn func(attempt int, delay time.Duration, err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRetry = fn
}

func (m *Manager) notify(from, to State) {
	m.mu.RLock()
	observers := m.onStateChange
	logger := m.logger
	m.mu.RUnlock()

	if logger != nil {
		logger.Debug("connection state", "from", from.String(), "to", to.String())
	}
	for _, fn := range observers {
		fn(from, to)
	}
}
