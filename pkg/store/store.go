package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/rcedaq/daqlink-go/pkg/connection"
	"github.com/rcedaq/daqlink-go/pkg/log"
)

// Defaults.
const (
	DefaultDriver          = "sqlite"
	DefaultConnectAttempts = 5
	DefaultConnectDelay    = 100 * time.Millisecond
	DefaultPollOverlap     = time.Second
	DefaultPollPeriod      = 100 * time.Millisecond
	DefaultRetention       = time.Minute
)

// Store errors.
var (
	ErrInvalidConfig   = errors.New("invalid store config")
	ErrClosed          = errors.New("store closed")
	ErrNotFound        = errors.New("entry not found")
	ErrUnknownTable    = errors.New("unknown table")
	ErrUnsupportedPoll = errors.New("table has no columns to poll for this role")
	ErrAlreadyRunning  = errors.New("synchronizer already running")
)

// StoreConnectError is returned by Open when every connection attempt
// failed.
type StoreConnectError struct {
	Driver   string
	Attempts int
	Err      error
}

func (e *StoreConnectError) Error() string {
	return fmt.Sprintf("store: %s connect failed after %d attempts: %v", e.Driver, e.Attempts, e.Err)
}

func (e *StoreConnectError) Unwrap() error { return e.Err }

// Config configures a Synchronizer.
type Config struct {
	// Driver is the database/sql driver name. Default "sqlite".
	Driver string

	// DSN is passed to sql.Open unchanged.
	DSN string

	Role Role

	ConnectAttempts int
	ConnectDelay    time.Duration

	// PollOverlap widens each poll window backwards so rows written close
	// to the previous poll are not missed. Default 1s.
	PollOverlap time.Duration

	// Retention is the age after which DelOldEntries removes rows.
	Retention time.Duration

	// MaxOpenConns limits the pool. Zero means 1 for sqlite, so that an
	// in-memory database is shared by every statement, and unlimited
	// otherwise.
	MaxOpenConns int

	Logger         *slog.Logger
	ProtocolLogger log.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.Driver == "" {
		c.Driver = DefaultDriver
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = DefaultConnectAttempts
	}
	if c.ConnectDelay <= 0 {
		c.ConnectDelay = DefaultConnectDelay
	}
	if c.PollOverlap <= 0 {
		c.PollOverlap = DefaultPollOverlap
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.MaxOpenConns == 0 && c.Driver == DefaultDriver {
		c.MaxOpenConns = 1
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Synchronizer owns a database handle, writes this side's columns and polls
// the other side's.
type Synchronizer struct {
	config Config
	db     *sql.DB
	logger *slog.Logger
	plog   log.Logger

	// dbMu serializes statements.
	dbMu sync.Mutex

	// cbMu guards callbacks and the per-table poll state.
	cbMu   sync.Mutex
	tables map[Table]*tableState
	order  []Table

	// runMu guards the background loop.
	runMu   sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	closed  bool
}

// Open connects to the database, retrying up to ConnectAttempts times, and
// makes sure the schema exists.
func Open(ctx context.Context, config Config) (*Synchronizer, error) {
	config.applyDefaults()
	if config.DSN == "" {
		return nil, fmt.Errorf("%w: empty DSN", ErrInvalidConfig)
	}
	if config.Role != RoleClient && config.Role != RoleServer {
		return nil, fmt.Errorf("%w: role %d", ErrInvalidConfig, config.Role)
	}

	s := &Synchronizer{
		config: config,
		logger: config.Logger,
		plog:   log.OrNoop(config.ProtocolLogger),
		tables: make(map[Table]*tableState),
	}

	db, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	s.db = db

	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Synchronizer) connect(ctx context.Context) (*sql.DB, error) {
	backoff := connection.NewFixedBackoff(s.config.ConnectDelay)
	var lastErr error
	made := 0
	for attempt := 1; attempt <= s.config.ConnectAttempts; attempt++ {
		if attempt > 1 {
			if err := backoff.Wait(ctx); err != nil {
				lastErr = err
				break
			}
		}
		made++
		db, err := sql.Open(s.config.Driver, s.config.DSN)
		if err == nil {
			if s.config.MaxOpenConns > 0 {
				db.SetMaxOpenConns(s.config.MaxOpenConns)
			}
			if err = db.PingContext(ctx); err == nil {
				s.debugLog("store connected", "driver", s.config.Driver, "role", s.config.Role, "attempt", attempt)
				return db, nil
			}
			db.Close()
		}
		lastErr = err
		s.debugLog("store connect failed", "driver", s.config.Driver, "attempt", attempt, "error", err)
	}
	s.logError("connect", lastErr)
	return nil, &StoreConnectError{
		Driver:   s.config.Driver,
		Attempts: made,
		Err:      lastErr,
	}
}

// Role returns the configured role.
func (s *Synchronizer) Role() Role { return s.config.Role }

// DB returns the underlying handle.
func (s *Synchronizer) DB() *sql.DB { return s.db }

// Close stops polling and closes the database.
func (s *Synchronizer) Close() error {
	s.Stop()
	s.runMu.Lock()
	if s.closed {
		s.runMu.Unlock()
		return nil
	}
	s.closed = true
	s.runMu.Unlock()
	return s.db.Close()
}

func (s *Synchronizer) now() time.Time { return s.config.Now() }

func (s *Synchronizer) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	s.dbMu.Lock()
	defer s.dbMu.Unlock()
	return s.db.ExecContext(ctx, query, args...)
}

func (s *Synchronizer) logRow(dir log.Direction, table Table, id, value string, serial int64, dispatched bool) {
	s.plog.Log(log.Event{
		Timestamp: time.Now(),
		Direction: dir,
		Layer:     log.LayerStore,
		Category:  log.CategoryMessage,
		LocalRole: s.localRole(),
		Row: &log.RowEvent{
			Table:      string(table),
			ID:         id,
			Value:      value,
			Serial:     serial,
			Dispatched: dispatched,
		},
	})
}

func (s *Synchronizer) logError(op string, err error) {
	if err == nil {
		return
	}
	s.plog.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerStore,
		Category:  log.CategoryError,
		LocalRole: s.localRole(),
		Error: &log.ErrorEventData{
			Layer:   log.LayerStore,
			Message: err.Error(),
			Context: op,
		},
	})
}

func (s *Synchronizer) localRole() log.Role {
	if s.config.Role == RoleServer {
		return log.RoleBridge
	}
	return log.RoleClient
}

func (s *Synchronizer) debugLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Synchronizer) warnLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
