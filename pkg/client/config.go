package client

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rcedaq/daqlink-go/pkg/connection"
	"github.com/rcedaq/daqlink-go/pkg/log"
	"github.com/rcedaq/daqlink-go/pkg/mirror"
	"github.com/rcedaq/daqlink-go/pkg/transport"
)

// DefaultProgressEvery is how many processed frames separate two progress
// log lines.
const DefaultProgressEvery = 100

// ErrInvalidConfig is wrapped by every Config validation error.
var ErrInvalidConfig = errors.New("invalid client config")

// Config configures a Client.
type Config struct {
	// Host is the device host name or address.
	Host string

	// BasePort is the first port of the scan (default: 8090).
	BasePort int

	// PortAttempts is the number of ports scanned (default: 10).
	PortAttempts int

	// DialTimeout bounds each port attempt (default: 100ms).
	DialTimeout time.Duration

	// StallTimeout drops a connection without a complete frame for this
	// long (default: 5s).
	StallTimeout time.Duration

	// RetryDelay is waited after a scan in which every port failed
	// (default: 1s).
	RetryDelay time.Duration

	// ReadSlice bounds one socket read under the connection lock
	// (default: 100ms).
	ReadSlice time.Duration

	// PollInterval is the WaitConfig/WaitStatus polling period
	// (default: 100ms).
	PollInterval time.Duration

	// MaxFrameSize bounds buffered bytes without a delimiter.
	MaxFrameSize int

	// Quiet suppresses the progress log.
	Quiet bool

	// DeviceQuiet asks the device to only send replies to this client's
	// requests. The link is then kept alive with a status read every
	// KeepaliveInterval.
	DeviceQuiet bool

	// KeepaliveInterval is the status read period in device quiet mode
	// (default: a third of StallTimeout).
	KeepaliveInterval time.Duration

	// ProgressEvery logs a progress line every N frames (default: 100).
	ProgressEvery int

	// Logger receives operational logs. Nil disables logging.
	Logger *slog.Logger

	// ProtocolLogger captures frames, messages and state changes.
	ProtocolLogger log.Logger
}

// DefaultConfig returns a configuration with every default filled in.
func DefaultConfig() Config {
	return Config{
		Host:          "localhost",
		BasePort:      transport.DefaultBasePort,
		PortAttempts:  transport.DefaultPortAttempts,
		DialTimeout:   transport.DefaultDialTimeout,
		StallTimeout:  transport.DefaultStallTimeout,
		RetryDelay:    connection.RetryDelay,
		ReadSlice:     transport.DefaultReadSlice,
		PollInterval:  mirror.DefaultPollInterval,
		MaxFrameSize:  transport.DefaultMaxFrameSize,
		ProgressEvery: DefaultProgressEvery,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.BasePort == 0 {
		c.BasePort = d.BasePort
	}
	if c.PortAttempts == 0 {
		c.PortAttempts = d.PortAttempts
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.StallTimeout == 0 {
		c.StallTimeout = d.StallTimeout
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.ReadSlice == 0 {
		c.ReadSlice = d.ReadSlice
	}
	if c.PollInterval == 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = d.MaxFrameSize
	}
	if c.ProgressEvery == 0 {
		c.ProgressEvery = d.ProgressEvery
	}
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = c.StallTimeout / 3
	}
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	switch {
	case c.Host == "":
		return fmt.Errorf("%w: host is required", ErrInvalidConfig)
	case c.BasePort <= 0 || c.BasePort > 65535:
		return fmt.Errorf("%w: base port %d", ErrInvalidConfig, c.BasePort)
	case c.PortAttempts < 1 || c.BasePort+c.PortAttempts-1 > 65535:
		return fmt.Errorf("%w: %d port attempts from %d", ErrInvalidConfig, c.PortAttempts, c.BasePort)
	case c.DialTimeout < 0, c.StallTimeout < 0, c.RetryDelay < 0, c.ReadSlice < 0, c.PollInterval < 0,
		c.KeepaliveInterval < 0:
		return fmt.Errorf("%w: negative duration", ErrInvalidConfig)
	case c.ReadSlice > c.StallTimeout:
		return fmt.Errorf("%w: read slice %v exceeds stall timeout %v", ErrInvalidConfig, c.ReadSlice, c.StallTimeout)
	case c.DeviceQuiet && c.KeepaliveInterval >= c.StallTimeout:
		return fmt.Errorf("%w: keepalive interval %v must be below stall timeout %v",
			ErrInvalidConfig, c.KeepaliveInterval, c.StallTimeout)
	}
	return nil
}
