package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rcedaq/daqlink-go/pkg/client"
	"github.com/rcedaq/daqlink-go/pkg/discovery"
	"github.com/rcedaq/daqlink-go/pkg/log"
	"github.com/rcedaq/daqlink-go/pkg/metrics"
	"github.com/rcedaq/daqlink-go/pkg/sim"
	"github.com/rcedaq/daqlink-go/pkg/store"
	"github.com/rcedaq/daqlink-go/pkg/transport"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config is the full file.
type Config struct {
	Client    ClientConfig    `yaml:"client"`
	Store     StoreConfig     `yaml:"store"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Sim       SimConfig       `yaml:"sim"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// ClientConfig configures the stream client.
type ClientConfig struct {
	Host         string        `yaml:"host"`
	BasePort     int           `yaml:"base_port"`
	PortAttempts int           `yaml:"port_attempts"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	StallTimeout time.Duration `yaml:"stall_timeout"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Quiet        bool          `yaml:"quiet"`

	// DeviceQuiet asks the device for replies only. KeepaliveInterval
	// defaults to a third of the stall timeout.
	DeviceQuiet       bool          `yaml:"device_quiet"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
}

// StoreConfig configures the store synchronizer.
type StoreConfig struct {
	Driver      string        `yaml:"driver"`
	DSN         string        `yaml:"dsn"`
	Role        string        `yaml:"role"`
	PollPeriod  time.Duration `yaml:"poll_period"`
	PollOverlap time.Duration `yaml:"poll_overlap"`
	Retention   time.Duration `yaml:"retention"`
}

// BridgeConfig configures the device-to-store bridge.
type BridgeConfig struct {
	// PruneInterval runs DelOldEntries periodically when positive.
	PruneInterval time.Duration `yaml:"prune_interval"`
	// ClearOnStart zeroes the store serials before the first snapshot.
	ClearOnStart bool `yaml:"clear_on_start"`
}

// SimConfig configures the device simulator.
type SimConfig struct {
	Address      string        `yaml:"address"`
	Host         string        `yaml:"host"`
	BasePort     int           `yaml:"base_port"`
	MaxClients   int           `yaml:"max_clients"`
	TickInterval time.Duration `yaml:"tick_interval"`
}

// LogConfig configures operational and protocol logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
	// ProtocolFile, when set, receives CBOR protocol events.
	ProtocolFile string `yaml:"protocol_file"`
}

// MetricsConfig configures the Prometheus endpoint. An empty address
// disables it.
type MetricsConfig struct {
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// DiscoveryConfig configures mDNS.
type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			Host:         "localhost",
			BasePort:     transport.DefaultBasePort,
			PortAttempts: transport.DefaultPortAttempts,
			DialTimeout:  transport.DefaultDialTimeout,
			StallTimeout: transport.DefaultStallTimeout,
			RetryDelay:   time.Second,
			PollInterval: 100 * time.Millisecond,
		},
		Store: StoreConfig{
			Driver:      store.DefaultDriver,
			Role:        store.RoleClient.String(),
			PollPeriod:  store.DefaultPollPeriod,
			PollOverlap: store.DefaultPollOverlap,
			Retention:   store.DefaultRetention,
		},
		Sim: SimConfig{
			Host:         "0.0.0.0",
			BasePort:     transport.DefaultBasePort,
			MaxClients:   transport.DefaultMaxClients,
			TickInterval: sim.DefaultTickInterval,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Path: metrics.DefaultPath,
		},
		Discovery: DiscoveryConfig{
			Instance: discovery.DefaultInstance,
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.Client.Host != "", "client.host is empty")
	check(c.Client.BasePort > 0 && c.Client.BasePort < 65536, "client.base_port %d out of range", c.Client.BasePort)
	check(c.Client.PortAttempts > 0, "client.port_attempts must be positive")
	check(c.Client.StallTimeout > 0, "client.stall_timeout must be positive")
	check(c.Client.KeepaliveInterval >= 0 && c.Client.KeepaliveInterval < c.Client.StallTimeout,
		"client.keepalive_interval must be below client.stall_timeout")
	check(c.Client.RetryDelay >= 0, "client.retry_delay is negative")

	_, err := store.ParseRole(c.Store.Role)
	check(err == nil, "store.role %q is not client or server", c.Store.Role)
	check(c.Store.PollPeriod >= 0, "store.poll_period is negative")
	check(c.Store.Retention >= 0, "store.retention is negative")

	check(c.Bridge.PruneInterval >= 0, "bridge.prune_interval is negative")

	check(c.Sim.BasePort >= 0 && c.Sim.BasePort < 65536, "sim.base_port %d out of range", c.Sim.BasePort)
	check(c.Sim.MaxClients >= 0, "sim.max_clients is negative")

	_, err = ParseLevel(c.Log.Level)
	check(err == nil, "log.level %q", c.Log.Level)
	check(c.Log.Format == "text" || c.Log.Format == "json", "log.format %q is not text or json", c.Log.Format)

	check(c.Metrics.Address == "" || strings.HasPrefix(c.Metrics.Path, "/"),
		"metrics.path %q must start with /", c.Metrics.Path)

	return errors.Join(errs...)
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalid, s)
	}
	return l, nil
}

// NewLogger builds the operational logger described by c.Log.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := ParseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ClientOptions converts the client section.
func (c *Config) ClientOptions(logger *slog.Logger, plog log.Logger) client.Config {
	cfg := client.DefaultConfig()
	cfg.Host = c.Client.Host
	cfg.BasePort = c.Client.BasePort
	cfg.PortAttempts = c.Client.PortAttempts
	cfg.DialTimeout = c.Client.DialTimeout
	cfg.StallTimeout = c.Client.StallTimeout
	cfg.RetryDelay = c.Client.RetryDelay
	cfg.PollInterval = c.Client.PollInterval
	cfg.Quiet = c.Client.Quiet
	cfg.DeviceQuiet = c.Client.DeviceQuiet
	cfg.KeepaliveInterval = c.Client.KeepaliveInterval
	cfg.Logger = logger
	cfg.ProtocolLogger = plog
	return cfg
}

// StoreOptions converts the store section.
func (c *Config) StoreOptions(logger *slog.Logger, plog log.Logger) (store.Config, error) {
	role, err := store.ParseRole(c.Store.Role)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Driver:         c.Store.Driver,
		DSN:            c.Store.DSN,
		Role:           role,
		PollOverlap:    c.Store.PollOverlap,
		Retention:      c.Store.Retention,
		Logger:         logger,
		ProtocolLogger: plog,
	}, nil
}

// SimOptions converts the sim section.
func (c *Config) SimOptions(logger *slog.Logger, plog log.Logger) sim.Config {
	return sim.Config{
		Address:        c.Sim.Address,
		Host:           c.Sim.Host,
		BasePort:       c.Sim.BasePort,
		MaxClients:     c.Sim.MaxClients,
		TickInterval:   c.Sim.TickInterval,
		Logger:         logger,
		ProtocolLogger: plog,
	}
}

// OpenProtocolLog opens the CBOR protocol log named by log.protocol_file.
// Without a file it returns a NoopLogger.
func (c *Config) OpenProtocolLog() (log.Logger, func() error, error) {
	if c.Log.ProtocolFile == "" {
		return log.NoopLogger{}, func() error { return nil }, nil
	}
	fl, err := log.NewFileLogger(c.Log.ProtocolFile)
	if err != nil {
		return nil, nil, fmt.Errorf("open protocol log: %w", err)
	}
	return fl, fl.Close, nil
}
