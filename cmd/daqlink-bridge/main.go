// Command daqlink-bridge relays between a device and the shared store.
//
// Device configuration and status are written to the store's server
// columns. Rows that store clients change in the configuration and
// command tables are sent to the device.
//
// Usage:
//
//	daqlink-bridge [flags]
//
// Flags:
//
//	-config string       YAML configuration file
//	-host string         Device host (default "localhost")
//	-base-port int       First device port to try (default 8090)
//	-discover            Find the device over mDNS instead of -host
//	-driver string       database/sql driver (default "sqlite")
//	-dsn string          Store data source name (required)
//	-clear               Zero every store serial before relaying
//	-prune duration      Delete expired rows at this interval
//	-log-level string    debug, info, warn, error (default "info")
//	-protocol-log string Write CBOR protocol events to this file
//	-metrics string      Serve Prometheus metrics on this address
//
// Examples:
//
//	daqlink-bridge -host daq01 -dsn 'file:/var/lib/daqlink/state.db'
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rcedaq/daqlink-go/pkg/bridge"
	"github.com/rcedaq/daqlink-go/pkg/client"
	"github.com/rcedaq/daqlink-go/pkg/config"
	"github.com/rcedaq/daqlink-go/pkg/discovery"
	"github.com/rcedaq/daqlink-go/pkg/metrics"
	"github.com/rcedaq/daqlink-go/pkg/store"
)

var (
	configFile  = flag.String("config", "", "YAML configuration file")
	host        = flag.String("host", "", "Device host")
	basePort    = flag.Int("base-port", 0, "First device port to try")
	discover    = flag.Bool("discover", false, "Find the device over mDNS")
	driver      = flag.String("driver", "", "database/sql driver")
	dsn         = flag.String("dsn", "", "Store data source name")
	clearStart  = flag.Bool("clear", false, "Zero every store serial before relaying")
	prune       = flag.Duration("prune", 0, "Delete expired rows at this interval")
	logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
	protocolLog = flag.String("protocol-log", "", "Write CBOR protocol events to this file")
	metricsAddr = flag.String("metrics", "", "Serve Prometheus metrics on this address")
)

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			return nil, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Client.Host = *host
		case "base-port":
			cfg.Client.BasePort = *basePort
		case "discover":
			cfg.Discovery.Enabled = *discover
		case "driver":
			cfg.Store.Driver = *driver
		case "dsn":
			cfg.Store.DSN = *dsn
		case "clear":
			cfg.Bridge.ClearOnStart = *clearStart
		case "prune":
			cfg.Bridge.PruneInterval = *prune
		case "log-level":
			cfg.Log.Level = *logLevel
		case "protocol-log":
			cfg.Log.ProtocolFile = *protocolLog
		case "metrics":
			cfg.Metrics.Address = *metricsAddr
		}
	})
	// The bridge always owns the server columns.
	cfg.Store.Role = store.RoleServer.String()
	if cfg.Store.DSN == "" {
		return nil, fmt.Errorf("%w: store.dsn is required", config.ErrInvalid)
	}
	return cfg, cfg.Validate()
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stderr)

	if err := run(cfg, logger); err != nil {
		logger.Error("bridge failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	plog, closeLog, err := cfg.OpenProtocolLog()
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Address != "" {
		if _, err := metrics.Serve(ctx, cfg.Metrics.Address, cfg.Metrics.Path, logger); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	if cfg.Discovery.Enabled {
		svc, err := discovery.NewBrowser(discovery.BrowserConfig{Role: discovery.RoleDevice}).FindFirst(ctx)
		if err != nil {
			return fmt.Errorf("discover device: %w", err)
		}
		logger.Info("discovered device", "instance", svc.Instance, "address", svc.Address())
		cfg.Client.Host = svc.DialHost()
		cfg.Client.BasePort = svc.Port
	}

	storeCfg, err := cfg.StoreOptions(logger, plog)
	if err != nil {
		return err
	}
	s, err := store.Open(ctx, storeCfg)
	if err != nil {
		return err
	}
	defer s.Close()

	c, err := client.New(cfg.ClientOptions(logger, plog))
	if err != nil {
		return err
	}
	defer c.Close()

	b, err := bridge.New(c, s, bridge.Config{
		PollPeriod:    cfg.Store.PollPeriod,
		PruneInterval: cfg.Bridge.PruneInterval,
		ClearOnStart:  cfg.Bridge.ClearOnStart,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	if err := b.Start(ctx); err != nil {
		return err
	}
	defer b.Stop()

	logger.Info("bridge running", "device", cfg.Client.Host, "store", cfg.Store.Driver)
	<-ctx.Done()

	st := b.Stats()
	logger.Info("bridge stopped",
		"to_store", st.ToStore,
		"to_device", st.ToDevice,
		"failures", st.Failures,
		"pruned", st.Pruned)
	return nil
}
