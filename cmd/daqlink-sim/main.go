// Command daqlink-sim runs a simulated data acquisition device.
//
// The simulator serves the daqlink markup stream on the first free port
// from the base port, broadcasts status changes to every client and can
// advertise itself over mDNS.
//
// Usage:
//
//	daqlink-sim [flags]
//
// Flags:
//
//	-config string       YAML configuration file
//	-address string      Listen address (overrides -host/-base-port)
//	-host string         Listen host (default "0.0.0.0")
//	-base-port int       First port to try (default 8090)
//	-max-clients int     Concurrent client limit (default 8)
//	-tick duration       Status update interval, negative disables (default 1s)
//	-advertise           Advertise over mDNS
//	-instance string     mDNS instance name (default "daqlink")
//	-log-level string    debug, info, warn, error (default "info")
//	-protocol-log string Write CBOR protocol events to this file
//	-metrics string      Serve Prometheus metrics on this address
//
// Examples:
//
//	# Serve on a fixed loopback port
//	daqlink-sim -address 127.0.0.1:8090
//
//	# Advertise and record the protocol
//	daqlink-sim -advertise -protocol-log sim.dlog
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rcedaq/daqlink-go/pkg/config"
	"github.com/rcedaq/daqlink-go/pkg/discovery"
	"github.com/rcedaq/daqlink-go/pkg/metrics"
	"github.com/rcedaq/daqlink-go/pkg/sim"
)

var (
	configFile  = flag.String("config", "", "YAML configuration file")
	address     = flag.String("address", "", "Listen address (overrides -host/-base-port)")
	host        = flag.String("host", "", "Listen host")
	basePort    = flag.Int("base-port", 0, "First port to try")
	maxClients  = flag.Int("max-clients", 0, "Concurrent client limit")
	tick        = flag.Duration("tick", 0, "Status update interval, negative disables")
	advertise   = flag.Bool("advertise", false, "Advertise over mDNS")
	instance    = flag.String("instance", "", "mDNS instance name")
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
		case "address":
			cfg.Sim.Address = *address
		case "host":
			cfg.Sim.Host = *host
		case "base-port":
			cfg.Sim.BasePort = *basePort
		case "max-clients":
			cfg.Sim.MaxClients = *maxClients
		case "tick":
			cfg.Sim.TickInterval = *tick
		case "advertise":
			cfg.Discovery.Enabled = *advertise
		case "instance":
			cfg.Discovery.Instance = *instance
		case "log-level":
			cfg.Log.Level = *logLevel
		case "protocol-log":
			cfg.Log.ProtocolFile = *protocolLog
		case "metrics":
			cfg.Metrics.Address = *metricsAddr
		}
	})
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

	plog, closeLog, err := cfg.OpenProtocolLog()
	if err != nil {
		logger.Error("protocol log", "error", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Address != "" {
		if _, err := metrics.Serve(ctx, cfg.Metrics.Address, cfg.Metrics.Path, logger); err != nil {
			logger.Error("metrics", "error", err)
			os.Exit(1)
		}
	}

	system := sim.NewSystem(sim.DefaultDefinition(), logger)
	device, err := sim.NewDevice(system, cfg.SimOptions(logger, plog))
	if err != nil {
		logger.Error("create device", "error", err)
		os.Exit(1)
	}
	if err := device.Start(ctx); err != nil {
		logger.Error("start device", "error", err)
		os.Exit(1)
	}
	logger.Info("simulator listening", "address", device.Addr().String())

	if cfg.Discovery.Enabled {
		adv := discovery.NewAdvertiser(discovery.AdvertiserConfig{Logger: logger})
		txt := discovery.EncodeTXT(discovery.RoleDevice, cfg.Discovery.Instance)
		if err := adv.Advertise(ctx, cfg.Discovery.Instance, device.Port(), txt); err != nil {
			logger.Warn("mDNS advertising failed", "error", err)
		} else {
			defer adv.Stop()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	cancel()
	done := make(chan struct{})
	go func() {
		_ = device.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn("shutdown timed out")
	}
}
