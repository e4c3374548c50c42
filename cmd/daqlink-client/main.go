// Command daqlink-client connects to a device and keeps a local mirror of
// its state.
//
// Without arguments it starts an interactive shell. With arguments it
// runs them as a single shell command once the connection is up and the
// device structure has arrived, then exits.
//
// Usage:
//
//	daqlink-client [flags] [command [args...]]
//
// Flags:
//
//	-config string       YAML configuration file
//	-host string         Device host (default "localhost")
//	-base-port int       First port to try (default 8090)
//	-discover            Find the device over mDNS instead of -host
//	-quiet               Suppress the progress log
//	-device-quiet        Ask the device for replies only, with status keepalives
//	-timeout duration    Connection timeout for one-shot commands (default 10s)
//	-log-level string    debug, info, warn, error (default "info")
//	-protocol-log string Write CBOR protocol events to this file
//	-metrics string      Serve Prometheus metrics on this address
//
// Examples:
//
//	# Interactive shell
//	daqlink-client -host daq01
//
//	# Start a run and read the event counter
//	daqlink-client cmd run:start
//	daqlink-client get daq:run:events
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"

	"github.com/rcedaq/daqlink-go/pkg/client"
	"github.com/rcedaq/daqlink-go/pkg/config"
	"github.com/rcedaq/daqlink-go/pkg/connection"
	"github.com/rcedaq/daqlink-go/pkg/discovery"
	"github.com/rcedaq/daqlink-go/pkg/metrics"
)

var (
	configFile  = flag.String("config", "", "YAML configuration file")
	host        = flag.String("host", "", "Device host")
	basePort    = flag.Int("base-port", 0, "First port to try")
	discover    = flag.Bool("discover", false, "Find the device over mDNS")
	quiet       = flag.Bool("quiet", false, "Suppress the progress log")
	deviceQuiet = flag.Bool("device-quiet", false, "Ask the device for replies only, with status keepalives")
	timeout     = flag.Duration("timeout", 10*time.Second, "Connection timeout for one-shot commands")
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
		case "quiet":
			cfg.Client.Quiet = *quiet
		case "device-quiet":
			cfg.Client.DeviceQuiet = *deviceQuiet
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if flag.NArg() > 0 {
		err = runOnce(ctx, cfg, strings.Join(flag.Args(), " "))
	} else {
		err = runInteractive(ctx, cfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// start builds and enables a client, resolving the device over mDNS when
// configured.
func start(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*client.Client, func(), error) {
	plog, closeLog, err := cfg.OpenProtocolLog()
	if err != nil {
		return nil, nil, err
	}

	if cfg.Metrics.Address != "" {
		if _, err := metrics.Serve(ctx, cfg.Metrics.Address, cfg.Metrics.Path, logger); err != nil {
			closeLog()
			return nil, nil, fmt.Errorf("metrics: %w", err)
		}
	}

	if cfg.Discovery.Enabled {
		svc, err := discovery.NewBrowser(discovery.BrowserConfig{Role: discovery.RoleDevice}).FindFirst(ctx)
		if err != nil {
			closeLog()
			return nil, nil, fmt.Errorf("discover device: %w", err)
		}
		logger.Info("discovered device", "instance", svc.Instance, "address", svc.Address())
		cfg.Client.Host = svc.DialHost()
		cfg.Client.BasePort = svc.Port
	}

	c, err := client.New(cfg.ClientOptions(logger, plog))
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	if err := c.Enable(ctx); err != nil {
		c.Close()
		closeLog()
		return nil, nil, err
	}
	return c, func() {
		c.Close()
		closeLog()
	}, nil
}

func runOnce(ctx context.Context, cfg *config.Config, line string) error {
	logger := cfg.NewLogger(os.Stderr)
	c, done, err := start(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer done()

	waitCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	if err := waitReady(waitCtx, c); err != nil {
		return err
	}

	if err := NewShell(c, os.Stdout).Exec(ctx, line); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

func runInteractive(ctx context.Context, cfg *config.Config) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "daqlink> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}

	// Log through readline so output does not interfere with the prompt.
	logger := cfg.NewLogger(rl.Stderr())
	c, done, err := start(ctx, cfg, logger)
	if err != nil {
		rl.Close()
		return err
	}
	defer done()

	NewShell(c, rl.Stdout()).Run(ctx, rl)
	return nil
}

// waitReady blocks until the client is connected and has applied a
// message carrying structure.
func waitReady(ctx context.Context, c *client.Client) error {
	ticker := time.NewTicker(c.Config().PollInterval)
	defer ticker.Stop()
	for {
		if c.State() == connection.StateConnected && c.Stats().Processed > 0 {
			if vars, cmds := c.Structure().Len(); vars+cmds > 0 {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("device not ready (%s): %w", c.State(), ctx.Err())
		case <-ticker.C:
		}
	}
}
