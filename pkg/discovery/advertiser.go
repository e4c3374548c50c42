package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// TTL is the DNS record TTL (default: 120s).
	TTL time.Duration

	Logger *slog.Logger
}

// Advertiser publishes one daqlink service instance.
type Advertiser struct {
	config AdvertiserConfig

	mu       sync.Mutex
	server   *zeroconf.Server
	instance string
	stop     chan struct{}
}

// NewAdvertiser creates an idle advertiser.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	return &Advertiser{config: config}
}

// Advertise registers instance on port. A previous registration is
// replaced. The service is withdrawn when ctx is done or Stop is called.
func (a *Advertiser) Advertise(ctx context.Context, instance string, port int, txt TXTRecordMap) error {
	if instance == "" || len(instance) > MaxInstanceNameLen {
		return fmt.Errorf("%w: %q", ErrInvalidInstance, instance)
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdownLocked()

	server, err := zeroconf.Register(
		instance,
		ServiceType,
		Domain,
		port,
		TXTRecordsToStrings(txt),
		a.interfaces(),
		zeroconf.TTL(uint32(a.config.TTL.Seconds())),
	)
	if err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}
	a.server = server
	a.instance = instance
	a.stop = make(chan struct{})

	go func(stop chan struct{}) {
		select {
		case <-ctx.Done():
			a.mu.Lock()
			if a.stop == stop {
				a.shutdownLocked()
			}
			a.mu.Unlock()
		case <-stop:
		}
	}(a.stop)

	if a.config.Logger != nil {
		a.config.Logger.Info("advertising service", "instance", instance, "type", ServiceType, "port", port)
	}
	return nil
}

// Update replaces the TXT records of the running registration.
func (a *Advertiser) Update(txt TXTRecordMap) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return ErrNotAdvertising
	}
	a.server.SetText(TXTRecordsToStrings(txt))
	return nil
}

// Instance returns the registered instance name, or "".
func (a *Advertiser) Instance() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.instance
}

// Stop withdraws the service.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdownLocked()
}

func (a *Advertiser) shutdownLocked() {
	if a.server == nil {
		return
	}
	a.server.Shutdown()
	close(a.stop)
	a.server = nil
	a.instance = ""
}

// interfaces returns the configured interface, or nil for all.
func (a *Advertiser) interfaces() []net.Interface {
	if a.config.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(a.config.Interface)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}
