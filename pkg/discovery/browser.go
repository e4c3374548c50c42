package discovery

import (
	"context"
	"net"

	"github.com/enbility/zeroconf/v3"
)

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// Role keeps only services advertising this role when set.
	Role string
}

// ServiceEntry is the part of an mDNS answer the browser uses.
type ServiceEntry struct {
	Instance string
	Host     string
	Port     int
	Text     []string
	Addrs    []string
}

func entryFromZeroconf(e *zeroconf.ServiceEntry) ServiceEntry {
	addrs := make([]string, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	for _, ip := range e.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range e.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return ServiceEntry{
		Instance: e.Instance,
		Host:     e.HostName,
		Port:     e.Port,
		Text:     e.Text,
		Addrs:    addrs,
	}
}

// ToService converts an entry.
func (e *ServiceEntry) ToService() *Service {
	return &Service{
		Instance:  e.Instance,
		Host:      e.Host,
		Port:      e.Port,
		Addresses: append([]string(nil), e.Addrs...),
		Text:      StringsToTXTRecords(e.Text),
	}
}

// aggregator merges answers for the same instance from several
// interfaces.
type aggregator struct {
	role     string
	services map[string]*Service
}

func newAggregator(role string) *aggregator {
	return &aggregator{role: role, services: make(map[string]*Service)}
}

// add returns the service for e and whether it was seen for the first
// time. Entries of another role are ignored.
func (g *aggregator) add(e ServiceEntry) (*Service, bool) {
	svc := e.ToService()
	if g.role != "" && svc.Role() != g.role {
		return nil, false
	}
	if existing, ok := g.services[e.Instance]; ok {
		existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
		return existing, false
	}
	g.services[e.Instance] = svc
	return svc, true
}

// remove drops the entry's addresses and forgets the instance once none
// are left.
func (g *aggregator) remove(e ServiceEntry) {
	existing, ok := g.services[e.Instance]
	if !ok {
		return
	}
	existing.Addresses = removeAddresses(existing.Addresses, e.Addrs)
	if len(existing.Addresses) == 0 {
		delete(g.services, e.Instance)
	}
}

// Browser finds daqlink services.
type Browser struct {
	config BrowserConfig
}

// NewBrowser creates a browser.
func NewBrowser(config BrowserConfig) *Browser {
	return &Browser{config: config}
}

// Browse emits each newly found service until ctx is done. The channel is
// closed when browsing ends.
func (b *Browser) Browse(ctx context.Context) (<-chan *Service, error) {
	out := make(chan *Service)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(out)
		agg := newAggregator(b.config.Role)
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				svc, isNew := agg.add(entryFromZeroconf(e))
				if !isNew {
					continue
				}
				select {
				case out <- svc:
				case <-ctx.Done():
					return
				}
			case e, ok := <-removed:
				if !ok {
					removed = nil
					continue
				}
				agg.remove(entryFromZeroconf(e))
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, b.options()...)
	}()
	return out, nil
}

// FindFirst returns the first service found. Without a deadline on ctx it
// gives up after BrowseTimeout.
func (b *Browser) FindFirst(ctx context.Context) (*Service, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, BrowseTimeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	found, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	return first(ctx, found)
}

func first(ctx context.Context, found <-chan *Service) (*Service, error) {
	select {
	case svc, ok := <-found:
		if !ok {
			return nil, ErrNotFound
		}
		return svc, nil
	case <-ctx.Done():
		return nil, ErrNotFound
	}
}

func (b *Browser) options() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if b.config.Interface != "" {
		if iface, err := net.InterfaceByName(b.config.Interface); err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return opts
}

// mergeAddresses adds new addresses to existing, avoiding duplicates.
func mergeAddresses(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range added {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses returns addresses without the ones in gone.
func removeAddresses(addresses, gone []string) []string {
	drop := make(map[string]bool, len(gone))
	for _, a := range gone {
		drop[a] = true
	}
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !drop[addr] {
			result = append(result, addr)
		}
	}
	return result
}
