package discovery

import (
	"errors"
	"net"
	"strconv"
	"time"
)

// Service constants.
const (
	// ServiceType is the DNS-SD service type of daqlink devices.
	ServiceType = "_daqlink._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultInstance is the instance name used when none is configured.
	DefaultInstance = "daqlink"

	// MaxInstanceNameLen is the DNS label limit for instance names.
	MaxInstanceNameLen = 63

	// BrowseTimeout bounds FindFirst when the context has no deadline.
	BrowseTimeout = 5 * time.Second

	// DefaultTTL is the record TTL used by advertisers.
	DefaultTTL = 120 * time.Second
)

// TXT record keys.
const (
	TXTKeyRole    = "role" // device or bridge
	TXTKeyName    = "name" // system name (optional)
	TXTKeyVersion = "ver"  // protocol version
)

// Roles advertised in TXTKeyRole.
const (
	RoleDevice = "device"
	RoleBridge = "bridge"
)

// ProtocolVersion is advertised in TXTKeyVersion.
const ProtocolVersion = "1"

// Discovery errors.
var (
	ErrNotFound        = errors.New("no service found")
	ErrInvalidPort     = errors.New("invalid port")
	ErrInvalidInstance = errors.New("invalid instance name")
	ErrNotAdvertising  = errors.New("not advertising")
)

// Service is a discovered daqlink service.
type Service struct {
	Instance  string
	Host      string
	Port      int
	Addresses []string
	Text      TXTRecordMap
}

// Role returns the advertised role, or "" when absent.
func (s *Service) Role() string { return s.Text[TXTKeyRole] }

// Name returns the advertised system name.
func (s *Service) Name() string { return s.Text[TXTKeyName] }

// DialHost returns the host to connect to: the first IPv4 address, then
// any address, then the host name.
func (s *Service) DialHost() string {
	for _, a := range s.Addresses {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			return a
		}
	}
	if len(s.Addresses) > 0 {
		return s.Addresses[0]
	}
	return s.Host
}

// Address returns DialHost and Port joined for net.Dial.
func (s *Service) Address() string {
	return net.JoinHostPort(s.DialHost(), strconv.Itoa(s.Port))
}
