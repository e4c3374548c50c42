package store

import "fmt"

// Role selects which side of the serial columns a process owns.
type Role uint8

const (
	// RoleClient writes client_* columns and polls server_* columns.
	RoleClient Role = iota
	// RoleServer writes server_* columns and polls client_* columns.
	RoleServer
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	default:
		return "unknown"
	}
}

// ParseRole converts "client" or "server" to a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "client", "":
		return RoleClient, nil
	case "server":
		return RoleServer, nil
	default:
		return 0, fmt.Errorf("%w: role %q", ErrInvalidConfig, s)
	}
}

// Columns names a timestamp and serial column pair.
type Columns struct {
	Timestamp string
	Serial    string
}

var (
	clientColumns = Columns{Timestamp: "client_ts", Serial: "client_ser"}
	serverColumns = Columns{Timestamp: "server_ts", Serial: "server_ser"}
)

// PollColumns returns the columns written by the other side.
func (r Role) PollColumns() Columns {
	if r == RoleServer {
		return clientColumns
	}
	return serverColumns
}

// SetColumns returns the columns this side writes.
func (r Role) SetColumns() Columns {
	if r == RoleServer {
		return serverColumns
	}
	return clientColumns
}
