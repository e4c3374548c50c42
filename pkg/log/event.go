package log

import (
	"time"

	"github.com/rcedaq/daqlink-go/pkg/wire"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	Direction Direction `cbor:"3,keyasint"`
	Layer     Layer     `cbor:"4,keyasint"`
	Category  Category  `cbor:"5,keyasint"`

	// LocalRole indicates which kind of process captured the event.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address (host:port) or store DSN.
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Row         *RowEvent         `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerMarkup is the document layer (parsed and flattened).
	LayerMarkup Layer = 1
	// LayerMirror is the local state mirror and its dispatcher.
	LayerMirror Layer = 2
	// LayerStore is the shared relational store.
	LayerStore Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerMarkup:
		return "MARKUP"
	case LayerMirror:
		return "MIRROR"
	case LayerStore:
		return "STORE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message or store row.
	CategoryMessage Category = 0
	// CategoryControl indicates a control byte (quiet mode, terminators).
	CategoryControl Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role indicates the kind of process that captured the event.
type Role uint8

const (
	// RoleClient is a stream client observing a device.
	RoleClient Role = 0
	// RoleDevice is a device control server (or simulator).
	RoleDevice Role = 1
	// RoleBridge is a process relaying between a device and the store.
	RoleBridge Role = 2
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleClient:
		return "CLIENT"
	case RoleDevice:
		return "DEVICE"
	case RoleBridge:
		return "BRIDGE"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes, delimiter included.
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MaxFrameData bounds FrameEvent.Data.
const MaxFrameData = 4096

// NewFrameEvent builds a FrameEvent, truncating data to MaxFrameData.
func NewFrameEvent(data []byte, size int) *FrameEvent {
	fe := &FrameEvent{Size: size}
	if len(data) > MaxFrameData {
		fe.Data = append([]byte(nil), data[:MaxFrameData]...)
		fe.Truncated = true
	} else {
		fe.Data = append([]byte(nil), data...)
	}
	return fe
}

// MessageEvent summarizes one decoded document.
type MessageEvent struct {
	// Sections lists the category sections present in the document.
	Sections []wire.Category `cbor:"1,keyasint,omitempty"`

	// Updates is the number of flattened updates produced.
	Updates int `cbor:"2,keyasint"`

	// Paths holds the first few updated paths.
	Paths []string `cbor:"3,keyasint,omitempty"`
}

// StateChangeEvent captures connection and worker lifecycle events.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntityWorker indicates a background worker started or stopped.
	StateEntityWorker StateEntity = 1
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityWorker:
		return "WORKER"
	default:
		return "UNKNOWN"
	}
}

// RowEvent captures a row read from or written to the store.
type RowEvent struct {
	Table  string `cbor:"1,keyasint"`
	ID     string `cbor:"2,keyasint"`
	Value  string `cbor:"3,keyasint,omitempty"`
	Serial int64  `cbor:"4,keyasint"`

	// Dispatched is set for polled rows that reached the callbacks.
	Dispatched bool `cbor:"5,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
