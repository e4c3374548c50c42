package wire

import "github.com/rcedaq/daqlink-go/pkg/model"

// Delimiter terminates every message on the stream (form feed).
const Delimiter byte = '\f'

// RootElement is the document element of every message.
const RootElement = "system"

// Category identifies a section of a message.
type Category uint8

const (
	// CategoryConfig holds writable configuration values.
	CategoryConfig Category = 0
	// CategoryStatus holds read-only status values.
	CategoryStatus Category = 1
	// CategoryStructure describes variables and commands.
	CategoryStructure Category = 2
	// CategoryError carries an error message from the device.
	CategoryError Category = 3
	// CategoryCommand carries commands to the device.
	CategoryCommand Category = 4
)

// String returns the section element name for the category.
func (c Category) String() string {
	switch c {
	case CategoryConfig:
		return "config"
	case CategoryStatus:
		return "status"
	case CategoryStructure:
		return "structure"
	case CategoryError:
		return "error"
	case CategoryCommand:
		return "command"
	default:
		return "unknown"
	}
}

// ParseCategory maps a section element name to its category.
// "configuration" is accepted as a synonym for "config".
func ParseCategory(name string) (Category, bool) {
	switch name {
	case "config", "configuration":
		return CategoryConfig, true
	case "status":
		return CategoryStatus, true
	case "structure":
		return CategoryStructure, true
	case "error":
		return CategoryError, true
	case "command":
		return CategoryCommand, true
	default:
		return 0, false
	}
}

// CategoryForKind returns the value category of a variable kind.
func CategoryForKind(k model.Kind) Category {
	if k == model.KindStatus {
		return CategoryStatus
	}
	return CategoryConfig
}
