package model

import (
	"strconv"
	"strings"
)

// Kind tells which state category a variable belongs to.
type Kind uint8

const (
	// KindConfig is a writable configuration variable.
	KindConfig Kind = 0
	// KindStatus is a read-only status variable.
	KindStatus Kind = 1
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindStatus:
		return "status"
	default:
		return "unknown"
	}
}

// StatusType is the declared type that marks a variable as status.
// Any other type, including none, is configuration.
const StatusType = "Status"

// KindForType classifies a declared variable type.
func KindForType(typ string) Kind {
	if typ == StatusType {
		return KindStatus
	}
	return KindConfig
}

// Variable describes one configuration or status variable.
// Unset fields are empty strings, never absent.
type Variable struct {
	Path string
	Kind Kind

	// Type is the declared type as sent by the device.
	Type string

	// Enums lists the legal values in declaration order.
	Enums []string

	// Calibration coefficients and units, as sent.
	CompA     string
	CompB     string
	CompC     string
	CompUnits string

	Min string
	Max string

	PerInstance bool
	Hidden      bool
	Description string
}

// EnumString returns the legal values joined by commas.
func (v *Variable) EnumString() string {
	return strings.Join(v.Enums, ",")
}

// SplitEnums is the inverse of EnumString.
func SplitEnums(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// Allows reports whether value is legal for an enumerated variable.
// Variables without enumerated values accept anything.
func (v *Variable) Allows(value string) bool {
	if len(v.Enums) == 0 {
		return true
	}
	for _, e := range v.Enums {
		if e == value {
			return true
		}
	}
	return false
}

// InRange reports whether a numeric value lies within Min and Max.
// Bounds that are empty or not numeric are ignored, as are values that
// are not numeric.
func (v *Variable) InRange(value string) bool {
	x, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return true
	}
	if lo, err := strconv.ParseFloat(v.Min, 64); err == nil && x < lo {
		return false
	}
	if hi, err := strconv.ParseFloat(v.Max, 64); err == nil && x > hi {
		return false
	}
	return true
}

// Command describes a device command.
type Command struct {
	Path        string
	HasArg      bool
	Hidden      bool
	Description string
}

// Name returns the last path segment of the command.
func (c *Command) Name() string {
	if i := strings.LastIndexByte(c.Path, ':'); i >= 0 {
		return c.Path[i+1:]
	}
	return c.Path
}
