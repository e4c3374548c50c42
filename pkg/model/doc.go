// Package model holds the declarative description of a device: the
// variables it exposes and the commands it accepts.
//
// Records are produced by the structure section of device messages and
// keyed by their full path (see package wire for path syntax). A
// Registry collects them for lookup by clients, the store bridge and the
// device simulator.
package model
