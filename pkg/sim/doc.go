// Package sim provides a simulated data acquisition device.
//
// A System holds the device structure and its config and status values,
// applies config writes and commands, and renders reply frames. A Device
// serves a System over a transport.Server: every client gets a snapshot
// on connect, replies are broadcast, and a ticker advances the status
// counters while a run is active.
package sim
